package history

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/models"
)

// CleanupStats reports the outcome of a retention pass.
type CleanupStats struct {
	Days         int       `json:"days"`
	Cutoff       time.Time `json:"cutoff"`
	DeletedCount int64     `json:"deleted_count"`
	DryRun       bool      `json:"dry_run"`
}

// CleanupOldResults removes (or, in dry-run mode, counts) rows older
// than days. A non-empty filter narrows the pass to one NAS or folder.
// After a real deletion the SQLite file is compacted.
func (s *Store) CleanupOldResults(ctx context.Context, days int, filter Filter, dryRun bool) (*CleanupStats, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	stats := &CleanupStats{Days: days, Cutoff: cutoff, DryRun: dryRun}

	q := s.db.WithContext(ctx).Model(&Record{}).Where("timestamp < ?", cutoff)
	if filter.Slug != "" {
		q = q.Where("scan_slug = ?", filter.Slug)
	}
	if filter.NasHost != "" {
		q = q.Where("nas_host = ?", filter.NasHost)
	}
	if filter.FolderPath != "" {
		q = q.Where("folder_path = ?", models.NormalizePath(filter.FolderPath))
	}

	if dryRun {
		if err := q.Count(&stats.DeletedCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count old results: %w", err)
		}
		return stats, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := q.Delete(&Record{})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to delete old results: %w", res.Error)
	}
	stats.DeletedCount = res.RowsAffected

	if stats.DeletedCount > 0 {
		s.vacuum(ctx)
	}

	return stats, nil
}

// DeleteFolderResults removes the rows matching the filter. At least
// one filter field must be set; deleting everything goes through
// DeleteAllResults instead.
func (s *Store) DeleteFolderResults(ctx context.Context, filter Filter) (int64, error) {
	if filter.Slug == "" && filter.NasHost == "" && filter.FolderPath == "" {
		return 0, fmt.Errorf("at least one of slug, nas_host or folder_path is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	q := s.db.WithContext(ctx)
	if filter.Slug != "" {
		q = q.Where("scan_slug = ?", filter.Slug)
	}
	if filter.NasHost != "" {
		q = q.Where("nas_host = ?", filter.NasHost)
	}
	if filter.FolderPath != "" {
		q = q.Where("folder_path = ?", models.NormalizePath(filter.FolderPath))
	}

	res := q.Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete folder results: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteScanResults removes every row recorded for one slug.
func (s *Store) DeleteScanResults(ctx context.Context, slug string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("scan_slug = ?", slug).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete results for %q: %w", slug, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAllResults wipes the history table and compacts the database.
func (s *Store) DeleteAllResults(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete all results: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.vacuum(ctx)
	}

	return res.RowsAffected, nil
}

// vacuum compacts the SQLite database file. No-op on other backends;
// failures are logged, not fatal.
func (s *Store) vacuum(ctx context.Context) {
	if s.config.Type != DatabaseTypeSQLite {
		return
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		logger.Warn("database vacuum failed", logger.Err(err))
	}
}
