package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/nasscan/pkg/models"
)

// Filter narrows history queries and deletions. Zero fields match
// everything.
type Filter struct {
	Slug       string
	NasHost    string
	FolderPath string
}

// FolderInfo summarizes one measured folder across history.
type FolderInfo struct {
	NasHost     string    `json:"nas_host"`
	FolderPath  string    `json:"folder_path"`
	ResultCount int64     `json:"result_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Stats describes the state of the history store.
type Stats struct {
	ScanCount          int64      `json:"scan_count"`
	NasCount           int64      `json:"nas_count"`
	FolderCount        int64      `json:"folder_count"`
	TotalResults       int64      `json:"total_results_db"`
	DBSizeBytes        int64      `json:"db_size_bytes"`
	DBSizeMB           float64    `json:"db_size_mb"`
	MaxHistory         int        `json:"max_history"`
	AutoCleanupDays    int        `json:"auto_cleanup_days"`
	AutoCleanupEnabled bool       `json:"auto_cleanup_enabled"`
	OldestEntry        *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry        *time.Time `json:"newest_entry,omitempty"`
	DatabaseType       string     `json:"database_type"`
	DBPath             string     `json:"db_path,omitempty"`
}

// GetLatestResult returns the most recent execution for a slug,
// regardless of outcome, or nil when the slug has no history.
func (s *Store) GetLatestResult(ctx context.Context, slug string) (*models.ScanResult, error) {
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("scan_slug = ? AND timestamp = (SELECT MAX(timestamp) FROM scan_results WHERE scan_slug = ?)", slug, slug).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest result for %q: %w", slug, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return assembleResult(slug, rows), nil
}

// GetLatestCompletedResult returns the most recent execution that
// completed with at least one successful measurement carrying a
// non-zero byte count. Used as the progress baseline: a failed or empty
// run must never shadow the last good numbers.
func (s *Store) GetLatestCompletedResult(ctx context.Context, slug string) (*models.ScanResult, error) {
	var timestamps []time.Time
	err := s.db.WithContext(ctx).Model(&Record{}).
		Distinct("timestamp").
		Where("scan_slug = ? AND status = ? AND success = ? AND folder_path != ? AND total_size_bytes > 0",
			slug, string(models.StatusCompleted), true, SentinelPath).
		Order("timestamp DESC").
		Limit(1).
		Pluck("timestamp", &timestamps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query completed results for %q: %w", slug, err)
	}
	if len(timestamps) == 0 {
		return nil, nil
	}

	var rows []Record
	err = s.db.WithContext(ctx).
		Where("scan_slug = ? AND timestamp = ?", slug, timestamps[0]).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load result rows for %q: %w", slug, err)
	}
	return assembleResult(slug, rows), nil
}

// GetAllResults returns up to limit executions for a slug, newest first.
// A non-positive limit returns everything.
func (s *Store) GetAllResults(ctx context.Context, slug string, limit int) ([]*models.ScanResult, error) {
	tsQuery := s.db.WithContext(ctx).Model(&Record{}).
		Distinct("timestamp").
		Where("scan_slug = ?", slug).
		Order("timestamp DESC")
	if limit > 0 {
		tsQuery = tsQuery.Limit(limit)
	}

	var timestamps []time.Time
	if err := tsQuery.Pluck("timestamp", &timestamps).Error; err != nil {
		return nil, fmt.Errorf("failed to query executions for %q: %w", slug, err)
	}
	if len(timestamps) == 0 {
		return []*models.ScanResult{}, nil
	}

	var rows []Record
	err := s.db.WithContext(ctx).
		Where("scan_slug = ? AND timestamp IN ?", slug, timestamps).
		Order("timestamp DESC, folder_path ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load result rows for %q: %w", slug, err)
	}

	return assembleResults(slug, rows), nil
}

// GetResultsSince returns every execution at or after the given time,
// newest first.
func (s *Store) GetResultsSince(ctx context.Context, slug string, since time.Time) ([]*models.ScanResult, error) {
	var rows []Record
	err := s.db.WithContext(ctx).
		Where("scan_slug = ? AND timestamp >= ?", slug, since.UTC()).
		Order("timestamp DESC, folder_path ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query results since %s for %q: %w", since.Format(time.RFC3339), slug, err)
	}
	return assembleResults(slug, rows), nil
}

// GetAllScanSlugs returns every slug with at least one history row.
func (s *Store) GetAllScanSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	err := s.db.WithContext(ctx).Model(&Record{}).
		Distinct("scan_slug").
		Order("scan_slug ASC").
		Pluck("scan_slug", &slugs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query scan slugs: %w", err)
	}
	return slugs, nil
}

// GetAllFolders lists every measured folder, optionally narrowed by NAS
// host or folder path. Sentinel rows are excluded.
func (s *Store) GetAllFolders(ctx context.Context, filter Filter) ([]FolderInfo, error) {
	q := s.db.WithContext(ctx).Model(&Record{}).
		Select("nas_host, folder_path, COUNT(*) as result_count, MIN(timestamp) as first_seen, MAX(timestamp) as last_seen").
		Where("folder_path != ?", SentinelPath).
		Group("nas_host, folder_path").
		Order("nas_host ASC, folder_path ASC")

	if filter.Slug != "" {
		q = q.Where("scan_slug = ?", filter.Slug)
	}
	if filter.NasHost != "" {
		q = q.Where("nas_host = ?", filter.NasHost)
	}
	if filter.FolderPath != "" {
		q = q.Where("folder_path = ?", models.NormalizePath(filter.FolderPath))
	}

	var folders []FolderInfo
	if err := q.Scan(&folders).Error; err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	return folders, nil
}

// GetStats returns aggregate information about the store.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		MaxHistory:         s.config.MaxHistory,
		AutoCleanupDays:    s.config.RetentionDays,
		AutoCleanupEnabled: s.config.AutoCleanupEnabled(),
		DatabaseType:       string(s.config.Type),
	}

	model := func() *gorm.DB { return s.db.WithContext(ctx).Model(&Record{}) }

	if err := model().Distinct("scan_slug").Count(&stats.ScanCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}
	if err := model().Distinct("nas_host").Count(&stats.NasCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count NAS hosts: %w", err)
	}
	if err := model().Where("folder_path != ?", SentinelPath).
		Distinct("nas_host", "folder_path").Count(&stats.FolderCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count folders: %w", err)
	}
	if err := model().Count(&stats.TotalResults).Error; err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetTotalRows(stats.TotalResults)
	}

	var bounds struct {
		Oldest *time.Time
		Newest *time.Time
	}
	if err := model().
		Select("MIN(timestamp) as oldest, MAX(timestamp) as newest").
		Scan(&bounds).Error; err != nil {
		return nil, fmt.Errorf("failed to query timestamp bounds: %w", err)
	}
	stats.OldestEntry = bounds.Oldest
	stats.NewestEntry = bounds.Newest

	if s.config.Type == DatabaseTypeSQLite {
		stats.DBPath = s.config.SQLite.EffectivePath()
		stats.DBSizeBytes = s.config.DBFileSize()
		stats.DBSizeMB = float64(stats.DBSizeBytes) / (1024 * 1024)
	}

	return stats, nil
}

// assembleResult rebuilds a ScanResult from the rows of one execution.
// Sentinel rows contribute status and error but never appear as items.
func assembleResult(slug string, rows []Record) *models.ScanResult {
	if len(rows) == 0 {
		return nil
	}

	result := &models.ScanResult{
		Slug:      slug,
		Name:      rows[0].ScanName,
		Timestamp: rows[0].Timestamp,
		Status:    models.Status(rows[0].Status),
		Items:     make([]models.ScanResultItem, 0, len(rows)),
	}

	for _, row := range rows {
		if row.ScanError != nil {
			result.Error = *row.ScanError
		}
		if row.FolderPath == SentinelPath {
			continue
		}
		result.Items = append(result.Items, row.toItem())
	}

	sort.Slice(result.Items, func(i, j int) bool {
		return result.Items[i].FolderName < result.Items[j].FolderName
	})

	return result
}

// assembleResults groups rows by timestamp and rebuilds one ScanResult
// per execution, newest first.
func assembleResults(slug string, rows []Record) []*models.ScanResult {
	groups := make(map[time.Time][]Record)
	order := make([]time.Time, 0)
	for _, row := range rows {
		if _, seen := groups[row.Timestamp]; !seen {
			order = append(order, row.Timestamp)
		}
		groups[row.Timestamp] = append(groups[row.Timestamp], row)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].After(order[j]) })

	results := make([]*models.ScanResult, 0, len(order))
	for _, ts := range order {
		results = append(results, assembleResult(slug, groups[ts]))
	}
	return results
}
