package core

import (
	"context"
	"time"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/history"
	"github.com/marmos91/nasscan/pkg/models"
	"github.com/marmos91/nasscan/pkg/scan"
	"github.com/marmos91/nasscan/pkg/scheduler"
)

// LastRun summarizes the most recent persisted execution of a scan.
type LastRun struct {
	Timestamp time.Time     `json:"timestamp"`
	Status    models.Status `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// ScanSummary is the descriptor view served by ListScans. It carries no
// credentials.
type ScanSummary struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Enabled  bool     `json:"enabled"`
	NasHost  string   `json:"nas_host"`
	NasPort  int      `json:"nas_port"`
	Shares   []string `json:"shares,omitempty"`
	Folders  []string `json:"folders,omitempty"`
	Paths    []string `json:"paths,omitempty"`
	Interval string   `json:"interval"`

	Trigger string     `json:"trigger,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
	Running bool       `json:"running"`
	LastRun *LastRun   `json:"last_run,omitempty"`
}

// StatusInfo is the live state of one scan.
type StatusInfo struct {
	Slug    string         `json:"slug"`
	Running bool           `json:"running"`
	Live    *scan.Snapshot `json:"live,omitempty"`
}

// ProgressInfo augments the live state with the estimated completion
// percentage against the latest completed baseline.
type ProgressInfo struct {
	StatusInfo
	Percent *float64 `json:"percent,omitempty"`
}

// TriggerResult reports whether a manual trigger started a run.
type TriggerResult struct {
	Slug      string `json:"slug"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
}

// HealthInfo is the liveness view, including the duplicate-slug
// warnings from the last config load.
type HealthInfo struct {
	Status   string   `json:"status"`
	Scans    int      `json:"scans"`
	Jobs     int      `json:"jobs"`
	Warnings []string `json:"warnings,omitempty"`
}

// ListScans returns a summary for every configured scan.
func (c *Core) ListScans(ctx context.Context) []ScanSummary {
	scans := c.scans()
	summaries := make([]ScanSummary, 0, len(scans))
	for i := range scans {
		summaries = append(summaries, c.summarize(ctx, &scans[i]))
	}
	return summaries
}

// GetScan resolves one scan by slug or name.
func (c *Core) GetScan(ctx context.Context, slugOrName string) (*ScanSummary, error) {
	sc, err := c.findScan(slugOrName)
	if err != nil {
		return nil, err
	}
	summary := c.summarize(ctx, sc)
	return &summary, nil
}

func (c *Core) summarize(ctx context.Context, sc *config.ScanConfig) ScanSummary {
	summary := ScanSummary{
		Name:     sc.Name,
		Slug:     sc.Slug,
		Enabled:  sc.IsEnabled(),
		NasHost:  sc.NAS.Host,
		NasPort:  sc.NAS.EffectivePort(),
		Shares:   sc.Shares,
		Folders:  sc.Folders,
		Paths:    sc.Paths,
		Interval: sc.Interval,
		Running:  c.executor.IsRunning(sc.Slug),
	}

	if info, ok := c.scheduler.GetJobInfo(sc.Slug); ok {
		summary.Trigger = info.Trigger
		if !info.NextRun.IsZero() {
			next := info.NextRun
			summary.NextRun = &next
		}
	}

	if latest, err := c.store.GetLatestResult(ctx, sc.Slug); err != nil {
		logger.Warn("failed to read last run", logger.Slug(sc.Slug), logger.Err(err))
	} else if latest != nil {
		summary.LastRun = &LastRun{
			Timestamp: latest.Timestamp,
			Status:    latest.Status,
			Error:     latest.Error,
		}
	}

	return summary
}

// GetScanStatus returns the live state of a scan.
func (c *Core) GetScanStatus(slug string) (*StatusInfo, error) {
	sc, err := c.findScan(slug)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{Slug: sc.Slug, Running: c.executor.IsRunning(sc.Slug)}
	if snap, ok := c.executor.Status(sc.Slug); ok {
		info.Live = &snap
	}
	return info, nil
}

// GetScanProgress returns the live state augmented with the oracle's
// completion estimate. Percent is nil when no usable baseline exists or
// the scan has never run in this process.
func (c *Core) GetScanProgress(ctx context.Context, slug string) (*ProgressInfo, error) {
	status, err := c.GetScanStatus(slug)
	if err != nil {
		return nil, err
	}

	progress := &ProgressInfo{StatusInfo: *status}
	if status.Live == nil {
		return progress, nil
	}

	pct, err := c.oracle.Estimate(ctx, status.Slug, *status.Live)
	if err != nil {
		logger.Warn("progress estimate failed", logger.Slug(status.Slug), logger.Err(err))
		return progress, nil
	}
	progress.Percent = pct
	return progress, nil
}

// TriggerScan starts a scan manually. Idempotent: a scan that is
// already running is not started again.
func (c *Core) TriggerScan(slug string) (*TriggerResult, error) {
	sc, err := c.findScan(slug)
	if err != nil {
		return nil, err
	}

	if c.executor.IsRunning(sc.Slug) {
		return &TriggerResult{Slug: sc.Slug, Triggered: false, Reason: "scan is already running"}, nil
	}

	c.mu.RLock()
	ctx := c.baseCtx
	c.mu.RUnlock()

	run := *sc
	go func() {
		result := c.executor.Run(ctx, &run)
		logger.Info("triggered scan finished",
			logger.Slug(run.Slug), logger.Status(string(result.Status)))
	}()

	logger.Info("scan triggered", logger.Slug(sc.Slug))
	return &TriggerResult{Slug: sc.Slug, Triggered: true}, nil
}

// GetScanResults returns the latest result, or the full history when
// latest is false.
func (c *Core) GetScanResults(ctx context.Context, slug string, latest bool) ([]*models.ScanResult, error) {
	sc, err := c.findScan(slug)
	if err != nil {
		return nil, err
	}

	if latest {
		result, err := c.store.GetLatestResult(ctx, sc.Slug)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return []*models.ScanResult{}, nil
		}
		return []*models.ScanResult{result}, nil
	}

	return c.store.GetAllResults(ctx, sc.Slug, 0)
}

// GetScanHistory returns persisted results, optionally bounded to those
// newer than since and to the newest limit executions.
func (c *Core) GetScanHistory(ctx context.Context, slug string, since *time.Time, limit int) ([]*models.ScanResult, error) {
	sc, err := c.findScan(slug)
	if err != nil {
		return nil, err
	}

	if since != nil {
		return c.store.GetResultsSince(ctx, sc.Slug, *since)
	}
	return c.store.GetAllResults(ctx, sc.Slug, limit)
}

// ReloadConfig re-reads the configuration and diff-applies it to the
// scheduler.
func (c *Core) ReloadConfig() (*scheduler.ReloadResult, error) {
	return c.scheduler.Reload()
}

// Health reports liveness plus the duplicate-slug warnings.
func (c *Core) Health() HealthInfo {
	return HealthInfo{
		Status:   "ok",
		Scans:    len(c.scans()),
		Jobs:     len(c.scheduler.GetAllJobs()),
		Warnings: c.scheduler.Warnings(),
	}
}

// GetStorageStats returns history database statistics.
func (c *Core) GetStorageStats(ctx context.Context) (*history.Stats, error) {
	return c.store.GetStats(ctx)
}

// GetAllFolders lists the distinct measured folders.
func (c *Core) GetAllFolders(ctx context.Context, filter history.Filter) ([]history.FolderInfo, error) {
	return c.store.GetAllFolders(ctx, filter)
}

// CleanupPreview counts the rows a retention cleanup would delete.
func (c *Core) CleanupPreview(ctx context.Context, days int, filter history.Filter) (*history.CleanupStats, error) {
	return c.store.CleanupOldResults(ctx, days, filter, true)
}

// Cleanup deletes rows older than the given number of days.
func (c *Core) Cleanup(ctx context.Context, days int, filter history.Filter) (*history.CleanupStats, error) {
	return c.store.CleanupOldResults(ctx, days, filter, false)
}

// DeleteFolderResults deletes the records matching the filter. At
// least one filter field is required.
func (c *Core) DeleteFolderResults(ctx context.Context, filter history.Filter) (int64, error) {
	return c.store.DeleteFolderResults(ctx, filter)
}

// DeleteScanResults deletes every record of one scan.
func (c *Core) DeleteScanResults(ctx context.Context, slug string) (int64, error) {
	return c.store.DeleteScanResults(ctx, slug)
}

// DeleteAllResults wipes the history.
func (c *Core) DeleteAllResults(ctx context.Context) (int64, error) {
	return c.store.DeleteAllResults(ctx)
}
