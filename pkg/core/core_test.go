package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/history"
	"github.com/marmos91/nasscan/pkg/models"
	"github.com/marmos91/nasscan/pkg/nas"
	"github.com/marmos91/nasscan/pkg/poll"
	"github.com/marmos91/nasscan/pkg/scan"
	"github.com/marmos91/nasscan/pkg/scheduler"
)

// fakeNASClient answers every path with a fixed finished measurement.
type fakeNASClient struct {
	size uint64
}

func (c *fakeNASClient) Login(context.Context) error  { return nil }
func (c *fakeNASClient) Logout(context.Context) error { return nil }
func (c *fakeNASClient) Host() string                 { return "nas.test" }

func (c *fakeNASClient) StartDirSize(_ context.Context, path string) (string, error) {
	return "task:" + path, nil
}

func (c *fakeNASClient) PollDirSize(context.Context, string) (*nas.DirSizeStatus, error) {
	return &nas.DirSizeStatus{Finished: true, NumDir: 2, NumFile: 5, TotalSize: c.size}, nil
}

func (c *fakeNASClient) StopTask(context.Context, string, bool) error { return nil }
func (c *fakeNASClient) ListBackgroundTasks(context.Context) ([]nas.BackgroundTask, error) {
	return nil, nil
}
func (c *fakeNASClient) UntrackTask(string)                        {}
func (c *fakeNASClient) CleanupTasks(context.Context)              {}
func (c *fakeNASClient) CleanupBackgroundTasks(context.Context) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Scans: []config.ScanConfig{
			{
				Name:     "Media Library",
				Slug:     "media-library",
				NAS:      config.NASConfig{Host: "nas.test", Username: "admin", Password: "x"},
				Paths:    []string{"/photo"},
				Interval: "1h",
			},
			{
				Name:     "Backups",
				Slug:     "backups",
				NAS:      config.NASConfig{Host: "nas.test", Username: "admin", Password: "x"},
				Shares:   []string{"backup"},
				Interval: "0 3 * * *",
			},
		},
	}
}

func newTestCore(t *testing.T) (*Core, *history.Store) {
	t.Helper()
	return newTestCoreWithClient(t, &fakeNASClient{size: 4096})
}

func newTestCoreWithClient(t *testing.T, client nas.Client) (*Core, *history.Store) {
	t.Helper()

	store, err := history.New(&history.Config{
		Type:   history.DatabaseTypeSQLite,
		SQLite: history.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	})
	require.NoError(t, err)

	executor := scan.NewExecutor(store, scan.Options{
		Poll: poll.Options{
			InitialDelay:     time.Millisecond,
			MinInterval:      time.Millisecond,
			MaxInterval:      2 * time.Millisecond,
			IntervalStep:     time.Millisecond,
			RetryLookupDelay: time.Millisecond,
			Error599Sleep:    time.Millisecond,
			Error599Pause:    time.Millisecond,
			MaxWait:          time.Second,
		},
		Grace:     time.Millisecond,
		NewClient: func(nas.Config) nas.Client { return client },
	})

	cfg := testConfig()
	sched := scheduler.New(executor, nil, scheduler.Options{ReloadInterval: -1})
	sched.Load(cfg.Scans)

	c := New(cfg, "", store, executor, sched)
	return c, store
}

// blockingClient stalls every poll until released.
type blockingClient struct {
	fakeNASClient
	release chan struct{}
}

func (c *blockingClient) PollDirSize(ctx context.Context, taskID string) (*nas.DirSizeStatus, error) {
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.fakeNASClient.PollDirSize(ctx, taskID)
}

func TestListScans(t *testing.T) {
	c, _ := newTestCore(t)

	scans := c.ListScans(context.Background())
	require.Len(t, scans, 2)

	assert.Equal(t, "media-library", scans[0].Slug)
	assert.Equal(t, "nas.test", scans[0].NasHost)
	assert.True(t, scans[0].Enabled)
	assert.False(t, scans[0].Running)
	assert.Equal(t, "every 1h0m0s", scans[0].Trigger)
	assert.Nil(t, scans[0].LastRun)

	assert.Equal(t, "backups", scans[1].Slug)
	assert.Equal(t, "cron 0 3 * * *", scans[1].Trigger)
}

func TestGetScanBySlugAndName(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	bySlug, err := c.GetScan(ctx, "media-library")
	require.NoError(t, err)
	assert.Equal(t, "Media Library", bySlug.Name)

	byName, err := c.GetScan(ctx, "media library")
	require.NoError(t, err)
	assert.Equal(t, "media-library", byName.Slug)

	_, err = c.GetScan(ctx, "nope")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestTriggerScanRunsAndPersists(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()
	c.Start(ctx)

	result, err := c.TriggerScan("media-library")
	require.NoError(t, err)
	assert.True(t, result.Triggered)

	require.Eventually(t, func() bool {
		latest, err := store.GetLatestResult(ctx, "media-library")
		return err == nil && latest != nil && latest.Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	scans := c.ListScans(ctx)
	require.NotNil(t, scans[0].LastRun)
	assert.Equal(t, models.StatusCompleted, scans[0].LastRun.Status)
}

func TestTriggerScanIdempotentWhileRunning(t *testing.T) {
	client := &blockingClient{fakeNASClient: fakeNASClient{size: 1}, release: make(chan struct{})}
	c, _ := newTestCoreWithClient(t, client)
	c.Start(context.Background())

	first, err := c.TriggerScan("backups")
	require.NoError(t, err)
	require.True(t, first.Triggered)

	require.Eventually(t, func() bool {
		status, err := c.GetScanStatus("backups")
		return err == nil && status.Running
	}, 5*time.Second, time.Millisecond)

	second, err := c.TriggerScan("backups")
	require.NoError(t, err)
	assert.False(t, second.Triggered)
	assert.Contains(t, second.Reason, "already running")

	close(client.release)
	require.Eventually(t, func() bool {
		status, err := c.GetScanStatus("backups")
		return err == nil && !status.Running
	}, 5*time.Second, time.Millisecond)
}

func TestTriggerUnknownScan(t *testing.T) {
	c, _ := newTestCore(t)

	_, err := c.TriggerScan("missing")
	assert.ErrorIs(t, err, ErrScanNotFound)
}

func TestGetScanResultsLatest(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()

	size := models.NewTotalSize(1000)
	for day := 1; day <= 3; day++ {
		result := &models.ScanResult{
			Slug:      "media-library",
			Name:      "Media Library",
			Timestamp: time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC),
			Items: []models.ScanResultItem{
				{FolderName: "/photo", Success: true, NumDir: 1, NumFile: 2, TotalSize: &size},
			},
		}
		result.Finalize()
		require.NoError(t, store.AddResult(ctx, "media-library", "Media Library", result, "nas.test"))
	}

	latest, err := c.GetScanResults(ctx, "media-library", true)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC), latest[0].Timestamp)

	all, err := c.GetScanResults(ctx, "media-library", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	since := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	recent, err := c.GetScanHistory(ctx, "media-library", &since, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestGetScanStatusAndProgress(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()
	c.Start(ctx)

	status, err := c.GetScanStatus("media-library")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Nil(t, status.Live, "no live state before the first run")

	progress, err := c.GetScanProgress(ctx, "media-library")
	require.NoError(t, err)
	assert.Nil(t, progress.Percent)

	// Seed a baseline and run once; afterwards the snapshot is present
	// and the oracle reports completion.
	result, err := c.TriggerScan("media-library")
	require.NoError(t, err)
	require.True(t, result.Triggered)

	require.Eventually(t, func() bool {
		latest, err := store.GetLatestResult(ctx, "media-library")
		return err == nil && latest != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		status, err := c.GetScanStatus("media-library")
		return err == nil && status.Live != nil && status.Live.Finished
	}, 5*time.Second, 10*time.Millisecond)

	progress, err = c.GetScanProgress(ctx, "media-library")
	require.NoError(t, err)
	require.NotNil(t, progress.Percent)
	assert.InDelta(t, 100.0, *progress.Percent, 0.001)
}

func TestHealthReportsJobsAndWarnings(t *testing.T) {
	c, _ := newTestCore(t)

	health := c.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Scans)
	assert.Equal(t, 2, health.Jobs)
	assert.Empty(t, health.Warnings)
}

func TestStorageOperations(t *testing.T) {
	c, store := newTestCore(t)
	ctx := context.Background()

	size := models.NewTotalSize(1000)
	result := &models.ScanResult{
		Slug:      "media-library",
		Name:      "Media Library",
		Timestamp: time.Now().UTC().Add(-200 * 24 * time.Hour).Truncate(time.Second),
		Items: []models.ScanResultItem{
			{FolderName: "/photo", Success: true, NumDir: 1, NumFile: 2, TotalSize: &size},
		},
	}
	result.Finalize()
	require.NoError(t, store.AddResult(ctx, "media-library", "Media Library", result, "nas.test"))

	stats, err := c.GetStorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalResults)

	folders, err := c.GetAllFolders(ctx, history.Filter{})
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "/photo", folders[0].FolderPath)

	preview, err := c.CleanupPreview(ctx, 90, history.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), preview.DeletedCount)
	assert.True(t, preview.DryRun)

	cleaned, err := c.Cleanup(ctx, 90, history.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleaned.DeletedCount)

	deleted, err := c.DeleteAllResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "cleanup already removed everything")
}
