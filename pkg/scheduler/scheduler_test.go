package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	running map[string]bool
	status  models.Status
}

func (r *fakeRunner) Run(_ context.Context, sc *config.ScanConfig) *models.ScanResult {
	r.mu.Lock()
	r.runs = append(r.runs, sc.Slug)
	r.mu.Unlock()

	status := r.status
	if status == "" {
		status = models.StatusCompleted
	}
	return &models.ScanResult{Slug: sc.Slug, Status: status, Timestamp: time.Now().UTC()}
}

func (r *fakeRunner) IsRunning(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[slug]
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func scanCfg(slug, interval string, createdAt time.Time) config.ScanConfig {
	return config.ScanConfig{
		Name:      "Scan " + slug,
		Slug:      slug,
		CreatedAt: createdAt,
		NAS:       config.NASConfig{Host: "nas.test", Username: "admin", Password: "x"},
		Paths:     []string{"/" + slug},
		Interval:  interval,
	}
}

func staticScans(scans ...config.ScanConfig) LoadFunc {
	return func() ([]config.ScanConfig, error) {
		return scans, nil
	}
}

func newTestScheduler(runner Runner, load LoadFunc) *Scheduler {
	return New(runner, load, Options{ReloadInterval: -1})
}

func TestDedupeKeepsOldest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	newer := scanCfg("backup", "1h", t0.Add(time.Hour))
	older := scanCfg("backup", "1h", t0)
	other := scanCfg("media", "1h", t0)

	kept, warnings := dedupeScans([]config.ScanConfig{newer, other, older})

	require.Len(t, kept, 2)
	assert.Equal(t, "backup", kept[0].Slug)
	assert.Equal(t, t0, kept[0].CreatedAt, "the oldest created_at wins")
	assert.Equal(t, "media", kept[1].Slug)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `duplicate slug "backup"`)
}

func TestDedupeTieKeepsFileOrder(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := scanCfg("backup", "1h", t0)
	first.Name = "First"
	second := scanCfg("backup", "1h", t0)
	second.Name = "Second"

	kept, warnings := dedupeScans([]config.ScanConfig{first, second})

	require.Len(t, kept, 1)
	assert.Equal(t, "First", kept[0].Name)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"Second"`)
}

func TestLoadSchedulesEnabledScans(t *testing.T) {
	disabled := scanCfg("off", "1h", time.Now())
	off := false
	disabled.Enabled = &off

	s := newTestScheduler(&fakeRunner{}, nil)
	s.Load([]config.ScanConfig{
		scanCfg("backup", "1h", time.Now()),
		scanCfg("media", "0 3 * * *", time.Now()),
		disabled,
	})

	jobs := s.GetAllJobs()
	require.Len(t, jobs, 2)
	assert.Contains(t, jobs, "backup")
	assert.Contains(t, jobs, "media")
	assert.Equal(t, "every 1h0m0s", jobs["backup"].Trigger)
	assert.Equal(t, "cron 0 3 * * *", jobs["media"].Trigger)
}

func TestLoadSkipsInvalidInterval(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, nil)
	s.Load([]config.ScanConfig{
		scanCfg("bad", "whenever", time.Now()),
		scanCfg("good", "30m", time.Now()),
	})

	jobs := s.GetAllJobs()
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs, "good")
}

func TestLoadRecordsDuplicateWarnings(t *testing.T) {
	t0 := time.Now()
	s := newTestScheduler(&fakeRunner{}, nil)
	s.Load([]config.ScanConfig{
		scanCfg("backup", "1h", t0),
		scanCfg("backup", "1h", t0.Add(time.Minute)),
	})

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "duplicate slug")
	assert.Len(t, s.GetAllJobs(), 1)
}

func TestReloadDiff(t *testing.T) {
	t0 := time.Now()

	kept := scanCfg("kept", "1h", t0)
	changed := scanCfg("changed", "1h", t0)
	removed := scanCfg("removed", "1h", t0)

	var (
		mu    sync.Mutex
		scans []config.ScanConfig
	)
	load := func() ([]config.ScanConfig, error) {
		mu.Lock()
		defer mu.Unlock()
		return scans, nil
	}

	s := New(&fakeRunner{}, load, Options{ReloadInterval: -1})
	s.Load([]config.ScanConfig{kept, changed, removed})
	require.Len(t, s.GetAllJobs(), 3)

	// Next load: "removed" gone, "changed" on a new interval,
	// "added" is new, "kept" only renamed.
	changed.Interval = "2h"
	keptRenamed := kept
	keptRenamed.Name = "Renamed"
	added := scanCfg("added", "15m", t0)

	mu.Lock()
	scans = []config.ScanConfig{keptRenamed, changed, added}
	mu.Unlock()

	result, err := s.Reload()
	require.NoError(t, err)

	assert.Equal(t, []string{"added"}, result.Added)
	assert.Equal(t, []string{"changed"}, result.Updated)
	assert.Equal(t, []string{"removed"}, result.Removed)
	assert.Equal(t, 3, result.Total)

	jobs := s.GetAllJobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "every 2h0m0s", jobs["changed"].Trigger)
	assert.Equal(t, "Renamed", jobs["kept"].Name, "rename applies without rescheduling")
	assert.NotContains(t, jobs, "removed")
}

func TestReloadDisabledScanRemovesJob(t *testing.T) {
	sc := scanCfg("backup", "1h", time.Now())

	s := newTestScheduler(&fakeRunner{}, staticScans(func() config.ScanConfig {
		off := false
		disabled := sc
		disabled.Enabled = &off
		return disabled
	}()))
	s.Load([]config.ScanConfig{sc})
	require.Len(t, s.GetAllJobs(), 1)

	result, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"backup"}, result.Removed)
	assert.Empty(t, s.GetAllJobs())
}

func TestJobInfoReportsNextRun(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, nil)
	s.Load([]config.ScanConfig{scanCfg("backup", "1h", time.Now())})
	s.Start(context.Background())
	defer s.Stop()

	info, ok := s.GetJobInfo("backup")
	require.True(t, ok)
	assert.Equal(t, "backup", info.Slug)
	assert.Equal(t, "every 1h0m0s", info.Trigger)
	assert.WithinDuration(t, time.Now().Add(time.Hour), info.NextRun, 5*time.Second)

	_, ok = s.GetJobInfo("missing")
	assert.False(t, ok)
}

func TestIntervalTriggerFires(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(runner, nil)
	s.Load([]config.ScanConfig{scanCfg("backup", "1s", time.Now())})
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.runCount() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFiringSkippedWhileRunning(t *testing.T) {
	runner := &fakeRunner{running: map[string]bool{"backup": true}}
	s := newTestScheduler(runner, nil)
	s.Load([]config.ScanConfig{scanCfg("backup", "1h", time.Now())})

	s.mu.Lock()
	j := s.jobs["backup"]
	s.mu.Unlock()
	require.NotNil(t, j)

	s.runScan(j)
	assert.Equal(t, 0, runner.runCount())
}

func TestMisfireGraceDropsLateFiring(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil, Options{ReloadInterval: -1, MisfireGrace: time.Minute})
	s.Load([]config.ScanConfig{scanCfg("backup", "1h", time.Now())})

	s.mu.Lock()
	j := s.jobs["backup"]
	j.nextAt = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	s.runScan(j)
	assert.Equal(t, 0, runner.runCount(), "a firing 2m late against a 1m grace is dropped")

	// The next expectation moved forward, a punctual firing runs.
	s.runScan(j)
	assert.Equal(t, 1, runner.runCount())
}
