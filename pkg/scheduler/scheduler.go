// Package scheduler owns the registry of scan jobs: it fires executions
// on cron or interval triggers, drops overlapping firings, and
// periodically re-reads the configuration to diff-apply changes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/models"
)

const (
	defaultReloadInterval = 5 * time.Minute
	defaultMisfireGrace   = time.Hour
	defaultStopTimeout    = 30 * time.Second
)

// Runner executes one scan. The executor satisfies this.
type Runner interface {
	Run(ctx context.Context, sc *config.ScanConfig) *models.ScanResult
	IsRunning(slug string) bool
}

// LoadFunc re-reads the scan descriptors from their source. It is
// called on every reload tick and on demand.
type LoadFunc func() ([]config.ScanConfig, error)

// Options configure the scheduler.
type Options struct {
	// ReloadInterval is how often LoadFunc is re-run and diff-applied.
	// Zero means 5 minutes; negative disables automatic reloads.
	ReloadInterval time.Duration

	// MisfireGrace is how late a firing may still run. A firing that
	// lands later than this past its scheduled time (suspend/resume,
	// clock jumps) is dropped instead of executed. Default: 1 hour.
	MisfireGrace time.Duration

	// StopTimeout bounds the wait for in-flight jobs on Stop.
	StopTimeout time.Duration
}

// ReloadResult describes one diff-apply of the configuration.
type ReloadResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
	Total   int      `json:"total"`
}

// JobInfo is the queryable state of one scheduled scan.
type JobInfo struct {
	Slug    string    `json:"slug"`
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	Trigger string    `json:"trigger"`
}

// job is one registered scan with its cron entry.
type job struct {
	entry    cron.EntryID
	scan     config.ScanConfig
	trigger  config.Trigger
	schedule cron.Schedule

	// nextAt is the expected next firing, used for the misfire check.
	// Guarded by the scheduler mutex.
	nextAt time.Time

	// fields is the TriggerFields fingerprint used by the reload diff.
	fields string
}

// Scheduler dispatches scan executions. One job per slug; a firing that
// lands while the previous run is still active is dropped, missed
// firings never queue up.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	load   LoadFunc
	opts   Options

	mu       sync.Mutex
	jobs     map[string]*job
	warnings []string
	baseCtx  context.Context
	started  bool
}

// New creates a scheduler dispatching to the given runner.
func New(runner Runner, load LoadFunc, opts Options) *Scheduler {
	if opts.ReloadInterval == 0 {
		opts.ReloadInterval = defaultReloadInterval
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = defaultMisfireGrace
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	cl := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:  runner,
		load:    load,
		opts:    opts,
		jobs:    make(map[string]*job),
		baseCtx: context.Background(),
	}
}

// Load registers jobs for every enabled scan in the list. Duplicate
// slugs keep the scan with the oldest CreatedAt (ties broken by file
// order); the dropped ones are recorded as warnings. Scans with an
// invalid interval are logged and skipped.
func (s *Scheduler) Load(scans []config.ScanConfig) {
	kept, warnings := dedupeScans(scans)

	s.mu.Lock()
	s.warnings = warnings
	s.mu.Unlock()
	for _, w := range warnings {
		logger.Warn(w)
	}

	for _, sc := range kept {
		if !sc.IsEnabled() {
			logger.Info("scan disabled, not scheduling", logger.Slug(sc.Slug))
			continue
		}
		if err := s.addJob(sc); err != nil {
			logger.Error("failed to schedule scan", logger.Slug(sc.Slug), logger.Err(err))
		}
	}
}

// Start begins firing triggers. ctx is the lifetime handed to every
// scan execution; cancelling it propagates down to the polling loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.opts.ReloadInterval > 0 {
		s.cron.Schedule(cron.Every(s.opts.ReloadInterval), cron.FuncJob(func() {
			result, err := s.Reload()
			if err != nil {
				logger.Warn("config reload failed", logger.Err(err))
				return
			}
			if len(result.Added)+len(result.Updated)+len(result.Removed) > 0 {
				logger.Info("config reloaded",
					"added", len(result.Added),
					"updated", len(result.Updated),
					"removed", len(result.Removed))
			}
		}))
	}

	s.cron.Start()
	logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop stops firing triggers and waits for in-flight jobs, bounded by
// StopTimeout.
func (s *Scheduler) Stop() {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(s.opts.StopTimeout):
		logger.Warn("scheduler stop timed out waiting for running jobs")
	}
	logger.Info("scheduler stopped")
}

// Reload re-reads the descriptors and three-way diffs them against the
// registry: new slugs get jobs, vanished or disabled slugs lose theirs,
// and slugs whose trigger-relevant fields changed are re-created.
func (s *Scheduler) Reload() (*ReloadResult, error) {
	scans, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("load scans: %w", err)
	}

	kept, warnings := dedupeScans(scans)

	s.mu.Lock()
	s.warnings = warnings
	current := make(map[string]*job, len(s.jobs))
	for slug, j := range s.jobs {
		current[slug] = j
	}
	s.mu.Unlock()

	result := &ReloadResult{Total: len(kept)}
	seen := make(map[string]struct{}, len(kept))

	for _, sc := range kept {
		seen[sc.Slug] = struct{}{}

		existing, scheduled := current[sc.Slug]
		switch {
		case !sc.IsEnabled():
			if scheduled {
				s.removeJob(sc.Slug)
				result.Removed = append(result.Removed, sc.Slug)
			}
		case !scheduled:
			if err := s.addJob(sc); err != nil {
				logger.Error("failed to schedule scan", logger.Slug(sc.Slug), logger.Err(err))
				continue
			}
			result.Added = append(result.Added, sc.Slug)
		case existing.fields != sc.TriggerFields():
			s.removeJob(sc.Slug)
			if err := s.addJob(sc); err != nil {
				logger.Error("failed to reschedule scan", logger.Slug(sc.Slug), logger.Err(err))
				continue
			}
			result.Updated = append(result.Updated, sc.Slug)
		default:
			// Unchanged trigger fields; pick up the rest (name,
			// credentials, TLS flags) without rescheduling.
			s.mu.Lock()
			existing.scan = sc
			s.mu.Unlock()
		}
	}

	for slug := range current {
		if _, ok := seen[slug]; !ok {
			s.removeJob(slug)
			result.Removed = append(result.Removed, slug)
		}
	}

	return result, nil
}

// Warnings returns the duplicate-slug warnings from the last load, for
// the health endpoint.
func (s *Scheduler) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// GetJobInfo returns the next firing and trigger description of one
// scheduled scan.
func (s *Scheduler) GetJobInfo(slug string) (JobInfo, bool) {
	s.mu.Lock()
	j, ok := s.jobs[slug]
	s.mu.Unlock()
	if !ok {
		return JobInfo{}, false
	}

	return JobInfo{
		Slug:    slug,
		Name:    j.scan.Name,
		NextRun: s.cron.Entry(j.entry).Next,
		Trigger: j.trigger.Describe(),
	}, true
}

// GetAllJobs returns job info for every scheduled scan, keyed by slug.
func (s *Scheduler) GetAllJobs() map[string]JobInfo {
	s.mu.Lock()
	slugs := make([]string, 0, len(s.jobs))
	for slug := range s.jobs {
		slugs = append(slugs, slug)
	}
	s.mu.Unlock()

	jobs := make(map[string]JobInfo, len(slugs))
	for _, slug := range slugs {
		if info, ok := s.GetJobInfo(slug); ok {
			jobs[slug] = info
		}
	}
	return jobs
}

func (s *Scheduler) addJob(sc config.ScanConfig) error {
	trigger, err := config.ParseTrigger(sc.Interval)
	if err != nil {
		return err
	}

	var schedule cron.Schedule
	if trigger.Kind == config.TriggerInterval {
		schedule = cron.Every(trigger.Every)
	} else {
		schedule, err = cron.ParseStandard(trigger.Spec)
		if err != nil {
			return err
		}
	}

	j := &job{
		scan:     sc,
		trigger:  trigger,
		schedule: schedule,
		nextAt:   schedule.Next(time.Now()),
		fields:   sc.TriggerFields(),
	}
	j.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.runScan(j)
	}))

	s.mu.Lock()
	s.jobs[sc.Slug] = j
	s.mu.Unlock()

	logger.Info("scan scheduled",
		logger.Slug(sc.Slug),
		"trigger", trigger.Describe(),
		"paths", len(sc.EffectivePaths()))
	return nil
}

func (s *Scheduler) removeJob(slug string) {
	s.mu.Lock()
	j, ok := s.jobs[slug]
	if ok {
		delete(s.jobs, slug)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.cron.Remove(j.entry)
	logger.Info("scan unscheduled", logger.Slug(slug))
}

func (s *Scheduler) runScan(j *job) {
	now := time.Now()

	s.mu.Lock()
	sc := j.scan
	ctx := s.baseCtx
	expected := j.nextAt
	j.nextAt = j.schedule.Next(now)
	s.mu.Unlock()

	if !expected.IsZero() && now.Sub(expected) > s.opts.MisfireGrace {
		logger.Warn("dropping firing past misfire grace",
			logger.Slug(sc.Slug),
			"scheduled", expected.Format(time.RFC3339),
			"late", now.Sub(expected).Round(time.Second).String())
		return
	}

	// The executor guards per-slug exclusion itself; checking here just
	// avoids the noise of a started-then-skipped run.
	if s.runner.IsRunning(sc.Slug) {
		logger.Info("skipping firing, scan still running", logger.Slug(sc.Slug))
		return
	}

	start := time.Now()
	result := s.runner.Run(ctx, &sc)

	log := logger.With(logger.Slug(sc.Slug), logger.Status(string(result.Status)))
	switch result.Status {
	case models.StatusCompleted:
		log.Info("scheduled scan finished",
			"duration", time.Since(start).Round(time.Second).String(),
			"paths", len(result.Items))
	case models.StatusFailed:
		log.Error("scheduled scan failed",
			"duration", time.Since(start).Round(time.Second).String(),
			"error", result.Error)
	default:
		log.Warn("scheduled scan did not run")
	}
}

// dedupeScans drops duplicate slugs, keeping the oldest CreatedAt and
// breaking ties by file order.
func dedupeScans(scans []config.ScanConfig) ([]config.ScanConfig, []string) {
	index := make(map[string]int, len(scans))
	kept := make([]config.ScanConfig, 0, len(scans))
	var warnings []string

	for _, sc := range scans {
		i, dup := index[sc.Slug]
		if !dup {
			index[sc.Slug] = len(kept)
			kept = append(kept, sc)
			continue
		}

		if sc.CreatedAt.Before(kept[i].CreatedAt) {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate slug %q: dropped scan %q (created %s)",
				sc.Slug, kept[i].Name, kept[i].CreatedAt.Format(time.RFC3339)))
			kept[i] = sc
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate slug %q: dropped scan %q (created %s)",
				sc.Slug, sc.Name, sc.CreatedAt.Format(time.RFC3339)))
		}
	}

	return kept, warnings
}
