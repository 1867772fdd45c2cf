// Package scan runs one scan execution end to end: expand the
// descriptor into paths, measure each path through the polling engine
// with bounded parallelism, aggregate live progress, and persist the
// final result.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/metrics"
	"github.com/marmos91/nasscan/pkg/models"
	"github.com/marmos91/nasscan/pkg/nas"
	"github.com/marmos91/nasscan/pkg/poll"
)

// defaultGrace is the window after a scan's real finish during which it
// still reports running.
const defaultGrace = 5 * time.Second

// ResultStore is the slice of the history store the executor needs.
type ResultStore interface {
	AddResult(ctx context.Context, slug, name string, result *models.ScanResult, nasHost string) error
}

// Options configure the executor.
type Options struct {
	// MaxParallel bounds concurrent path measurements per scan.
	// Clamped to [1, 10]; zero means 3.
	MaxParallel int

	// Grace overrides the post-finish running window.
	Grace time.Duration

	// Poll overrides the polling constants.
	Poll poll.Options

	// VerifyTLS, when set, overrides every scan's TLS verification.
	VerifyTLS *bool

	// NewClient builds the NAS client for one execution. Defaults to
	// the HTTP implementation; tests inject fakes.
	NewClient func(nas.Config) nas.Client

	// Metrics is optional; nil disables collection.
	Metrics metrics.ScannerMetrics

	// APIMetrics is handed to every NAS client built for a scan.
	APIMetrics metrics.APIMetrics
}

// Executor owns the live state of in-flight scans and enforces one
// execution per slug.
type Executor struct {
	store ResultStore
	opts  Options
	grace time.Duration

	mu      sync.Mutex
	live    map[string]*liveState
	running int
}

// NewExecutor creates an executor.
func NewExecutor(store ResultStore, opts Options) *Executor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 3
	}
	if opts.MaxParallel > 10 {
		opts.MaxParallel = 10
	}
	if opts.NewClient == nil {
		opts.NewClient = func(cfg nas.Config) nas.Client { return nas.New(cfg) }
	}

	grace := opts.Grace
	if grace <= 0 {
		grace = defaultGrace
	}

	return &Executor{
		store: store,
		opts:  opts,
		grace: grace,
		live:  make(map[string]*liveState),
	}
}

// IsRunning reports whether a scan is in flight or inside its grace
// window.
func (e *Executor) IsRunning(slug string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.live[slug]
	return ok && state.runningAt(time.Now(), e.grace)
}

// Status returns the live snapshot of a scan's last (or current)
// execution.
func (e *Executor) Status(slug string) (Snapshot, bool) {
	e.mu.Lock()
	state, ok := e.live[slug]
	e.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot(time.Now(), e.grace), true
}

// Run executes one scan. If the same slug is already in flight (or in
// its grace window) no work starts and a transient running result is
// returned.
func (e *Executor) Run(ctx context.Context, sc *config.ScanConfig) *models.ScanResult {
	state, acquired := e.acquire(sc)
	if !acquired {
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordScanSkipped(sc.Slug)
		}
		logger.Debug("scan already running, skipping", logger.Slug(sc.Slug))
		return &models.ScanResult{
			Slug:      sc.Slug,
			Name:      sc.Name,
			Timestamp: time.Now().UTC(),
			Status:    models.StatusRunning,
		}
	}
	defer e.release(state)

	start := time.Now()
	result := e.execute(ctx, sc, state)

	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordScan(sc.Slug, string(result.Status), time.Since(start))
	}

	// Running intermediate state is never persisted.
	if result.Status != models.StatusRunning {
		if err := e.store.AddResult(context.WithoutCancel(ctx), sc.Slug, sc.Name, result, sc.NAS.Host); err != nil {
			logger.Error("failed to persist scan result",
				logger.Slug(sc.Slug), logger.Err(err))
		}
	}

	return result
}

func (e *Executor) acquire(sc *config.ScanConfig) (*liveState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.live[sc.Slug]; ok && existing.runningAt(time.Now(), e.grace) {
		return nil, false
	}

	state := newLiveState(sc.Slug, sc.EffectivePaths())
	e.live[sc.Slug] = state
	e.running++
	if e.opts.Metrics != nil {
		e.opts.Metrics.SetRunningScans(e.running)
	}
	return state, true
}

func (e *Executor) release(state *liveState) {
	state.finish()
	e.mu.Lock()
	e.running--
	if e.opts.Metrics != nil {
		e.opts.Metrics.SetRunningScans(e.running)
	}
	e.mu.Unlock()
}

func (e *Executor) execute(ctx context.Context, sc *config.ScanConfig, state *liveState) *models.ScanResult {
	paths := state.expected
	result := &models.ScanResult{
		Slug:      sc.Slug,
		Name:      sc.Name,
		Timestamp: time.Now().UTC(),
		Status:    models.StatusRunning,
		Items:     make([]models.ScanResultItem, len(paths)),
	}

	log := logger.With(logger.Slug(sc.Slug), logger.NasHost(sc.NAS.Host))
	log.Info("scan started", "paths", len(paths), "parallelism", e.opts.MaxParallel)

	client := e.opts.NewClient(e.nasConfig(sc))

	if err := client.Login(ctx); err != nil {
		log.Error("login failed", logger.Err(err))
		result.Error = err.Error()
		for i, p := range paths {
			result.Items[i] = models.ScanResultItem{FolderName: p, Error: "login failed"}
		}
		result.Finalize()
		return result
	}

	defer func() {
		// The caller's context may already be cancelled; teardown gets
		// its own deadline.
		teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		client.CleanupTasks(teardownCtx)
		if err := client.Logout(teardownCtx); err != nil {
			log.Warn("logout failed", logger.Err(err))
		}
	}()

	engine := poll.NewEngine(client, e.opts.Poll)

	var g errgroup.Group
	g.SetLimit(e.opts.MaxParallel)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			state.setCurrent(path)
			start := time.Now()

			res, err := engine.Measure(ctx, path, func(p poll.Progress) {
				state.update(path, PathProgress{
					NumDir:    p.NumDir,
					NumFile:   p.NumFile,
					TotalSize: p.TotalSize,
					Waited:    p.Waited,
				})
			})

			if err != nil {
				// Per-path failure is isolated; the run continues.
				log.Warn("path measurement failed", logger.Path(path), logger.Err(err))
				result.Items[i] = models.ScanResultItem{FolderName: path, Error: err.Error()}
				state.markFinished(path)
				if e.opts.Metrics != nil {
					e.opts.Metrics.RecordPathMeasurement(measurementOutcome(err), time.Since(start))
				}
				return nil
			}

			size := models.NewTotalSize(res.TotalSize)
			result.Items[i] = models.ScanResultItem{
				FolderName:    path,
				Success:       true,
				NumDir:        res.NumDir,
				NumFile:       res.NumFile,
				TotalSize:     &size,
				ElapsedTimeMs: res.Elapsed.Milliseconds(),
			}
			state.update(path, PathProgress{
				NumDir:    res.NumDir,
				NumFile:   res.NumFile,
				TotalSize: res.TotalSize,
				Waited:    res.Elapsed,
				Finished:  true,
			})
			if e.opts.Metrics != nil {
				e.opts.Metrics.RecordPathMeasurement("success", time.Since(start))
			}
			log.Info("path measured", logger.Path(path),
				"num_dir", res.NumDir, "num_file", res.NumFile, "total_size", res.TotalSize)
			return nil
		})
	}
	g.Wait()

	result.Finalize()
	if result.Status == models.StatusFailed && ctx.Err() != nil {
		result.Error = "scan cancelled during shutdown"
	}

	log.Info("scan finished", logger.Status(string(result.Status)))
	return result
}

func (e *Executor) nasConfig(sc *config.ScanConfig) nas.Config {
	verify := sc.NAS.Verify()
	if e.opts.VerifyTLS != nil {
		verify = *e.opts.VerifyTLS
	}
	return nas.Config{
		Host:      sc.NAS.Host,
		Port:      sc.NAS.EffectivePort(),
		Username:  sc.NAS.Username,
		Password:  sc.NAS.Password,
		UseHTTPS:  sc.NAS.TLS(),
		VerifySSL: verify,
		Metrics:   e.opts.APIMetrics,
	}
}

func measurementOutcome(err error) string {
	var lost *poll.LostTaskError
	var timeout *poll.TimeoutError
	switch {
	case errors.As(err, &lost):
		return "lost"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.Is(err, poll.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
