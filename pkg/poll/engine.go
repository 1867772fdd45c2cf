// Package poll drives one remote dir-size task from start to a terminal
// state: adaptive polling intervals, classification of lost-task and
// service-unavailable conditions, cooperative cancellation, and a hard
// wait budget.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/nas"
)

// Options are the polling constants. They are design choices, not
// tuning knobs; zero values resolve to the defaults.
type Options struct {
	// InitialDelay gives the task time to appear before the first poll.
	InitialDelay time.Duration

	// MinInterval / MaxInterval bound the adaptive poll spacing.
	MinInterval time.Duration
	MaxInterval time.Duration

	// IntervalStep is the growth per no-progress poll past the
	// threshold.
	IntervalStep time.Duration

	// NoProgressThreshold is how many stagnant polls are tolerated
	// before the interval starts growing.
	NoProgressThreshold int

	// MaxWait is the total budget; a final poll still accepts a late
	// finish.
	MaxWait time.Duration

	// RetryLookupDelay is the pause before re-checking a task the
	// initial poll could not find.
	RetryLookupDelay time.Duration

	// Error599Sleep replaces the adaptive interval while the NAS task
	// table is flaky; longer spacing avoids amplifying the condition.
	Error599Sleep time.Duration

	// Error599Pause is the extra pause after the task-list lookup
	// confirmed the task still exists.
	Error599Pause time.Duration

	// Max599 and MaxFailedPolls trigger task-list adjudication.
	Max599         int
	MaxFailedPolls int
}

func (o Options) withDefaults() Options {
	if o.InitialDelay <= 0 {
		o.InitialDelay = 3 * time.Second
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 2 * time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 10 * time.Second
	}
	if o.IntervalStep <= 0 {
		o.IntervalStep = 2 * time.Second
	}
	if o.NoProgressThreshold <= 0 {
		o.NoProgressThreshold = 3
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 300 * time.Second
	}
	if o.RetryLookupDelay <= 0 {
		o.RetryLookupDelay = 2 * time.Second
	}
	if o.Error599Sleep <= 0 {
		o.Error599Sleep = 5 * time.Second
	}
	if o.Error599Pause <= 0 {
		o.Error599Pause = 3 * time.Second
	}
	if o.Max599 <= 0 {
		o.Max599 = 3
	}
	if o.MaxFailedPolls <= 0 {
		o.MaxFailedPolls = 5
	}
	return o
}

// Result is the terminal measurement of one path.
type Result struct {
	NumDir    int64
	NumFile   int64
	TotalSize uint64
	Elapsed   time.Duration
}

// Progress is the snapshot handed to the progress callback on each
// successful, not-yet-finished poll. The callback must only update
// in-memory state; it runs synchronously on the polling goroutine.
type Progress struct {
	NumDir    int64
	NumFile   int64
	TotalSize uint64
	Waited    time.Duration
	Finished  bool
}

// ProgressFunc receives progress snapshots.
type ProgressFunc func(Progress)

// Engine runs measurements against one NAS client.
type Engine struct {
	client nas.Client
	opts   Options

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine. Zero Options fields resolve to defaults.
func NewEngine(client nas.Client, opts Options) *Engine {
	return &Engine{
		client: client,
		opts:   opts.withDefaults(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// handle is the per-task polling state.
type handle struct {
	taskID   string
	start    time.Time
	waited   time.Duration
	interval time.Duration

	lastProgress  *float64
	lastProcessed *int64
	lastDirs      *int64
	lastFiles     *int64
	lastSize      *uint64
	noProgress    int

	err599      int
	failedPolls int
}

// Measure starts a dir-size task for path and polls it to a terminal
// state. On success it returns the final counters; otherwise a
// LostTaskError, TimeoutError, ErrCancelled, or the start error.
func (e *Engine) Measure(ctx context.Context, path string, onProgress ProgressFunc) (*Result, error) {
	taskID, err := e.client.StartDirSize(ctx, path)
	if err != nil {
		return nil, err
	}

	h := &handle{
		taskID:   taskID,
		start:    time.Now(),
		interval: e.opts.MinInterval,
	}
	log := logger.With(logger.Path(path), logger.TaskID(taskID))

	// Initial delay, then one poll to confirm the task exists.
	if err := e.sleep(ctx, e.opts.InitialDelay); err != nil {
		return nil, e.cancel(ctx, h)
	}
	h.waited += e.opts.InitialDelay

	if res, terminal, err := e.initialPoll(ctx, h, onProgress); terminal {
		return res, err
	}

	for {
		if ctx.Err() != nil {
			return nil, e.cancel(ctx, h)
		}

		d := h.interval
		if h.err599 > 0 {
			d = e.opts.Error599Sleep
		}
		if err := e.sleep(ctx, d); err != nil {
			return nil, e.cancel(ctx, h)
		}
		h.waited += d

		if ctx.Err() != nil {
			return nil, e.cancel(ctx, h)
		}

		if h.waited >= e.opts.MaxWait {
			// One final poll accepting a late finish.
			if status, err := e.client.PollDirSize(ctx, h.taskID); err == nil && status.IsFinished() {
				log.Debug("task finished on final poll", "waited_s", h.waited.Seconds())
				return e.finish(h, status), nil
			}
			log.Warn("measurement timed out", "waited_s", h.waited.Seconds())
			e.client.UntrackTask(h.taskID)
			return nil, &TimeoutError{TaskID: h.taskID, Waited: h.waited}
		}

		status, err := e.client.PollDirSize(ctx, h.taskID)
		if ctx.Err() != nil {
			return nil, e.cancel(ctx, h)
		}

		if err == nil {
			// Finished is evaluated immediately, before any other logic.
			if status.IsFinished() {
				return e.finish(h, status), nil
			}
			h.err599 = 0
			h.failedPolls = 0
			e.observe(h, status, onProgress)
			continue
		}

		switch {
		case nas.IsAPICode(err, nas.CodeTaskNotFound):
			log.Warn("task no longer known to NAS")
			return nil, e.lost(h)

		case nas.IsAPICode(err, nas.CodeServiceUnavailable):
			h.failedPolls = 0
			res, lost, cerr := e.handle599(ctx, h, log)
			if cerr != nil {
				return nil, cerr
			}
			if res != nil {
				return res, nil
			}
			if lost {
				return nil, e.lost(h)
			}

		case isAPIError(err):
			// Unclassified API error: keep polling, does not count
			// toward the 599 policy. Any NAS answer resets the
			// transport-failure counter.
			h.err599 = 0
			h.failedPolls = 0
			log.Debug("poll returned api error, continuing", logger.Err(err))

		default:
			// Transport failure.
			h.failedPolls++
			log.Debug("poll transport failure",
				"failed_polls", h.failedPolls, logger.Err(err))
			if h.failedPolls >= e.opts.MaxFailedPolls {
				known, kerr := e.taskKnown(ctx, h.taskID)
				if kerr != nil || !known {
					return nil, e.lost(h)
				}
				h.failedPolls = 0
			}
		}
	}
}

// initialPoll handles the first status check after the start delay.
// terminal=true means res/err carry the outcome.
func (e *Engine) initialPoll(ctx context.Context, h *handle, onProgress ProgressFunc) (res *Result, terminal bool, err error) {
	status, perr := e.client.PollDirSize(ctx, h.taskID)
	if ctx.Err() != nil {
		return nil, true, e.cancel(ctx, h)
	}

	if perr == nil {
		if status.IsFinished() {
			return e.finish(h, status), true, nil
		}
		e.observe(h, status, onProgress)
		return nil, false, nil
	}

	switch {
	case nas.IsAPICode(perr, nas.CodeTaskNotFound):
		// The task may not have materialized yet; look again once.
		if serr := e.sleep(ctx, e.opts.RetryLookupDelay); serr != nil {
			return nil, true, e.cancel(ctx, h)
		}
		h.waited += e.opts.RetryLookupDelay

		retry, rerr := e.client.PollDirSize(ctx, h.taskID)
		if rerr != nil {
			return nil, true, e.lost(h)
		}
		if retry.IsFinished() {
			return e.finish(h, retry), true, nil
		}
		e.observe(h, retry, onProgress)
		return nil, false, nil

	case nas.IsAPICode(perr, nas.CodeServiceUnavailable):
		h.err599 = 1
		return nil, false, nil

	default:
		// Transport failure or other API error on the very first check
		// is not conclusive; the loop will sort it out.
		return nil, false, nil
	}
}

// observe applies the adaptive-interval rules and emits a progress
// snapshot. Progress means any of progress, processed count, dirs,
// files or size strictly increased since the previous observation.
func (e *Engine) observe(h *handle, status *nas.DirSizeStatus, onProgress ProgressFunc) {
	progressed := false

	if status.Progress != nil && h.lastProgress != nil && *status.Progress > *h.lastProgress {
		progressed = true
	}
	if status.ProcessedNum != nil && h.lastProcessed != nil && *status.ProcessedNum > *h.lastProcessed {
		progressed = true
	}
	if h.lastDirs != nil && status.NumDir > *h.lastDirs {
		progressed = true
	}
	if h.lastFiles != nil && status.NumFile > *h.lastFiles {
		progressed = true
	}
	if h.lastSize != nil && status.TotalSize > *h.lastSize {
		progressed = true
	}

	if progressed {
		h.interval = e.opts.MinInterval
		h.noProgress = 0
	} else {
		h.noProgress++
		if h.noProgress >= e.opts.NoProgressThreshold && h.interval < e.opts.MaxInterval {
			h.interval = min(h.interval+e.opts.IntervalStep, e.opts.MaxInterval)
		}
	}

	if status.Progress != nil {
		h.lastProgress = status.Progress
	}
	if status.ProcessedNum != nil {
		h.lastProcessed = status.ProcessedNum
	}
	if status.NumDir > 0 {
		v := status.NumDir
		h.lastDirs = &v
	}
	if status.NumFile > 0 {
		v := status.NumFile
		h.lastFiles = &v
	}
	if status.TotalSize > 0 {
		v := status.TotalSize
		h.lastSize = &v
	}

	if onProgress != nil {
		onProgress(Progress{
			NumDir:    status.NumDir,
			NumFile:   status.NumFile,
			TotalSize: status.TotalSize,
			Waited:    h.waited,
			Finished:  false,
		})
	}
}

// handle599 applies the service-unavailable policy. Returns a recovered
// result, a lost verdict, or a cancellation error; all zero means keep
// polling.
func (e *Engine) handle599(ctx context.Context, h *handle, log *slog.Logger) (*Result, bool, error) {
	h.err599++
	log.Debug("poll returned 599", "err_599_count", h.err599)

	if h.err599 == 2 {
		known, err := e.taskKnown(ctx, h.taskID)
		if err == nil && known {
			// The task table answered and the task is alive; give the
			// status channel room to recover.
			h.err599 = 0
			if serr := e.sleep(ctx, e.opts.Error599Pause); serr != nil {
				return nil, false, e.cancel(ctx, h)
			}
			h.waited += e.opts.Error599Pause
		}
		return nil, false, nil
	}

	if h.err599 < e.opts.Max599 {
		return nil, false, nil
	}

	task, err := e.findTask(ctx, h.taskID)
	if err != nil {
		// Could not adjudicate at all.
		return nil, true, nil
	}

	if task == nil {
		// Absent from the task table, but it may have finished while the
		// status channel was flaky.
		if status, perr := e.client.PollDirSize(ctx, h.taskID); perr == nil && status.IsFinished() {
			log.Info("recovered finished task after 599 storm")
			return e.finish(h, status), false, nil
		}
		return nil, true, nil
	}

	if bool(task.Finished) {
		if status, perr := e.client.PollDirSize(ctx, h.taskID); perr == nil && status.IsFinished() {
			return e.finish(h, status), false, nil
		}
		return nil, false, nil
	}

	// Present and still running.
	h.err599 = 0
	return nil, false, nil
}

func (e *Engine) taskKnown(ctx context.Context, taskID string) (bool, error) {
	task, err := e.findTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	return task != nil, nil
}

func (e *Engine) findTask(ctx context.Context, taskID string) (*nas.BackgroundTask, error) {
	tasks, err := e.client.ListBackgroundTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].TaskID == taskID {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) finish(h *handle, status *nas.DirSizeStatus) *Result {
	e.client.UntrackTask(h.taskID)
	return &Result{
		NumDir:    status.NumDir,
		NumFile:   status.NumFile,
		TotalSize: status.TotalSize,
		Elapsed:   time.Since(h.start),
	}
}

func (e *Engine) lost(h *handle) error {
	e.client.UntrackTask(h.taskID)
	return &LostTaskError{TaskID: h.taskID}
}

// cancel best-effort stops the remote task and returns ErrCancelled.
// The stop uses a short detached context since the caller's one is
// already done.
func (e *Engine) cancel(ctx context.Context, h *handle) error {
	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stopCancel()

	if err := e.client.StopTask(stopCtx, h.taskID, true); err != nil {
		logger.Debug("stop on cancel failed", logger.TaskID(h.taskID), logger.Err(err))
	}
	e.client.UntrackTask(h.taskID)
	return ErrCancelled
}

func isAPIError(err error) bool {
	var apiErr *nas.APIError
	return errors.As(err, &apiErr)
}
