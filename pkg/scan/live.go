package scan

import (
	"sync"
	"time"
)

// PathProgress is the live measurement state of one path.
type PathProgress struct {
	NumDir    int64         `json:"num_dir"`
	NumFile   int64         `json:"num_file"`
	TotalSize uint64        `json:"total_size"`
	Waited    time.Duration `json:"-"`
	Finished  bool          `json:"finished"`
}

// Snapshot is a consistent copy of a scan's live state, safe to hand to
// external readers.
type Snapshot struct {
	Slug          string                  `json:"slug"`
	Running       bool                    `json:"running"`
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    time.Time               `json:"finished_at,omitzero"`
	CurrentPath   string                  `json:"current_path,omitempty"`
	ExpectedPaths []string                `json:"expected_paths"`
	PerPath       map[string]PathProgress `json:"per_path"`

	// Aggregates over PerPath.
	NumDir    int64         `json:"num_dir"`
	NumFile   int64         `json:"num_file"`
	TotalSize uint64        `json:"total_size"`
	Waited    time.Duration `json:"-"`
	Finished  bool          `json:"finished"`
}

// liveState is the in-memory state of one scan execution, keyed by
// slug. It is mutated by the executor and its progress callbacks and
// snapshot-copied for readers.
type liveState struct {
	mu sync.Mutex

	slug        string
	startedAt   time.Time
	finishedAt  time.Time // zero while running
	currentPath string
	expected    []string
	perPath     map[string]PathProgress
}

func newLiveState(slug string, expected []string) *liveState {
	return &liveState{
		slug:      slug,
		startedAt: time.Now().UTC(),
		expected:  expected,
		perPath:   make(map[string]PathProgress, len(expected)),
	}
}

func (s *liveState) setCurrent(path string) {
	s.mu.Lock()
	s.currentPath = path
	s.mu.Unlock()
}

func (s *liveState) update(path string, p PathProgress) {
	s.mu.Lock()
	s.perPath[path] = p
	s.mu.Unlock()
}

// markFinished flags a path as done measuring, keeping its last
// counters. Failed paths count as finished too: the aggregate finished
// flag tracks work, not success.
func (s *liveState) markFinished(path string) {
	s.mu.Lock()
	p := s.perPath[path]
	p.Finished = true
	s.perPath[path] = p
	s.mu.Unlock()
}

func (s *liveState) finish() {
	s.mu.Lock()
	s.finishedAt = time.Now().UTC()
	s.mu.Unlock()
}

// runningAt reports whether the scan counts as running at t, including
// the grace window after the real finish that smooths UI transitions.
func (s *liveState) runningAt(t time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishedAt.IsZero() {
		return true
	}
	return t.Sub(s.finishedAt) < grace
}

// snapshot copies the state and derives the aggregates: sums over the
// per-path counters, max of waited, finished iff every expected path is
// finished.
func (s *liveState) snapshot(now time.Time, grace time.Duration) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Slug:          s.slug,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
		CurrentPath:   s.currentPath,
		ExpectedPaths: append([]string(nil), s.expected...),
		PerPath:       make(map[string]PathProgress, len(s.perPath)),
	}

	if s.finishedAt.IsZero() {
		snap.Running = true
	} else {
		snap.Running = now.Sub(s.finishedAt) < grace
	}

	snap.Finished = len(s.expected) > 0
	for _, path := range s.expected {
		p, seen := s.perPath[path]
		if seen {
			snap.PerPath[path] = p
			snap.NumDir += p.NumDir
			snap.NumFile += p.NumFile
			snap.TotalSize += p.TotalSize
			if p.Waited > snap.Waited {
				snap.Waited = p.Waited
			}
		}
		if !seen || !p.Finished {
			snap.Finished = false
		}
	}

	return snap
}
