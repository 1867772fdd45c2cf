package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds scan-scoped logging context that travels with the
// context.Context through the executor and polling layers.
type LogContext struct {
	Slug      string    // Scan slug
	NasHost   string    // Target NAS host
	Path      string    // Directory path under measurement
	TaskID    string    // Remote dir-size task id
	RequestID string    // API request id (for manually triggered scans)
	ClientIP  string    // API client address
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for one scan execution
func NewLogContext(slug, nasHost string) *LogContext {
	return &LogContext{
		Slug:      slug,
		NasHost:   nasHost,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	cp := *lc
	return &cp
}

// WithPath returns a copy with the path set
func (lc *LogContext) WithPath(path string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Path = path
	}
	return clone
}

// WithTaskID returns a copy with the remote task id set
func (lc *LogContext) WithTaskID(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TaskID = id
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
