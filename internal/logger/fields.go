package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so scan runs can be
// correlated across the scheduler, executor, polling and storage layers.
const (
	// ========================================================================
	// Scan identity
	// ========================================================================
	KeyScan      = "scan"       // Scan name (human readable)
	KeySlug      = "slug"       // Scan slug (unique identifier)
	KeyTimestamp = "timestamp"  // Scan execution timestamp
	KeyTrigger   = "trigger"    // Trigger description (cron spec or interval)
	KeyStatus    = "status"     // Scan or item status: running, completed, failed
	KeyRequestID = "request_id" // HTTP request ID for API correlation

	// ========================================================================
	// NAS target
	// ========================================================================
	KeyNasHost = "nas_host" // NAS hostname or IP
	KeyNasPort = "nas_port" // NAS port
	KeyPath    = "path"     // Directory path being measured
	KeyShare   = "share"    // Share root
	KeyTaskID  = "task_id"  // Remote dir-size task identifier

	// ========================================================================
	// Polling
	// ========================================================================
	KeyInterval   = "interval_s"    // Current polling interval in seconds
	KeyWaited     = "waited_s"      // Seconds waited so far
	KeyNoProgress = "no_progress"   // Consecutive polls without progress
	KeyErr599     = "err_599_count" // Consecutive 599 responses
	KeyFailed     = "failed_polls"  // Consecutive transport-failed polls
	KeyNumDir     = "num_dir"       // Directories counted so far
	KeyNumFile    = "num_file"      // Files counted so far
	KeyTotalSize  = "total_size"    // Bytes counted so far
	KeyProgress   = "progress"      // Reported progress fraction

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyAPI        = "api"         // NAS API name
	KeyMethod     = "method"      // NAS API method
	KeyErrorCode  = "error_code"  // NAS API error code
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyPaths      = "paths"       // Number of paths in a scan
	KeyRows       = "rows"        // Affected row count
	KeyClientIP   = "client_ip"   // API client address
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// Scan returns a slog.Attr for the scan name
func Scan(name string) slog.Attr {
	return slog.String(KeyScan, name)
}

// Slug returns a slog.Attr for the scan slug
func Slug(slug string) slog.Attr {
	return slog.String(KeySlug, slug)
}

// NasHost returns a slog.Attr for the NAS host
func NasHost(host string) slog.Attr {
	return slog.String(KeyNasHost, host)
}

// Path returns a slog.Attr for the directory path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// TaskID returns a slog.Attr for the remote task identifier
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// Status returns a slog.Attr for a scan status
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// ErrorCode returns a slog.Attr for a NAS API error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Rows returns a slog.Attr for an affected row count
func Rows(n int64) slog.Attr {
	return slog.Int64(KeyRows, n)
}
