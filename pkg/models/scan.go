// Package models holds the domain types shared between the scan
// executor, the history store, and the API layer.
package models

import (
	"time"

	"github.com/marmos91/nasscan/internal/bytesize"
)

// Status of one scan execution.
type Status string

const (
	// StatusPending means the scan is configured but has not run yet.
	StatusPending Status = "pending"

	// StatusRunning is in-memory only; it is never persisted.
	StatusRunning Status = "running"

	// StatusCompleted means at least one path measurement succeeded.
	StatusCompleted Status = "completed"

	// StatusFailed means every path measurement failed.
	StatusFailed Status = "failed"
)

// TotalSize carries a byte count together with its human readable form,
// the way the NAS UI would display it.
type TotalSize struct {
	Bytes     uint64  `json:"bytes"`
	Formatted float64 `json:"formatted"`
	Unit      string  `json:"unit"`
}

// NewTotalSize builds a TotalSize from a raw byte count.
func NewTotalSize(bytes uint64) TotalSize {
	formatted, unit := bytesize.Humanize(bytes)
	return TotalSize{Bytes: bytes, Formatted: formatted, Unit: unit}
}

// ScanResultItem is the outcome for one path in one scan execution.
type ScanResultItem struct {
	// FolderName is the queried path, stored normalized: leading slash,
	// no trailing slash, no duplicate separators.
	FolderName string `json:"folder_name"`

	Success bool `json:"success"`

	// Set on success.
	NumDir        int64      `json:"num_dir"`
	NumFile       int64      `json:"num_file"`
	TotalSize     *TotalSize `json:"total_size,omitempty"`
	ElapsedTimeMs int64      `json:"elapsed_time_ms"`

	// Set on failure.
	Error string `json:"error,omitempty"`
}

// ScanResult is one execution of one scan descriptor, identified by
// (Slug, Timestamp).
type ScanResult struct {
	Slug      string           `json:"slug"`
	Name      string           `json:"name"`
	Timestamp time.Time        `json:"timestamp"`
	Status    Status           `json:"status"`
	Items     []ScanResultItem `json:"results"`
	Error     string           `json:"error,omitempty"`
}

// Finalize derives the scan status from its items: completed if any
// item succeeded, failed otherwise.
func (r *ScanResult) Finalize() {
	for _, item := range r.Items {
		if item.Success {
			r.Status = StatusCompleted
			return
		}
	}
	r.Status = StatusFailed
}

// SucceededItems returns the items that carry usable measurements.
func (r *ScanResult) SucceededItems() []ScanResultItem {
	var out []ScanResultItem
	for _, item := range r.Items {
		if item.Success {
			out = append(out, item)
		}
	}
	return out
}
