package metrics

import (
	"time"
)

// ScannerMetrics provides observability for scan executions and the
// polling traffic they generate.
//
// This interface is optional - pass nil to disable metrics collection
// with zero overhead.
type ScannerMetrics interface {
	// RecordScan records one finished scan execution with its terminal
	// status ("completed", "failed") and wall-clock duration.
	RecordScan(slug string, status string, duration time.Duration)

	// RecordPathMeasurement records one per-path measurement outcome:
	// "success", "lost", "timeout", "cancelled" or "error".
	RecordPathMeasurement(outcome string, duration time.Duration)

	// SetRunningScans updates the number of scans currently in flight.
	SetRunningScans(count int)

	// RecordScanSkipped counts trigger firings dropped because the same
	// scan was still running.
	RecordScanSkipped(slug string)
}

// StoreMetrics provides observability for the history store.
//
// This interface is optional - pass nil to disable metrics collection.
type StoreMetrics interface {
	// RecordWrite records one persisted scan result and the number of
	// rows it produced.
	RecordWrite(slug string, rows int)

	// SetTotalRows updates the row-count gauge.
	SetTotalRows(count int64)
}
