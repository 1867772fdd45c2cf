// Package prometheus contains the Prometheus-backed implementations of
// the metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nasscan/pkg/metrics"
)

// scannerMetrics is the Prometheus implementation of
// metrics.ScannerMetrics.
type scannerMetrics struct {
	scansTotal       *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	pathMeasurements *prometheus.CounterVec
	pathDuration     *prometheus.HistogramVec
	runningScans     prometheus.Gauge
	scansSkipped     *prometheus.CounterVec
}

// NewScannerMetrics creates a new Prometheus-backed ScannerMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewScannerMetrics() metrics.ScannerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &scannerMetrics{
		scansTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_scans_total",
				Help: "Total number of finished scan executions by slug and status",
			},
			[]string{"slug", "status"},
		),
		scanDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nasscan_scan_duration_seconds",
				Help: "Wall-clock duration of scan executions in seconds",
				Buckets: []float64{
					5,    // quick single-path scans
					15,   // small shares
					30,   // 30s
					60,   // 1m
					120,  // 2m
					300,  // poll budget for one path
					600,  // 10m
					1800, // 30m - many paths at low parallelism
				},
			},
			[]string{"slug"},
		),
		pathMeasurements: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_path_measurements_total",
				Help: "Total number of per-path measurements by outcome",
			},
			[]string{"outcome"},
		),
		pathDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasscan_path_measurement_duration_seconds",
				Help:    "Duration of per-path measurements in seconds",
				Buckets: []float64{5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		runningScans: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nasscan_running_scans",
				Help: "Number of scan executions currently in flight",
			},
		),
		scansSkipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_scans_skipped_total",
				Help: "Trigger firings dropped because the scan was still running",
			},
			[]string{"slug"},
		),
	}
}

func (m *scannerMetrics) RecordScan(slug, status string, duration time.Duration) {
	m.scansTotal.WithLabelValues(slug, status).Inc()
	m.scanDuration.WithLabelValues(slug).Observe(duration.Seconds())
}

func (m *scannerMetrics) RecordPathMeasurement(outcome string, duration time.Duration) {
	m.pathMeasurements.WithLabelValues(outcome).Inc()
	m.pathDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *scannerMetrics) SetRunningScans(count int) {
	m.runningScans.Set(float64(count))
}

func (m *scannerMetrics) RecordScanSkipped(slug string) {
	m.scansSkipped.WithLabelValues(slug).Inc()
}

// apiMetrics is the Prometheus implementation of metrics.APIMetrics.
type apiMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

// NewAPIMetrics creates a new Prometheus-backed APIMetrics.
//
// Returns nil if metrics are not enabled.
func NewAPIMetrics() metrics.APIMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &apiMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_nas_api_calls_total",
				Help: "Total number of NAS API calls by api, method and outcome",
			},
			[]string{"api", "method", "outcome"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nasscan_nas_api_call_duration_seconds",
				Help:    "Duration of NAS API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"api"},
		),
	}
}

func (m *apiMetrics) RecordAPICall(api, method, outcome string, duration time.Duration) {
	m.callsTotal.WithLabelValues(api, method, outcome).Inc()
	m.callDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	writesTotal *prometheus.CounterVec
	rowsWritten *prometheus.CounterVec
	totalRows   prometheus.Gauge
}

// NewStoreMetrics creates a new Prometheus-backed StoreMetrics.
//
// Returns nil if metrics are not enabled.
func NewStoreMetrics() metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		writesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_history_writes_total",
				Help: "Total number of persisted scan results by slug",
			},
			[]string{"slug"},
		),
		rowsWritten: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nasscan_history_rows_written_total",
				Help: "Total number of history rows written by slug",
			},
			[]string{"slug"},
		),
		totalRows: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nasscan_history_rows",
				Help: "Current number of rows in the history table",
			},
		),
	}
}

func (m *storeMetrics) RecordWrite(slug string, rows int) {
	m.writesTotal.WithLabelValues(slug).Inc()
	m.rowsWritten.WithLabelValues(slug).Add(float64(rows))
}

func (m *storeMetrics) SetTotalRows(count int64) {
	m.totalRows.Set(float64(count))
}
