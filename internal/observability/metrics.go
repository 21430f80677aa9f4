package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// pipeline stages.
type Metrics struct {
	UnitsDiscovered  prometheus.Counter
	FilesSkipped     prometheus.Counter
	BatchesProcessed prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Per-stage task outcomes. labels: stage={extract,join,sort}, outcome={success,failure}
	TaskOutcomes *prometheus.CounterVec

	// StageDuration observes wall time of single tasks. labels: stage
	StageDuration *prometheus.HistogramVec

	RowsJoined     prometheus.Counter
	CleanupsFailed prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UnitsDiscovered,
		m.FilesSkipped,
		m.BatchesProcessed,
		m.PipelineRunning,
		m.TaskOutcomes,
		m.StageDuration,
		m.RowsJoined,
		m.CleanupsFailed,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UnitsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "units_discovered_total",
			Help:      "Processing units derived from raw file discovery.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "files_skipped_total",
			Help:      "Raw files skipped because no (year, month) key could be derived.",
		}),
		BatchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "batches_processed_total",
			Help:      "Unit batches driven to completion.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "era5_etl",
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 otherwise.",
		}),
		TaskOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "task_outcomes_total",
			Help:      "Stage task completions by outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "era5_etl",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of individual stage tasks.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"stage"}),
		RowsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "rows_joined_total",
			Help:      "Rows written to joined tables.",
		}),
		CleanupsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "era5_etl",
			Name:      "cleanups_failed_total",
			Help:      "Non-fatal failures removing intermediate per-variable tables.",
		}),
	}
}
