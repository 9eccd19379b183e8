package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Row-level ingestion outcomes. kind is "alert" or "incident";
	// outcome is "created", "updated", "duplicate", "skipped" or "error".
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_rows_total",
			Help: "Total number of CSV rows processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// File-level outcomes. outcome is "processed" or "failed".
	FilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_files_total",
			Help: "Total number of drop files handled by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RelocationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_relocation_errors_total",
			Help: "Total number of file relocation failures",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intake_run_duration_seconds",
			Help:    "Duration of full ingestion runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_run_in_progress",
			Help: "Whether an ingestion run is currently executing",
		},
	)

	CorrelationMutations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_correlation_mutations_total",
			Help: "Total number of alert link changes made by reconciliation",
		},
	)
)
