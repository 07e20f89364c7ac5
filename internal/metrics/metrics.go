package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts tracks fetch attempts per pipeline and result
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_fetch_attempts_total",
			Help: "Total number of fetch attempts",
		},
		[]string{"pipeline", "result"},
	)

	// FetchRetries tracks retried transient failures
	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_fetch_retries_total",
			Help: "Total number of retried transient fetch failures",
		},
		[]string{"pipeline"},
	)

	// FetchDuration tracks the duration of a full attempt including retries
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riverwatch_fetch_duration_seconds",
			Help:    "Fetch attempt duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"pipeline"},
	)

	// LastSuccess tracks the unix time of the last successful fetch
	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riverwatch_last_success_timestamp_seconds",
			Help: "Unix time of the last successful fetch",
		},
		[]string{"pipeline"},
	)

	// Stale is 1 while the pipeline serves stale data
	Stale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riverwatch_stale",
			Help: "Whether the published data is stale (1) or current (0)",
		},
		[]string{"pipeline"},
	)

	// PipelineState is 1 for the current state of each pipeline
	PipelineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riverwatch_pipeline_state",
			Help: "Current pipeline state (1 for the active state)",
		},
		[]string{"pipeline", "state"},
	)

	// BackupRuns tracks backup and restore runs per pipeline, operation and result
	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_backup_runs_total",
			Help: "Total number of backup and restore runs",
		},
		[]string{"pipeline", "op", "result"},
	)

	// BackupDuration tracks backup latency
	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riverwatch_backup_duration_seconds",
			Help:    "Backup latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "target"},
	)

	// BackupBytes tracks the size of the last backup
	BackupBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riverwatch_backup_bytes",
			Help: "Size of the last backup snapshot in bytes",
		},
		[]string{"pipeline"},
	)

	// PublishErrors tracks downstream publish rejections
	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverwatch_publish_errors_total",
			Help: "Total number of rejected publishes",
		},
		[]string{"pipeline", "target"},
	)

	// DBConnectionPoolUsage tracks the backup database pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riverwatch_db_connection_pool_usage_percent",
			Help: "Backup database connection pool usage percentage",
		},
	)
)
