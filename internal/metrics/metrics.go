package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingester Metrics
var (
	IngesterState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingester_state",
		Help: "Current ingester state per network (0=idle, 1=syncing, 2=error)",
	}, []string{"network"})

	LastProcessedHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingester_last_processed_height",
		Help: "The last height durably committed and checkpointed",
	}, []string{"network"})

	SourceHead = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingester_source_head",
		Help: "The latest height reported by the data source",
	}, []string{"network"})

	BlocksPerSecond = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingester_blocks_per_second",
		Help: "Decayed moving average of ingestion throughput",
	}, []string{"network"})

	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingester_blocks_processed_total",
		Help: "The total number of blocks committed to the ledger",
	}, []string{"network"})

	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingester_transactions_processed_total",
		Help: "The total number of transactions committed to the ledger",
	}, []string{"network"})

	IngesterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingester_errors_total",
		Help: "Failures per network and kind",
	}, []string{"network", "kind"})

	ReorgsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingester_reorgs_detected_total",
		Help: "Heights overwritten after a hash mismatch",
	}, []string{"network"})

	StaleAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkpoint_stale_advances_total",
		Help: "Checkpoint advances rejected for moving backwards",
	}, []string{"network"})
)

// Source Metrics
var (
	SourceFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "source_fetch_duration_seconds",
		Help:    "Time spent fetching a block range from the data source",
		Buckets: prometheus.DefBuckets,
	}, []string{"network"})
)

// Ledger Metrics
var (
	LedgerWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_write_duration_seconds",
		Help:    "Time spent committing a batch to the ledger",
		Buckets: prometheus.DefBuckets,
	}, []string{"network"})

	LedgerWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_write_failures_total",
		Help: "Ledger batches discarded after a failed commit",
	}, []string{"network"})
)

// Tiering Metrics
var (
	ExtentsMigrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiering_extents_migrated_total",
		Help: "Extents copied, verified and marked cold",
	}, []string{"network"})

	ExtentsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiering_extents_reclaimed_total",
		Help: "Extents whose hot copy was deleted after verification",
	}, []string{"network"})

	MigrationVerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiering_verification_failures_total",
		Help: "Cold copies rejected by checksum or content verification",
	}, []string{"network"})

	ColdBytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiering_cold_bytes_written_total",
		Help: "Bytes uploaded to the cold tier",
	}, []string{"network"})
)

// Aggregation Metrics
var (
	BucketsRecomputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregation_buckets_recomputed_total",
		Help: "Aggregate buckets recomputed from ledger rows",
	}, []string{"network", "granularity"})

	AggregatedThroughHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aggregation_watermark_height",
		Help: "The height up to which aggregates are complete",
	}, []string{"network"})
)

// Retention Metrics
var (
	RowsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_rows_deleted_total",
		Help: "Rows deleted by the retention reaper",
	}, []string{"network", "table"})
)

// Publisher Metrics
var (
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "publisher_failures_total",
		Help: "Events that could not be published",
	}, []string{"sink"})
)
