package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the accounting core.
type Metrics struct {
	// --- Lifecycle operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Sync cycles ---
	SyncsTotal   *prometheus.CounterVec
	SyncDuration prometheus.Histogram
	SyncDeltaBps prometheus.Gauge

	// --- Global state gauges ---
	TotalSupply           prometheus.Gauge
	LivePositions         prometheus.Gauge
	LiquidatablePositions prometheus.Gauge
	MinXP                 prometheus.Gauge
	MaxXP                 prometheus.Gauge
	LastPrice             prometheus.Gauge
	Sequence              prometheus.Gauge

	LiquidationsTotal prometheus.Counter

	// --- Event pipeline ---
	EventsEmitted *prometheus.CounterVec
	PublishDrops  prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        prometheus.Counter
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	syncBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.0005, 0.001,
		0.005, 0.01, 0.05, 0.1, 0.5,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_ops_applied_total",
			Help: "Lifecycle operations successfully applied",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_ops_rejected_total",
			Help: "Lifecycle operations rejected, by reason",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dyad_op_duration_seconds",
			Help:    "Time to apply a single lifecycle operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		SyncsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_syncs_total",
			Help: "Completed sync cycles, by mode",
		}, []string{"mode"}),

		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dyad_sync_duration_seconds",
			Help:    "Full sync cycle duration",
			Buckets: syncBuckets,
		}),

		SyncDeltaBps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_sync_delta_bps",
			Help: "Price delta of the last sync, basis points",
		}),

		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_total_supply",
			Help: "Stable asset total supply, whole units",
		}),

		LivePositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_live_positions",
			Help: "Current live position count",
		}),

		LiquidatablePositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_liquidatable_positions",
			Help: "Positions with non-positive deposit",
		}),

		MinXP: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_min_xp",
			Help: "Global minimum xp bound",
		}),

		MaxXP: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_max_xp",
			Help: "Global maximum xp bound",
		}),

		LastPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_last_price",
			Help: "Last recorded collateral price at oracle scale",
		}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_sequence",
			Help: "Current global event sequence number",
		}),

		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_liquidations_total",
			Help: "Completed liquidations",
		}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_events_emitted_total",
			Help: "Events handed to the persistence pipeline",
		}, []string{"event_type"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_persist_events_written_total",
			Help: "Events committed to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dyad_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dyad_persist_batch_size",
			Help:    "Events per Postgres batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_persist_errors_total",
			Help: "Postgres write failures (before retry)",
		}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_persist_retries_total",
			Help: "Postgres write retry attempts",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_persist_last_sequence",
			Help: "Highest sequence committed to Postgres",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dyad_snapshots_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dyad_snapshot_duration_seconds",
			Help:    "Snapshot capture and write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dyad_snapshot_size_bytes",
			Help: "Size of the last written snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_query_requests_total",
			Help: "API requests, by endpoint",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dyad_query_duration_seconds",
			Help:    "API request duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dyad_query_errors_total",
			Help: "API request failures, by endpoint",
		}, []string{"endpoint"}),
	}
}
