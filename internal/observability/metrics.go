package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the indexer.
type Metrics struct {
	// --- Core processing ---
	EventsApplied     *prometheus.CounterVec
	EventsSkipped     *prometheus.CounterVec
	EventDuration     *prometheus.HistogramVec
	BalanceUpdates    *prometheus.CounterVec
	SignTransitions   *prometheus.CounterVec
	ExpiryTransitions *prometheus.CounterVec
	CoreSequence      prometheus.Gauge
	LastBlock         prometheus.Gauge

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Store ---
	CommitDuration prometheus.Histogram
	CommitErrors   *prometheus.CounterVec

	// --- Downstream ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	OutputDrops     *prometheus.CounterVec
	ProjectionRows  prometheus.Counter
	ProjectionMark  prometheus.Gauge
	Published       *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_events_applied_total",
			Help: "Events committed by the indexer core",
		}, []string{"event_type"}),

		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_events_skipped_total",
			Help: "Events skipped (duplicate, out_of_order, missing_reference, invalid_source, unknown)",
		}, []string{"event_type", "reason"}),

		EventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_indexer_event_apply_duration_seconds",
			Help:    "Time to apply and commit one event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		BalanceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_balance_updates_total",
			Help: "Balance projections applied",
		}, []string{"event_type"}),

		SignTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_sign_transitions_total",
			Help: "Borrow and supply set movements",
		}, []string{"transition"}),

		ExpiryTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_expiry_transitions_total",
			Help: "Expiration arms and clears",
		}, []string{"transition"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_indexer_sequence",
			Help: "Sequence of the last committed event",
		}),

		LastBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_indexer_last_block",
			Help: "Block number of the last committed event",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_idempotency_duplicates_total",
			Help: "Duplicate events by dedup tier",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_indexer_dedup_lru_size",
			Help: "Keys held by the in-process dedup cache",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_indexer_dedup_tier2_errors_total",
			Help: "Failed store lookups during dedup",
		}),

		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_indexer_commit_duration_seconds",
			Help:    "Time to commit one event changeset",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		CommitErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_commit_errors_total",
			Help: "Changeset commit failures",
		}, []string{"stage"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_indexer_channel_size",
			Help: "Buffered items per output channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_indexer_channel_capacity",
			Help: "Capacity per output channel",
		}, []string{"channel"}),

		OutputDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_output_drops_total",
			Help: "Committed outputs dropped because a downstream channel was full",
		}, []string{"sink"}),

		ProjectionRows: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_indexer_projection_rows_total",
			Help: "Balance history rows written",
		}),

		ProjectionMark: f.NewGauge(prometheus.GaugeOpts{
			Name: "margin_indexer_projection_watermark",
			Help: "Last sequence written by the balance history projection",
		}),

		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_published_total",
			Help: "Account change messages published",
		}, []string{"event_type"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "margin_indexer_publish_errors_total",
			Help: "Failed account change publishes",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_indexer_query_requests_total",
			Help: "Query requests by route and status",
		}, []string{"route", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_indexer_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel fill metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
