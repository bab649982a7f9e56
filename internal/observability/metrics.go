package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for FlowBreaker.
type Metrics struct {
	// --- Engine ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Rate limiting ---
	BreakerTrips      *prometheus.CounterVec
	Diversions        prometheus.Counter
	GlobalRateLimited prometheus.Gauge
	GraceActive       prometheus.Gauge

	// --- Tick ledger ---
	WindowWalkNodes prometheus.Histogram
	TicksEvicted    prometheus.Counter
	TicksRecorded   prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        prometheus.Counter
	PersistRetries       prometheus.Counter
	PersistBatchSize     prometheus.Histogram

	// --- Settlement & notifications ---
	SettlementsPublished prometheus.Counter
	SettlementRetries    prometheus.Counter
	EventsPublished      *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_ops_applied_total",
			Help: "Operations successfully applied by the breaker engine",
		}, []string{"op_type"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_ops_rejected_total",
			Help: "Operations rejected by the breaker engine",
		}, []string{"op_type", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_op_duration_seconds",
			Help:    "Engine processing time per operation",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flow_engine_sequence",
			Help: "Current engine sequence number",
		}),

		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_breaker_trips_total",
			Help: "Rate-limit trips per identifier",
		}, []string{"identifier"}),

		Diversions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_settlement_diversions_total",
			Help: "Decreases diverted to settlement instead of completing",
		}),

		GlobalRateLimited: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flow_global_rate_limited",
			Help: "1 if any identifier is currently rate limited",
		}),

		GraceActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "flow_grace_period_active",
			Help: "1 while the global grace period is running",
		}),

		WindowWalkNodes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flow_window_walk_nodes",
			Help:    "Tick nodes visited per windowed-sum traversal",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		TicksEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_ticks_evicted_total",
			Help: "Stale tick nodes removed by backlog clearing",
		}),

		TicksRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_ticks_recorded_total",
			Help: "Tick node creations and in-place updates",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flow_channel_size",
			Help: "Current channel depth",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flow_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_publish_drops_total",
			Help: "Notifications dropped on a full publish channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_persist_events_written_total",
			Help: "Event rows written to Postgres",
		}),

		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_persist_errors_total",
			Help: "Failed persistence flushes",
		}),

		PersistRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_persist_retries_total",
			Help: "Persistence flush retry attempts",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flow_persist_batch_size",
			Help:    "Event rows per persistence flush",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		SettlementsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_settlements_published_total",
			Help: "Diversions handed off to the settlement stream",
		}),

		SettlementRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flow_settlement_retries_total",
			Help: "Settlement publish retry attempts",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_events_published_total",
			Help: "Outbound notifications published to NATS",
		}, []string{"event_type"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"method", "route", "code"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveChannel records the current depth and capacity of a named
// buffered channel.
func (m *Metrics) ObserveChannel(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
