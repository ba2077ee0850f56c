// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	ActiveRequests        prometheus.Gauge
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	TokensProcessed       *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider (state is the value)
	CircuitBreakerRejects *prometheus.CounterVec  // labels: provider

	// PoolAttempts/PoolMarks cover the credential pool's attempt loop:
	// one PoolAttempts increment per credential tried, one PoolMarks
	// increment per disallow mark applied (labeled by level).
	PoolAttempts *prometheus.CounterVec // labels: provider, outcome
	PoolMarks    *prometheus.CounterVec // labels: provider, level

	// TrafficRecords/SinkQueueDepth/SinkDropped cover the storage bus
	// (internal/sink): records accepted, current queue depth, and events
	// dropped under the traffic-event drop-oldest backpressure policy.
	TrafficRecords *prometheus.CounterVec // labels: kind (upstream, downstream, state)
	SinkQueueDepth *prometheus.GaugeVec   // labels: kind
	SinkDropped    *prometheus.CounterVec // labels: kind
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "gproxy",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gproxy",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gproxy",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"provider"}),

		PoolAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "pool_attempts_total",
			Help:      "Total credential attempts made by the pool's attempt loop.",
		}, []string{"provider", "outcome"}),

		PoolMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "pool_marks_total",
			Help:      "Total disallow marks applied to credentials.",
		}, []string{"provider", "level"}),

		TrafficRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "traffic_records_total",
			Help:      "Total traffic/state events accepted by the storage bus.",
		}, []string{"kind"}),

		SinkQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gproxy",
			Name:      "sink_queue_depth",
			Help:      "Current depth of the storage bus's in-memory queue.",
		}, []string{"kind"}),

		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gproxy",
			Name:      "sink_dropped_total",
			Help:      "Total events dropped under the storage bus's backpressure policy.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.TokensProcessed,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.PoolAttempts,
		m.PoolMarks,
		m.TrafficRecords,
		m.SinkQueueDepth,
		m.SinkDropped,
	)

	return m
}

// ObserveSinkQueueDepth implements internal/sink.Metrics, letting cmd/gproxy
// wire the same Metrics instance into both the HTTP middleware and the
// storage bus.
func (m *Metrics) ObserveSinkQueueDepth(traffic, state int) {
	m.SinkQueueDepth.WithLabelValues("traffic").Set(float64(traffic))
	m.SinkQueueDepth.WithLabelValues("state").Set(float64(state))
}

// IncSinkDropped implements internal/sink.Metrics.
func (m *Metrics) IncSinkDropped(kind string) {
	m.SinkDropped.WithLabelValues(kind).Inc()
}
