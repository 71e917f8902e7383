// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Provider metrics
	ProviderCallLatency *prometheus.HistogramVec
	ProviderCallErrors  *prometheus.CounterVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Fallback metrics
	FallbackQueries *prometheus.CounterVec

	// Dedup metrics
	RawItemsFetched    *prometheus.CounterVec
	CanonicalEvents    prometheus.Counter
	CollisionRate      prometheus.Gauge
	CollisionAnomalies *prometheus.CounterVec

	// Fan-out metrics
	BucketWrites *prometheus.CounterVec

	// Stream metrics
	StreamSubscribers prometheus.Gauge
	StreamPublished   *prometheus.CounterVec
	StreamDropped     prometheus.Counter

	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Alert metrics
	AlertsDropped *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sentiment_pipeline"
	}

	return &Metrics{
		// Provider metrics
		ProviderCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		ProviderCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_errors_total",
			Help:      "Total number of failed provider calls by error kind",
		}, []string{"provider", "op", "kind"}),

		// Breaker metrics
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"provider"}),
		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker transitions",
		}, []string{"provider", "from", "to"}),

		// Fallback metrics
		FallbackQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fallback",
			Name:      "queries_total",
			Help:      "Total number of fallback queries by answering source",
		}, []string{"op", "source"}),

		// Dedup metrics
		RawItemsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "raw_items_total",
			Help:      "Total number of raw items fetched by provider",
		}, []string{"provider"}),
		CanonicalEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "canonical_events_total",
			Help:      "Total number of canonical events produced",
		}),
		CollisionRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "collision_rate",
			Help:      "Collision rate of the most recent merge",
		}),
		CollisionAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "collision_anomalies_total",
			Help:      "Total number of collision rate anomalies by direction",
		}, []string{"direction"}),

		// Fan-out metrics
		BucketWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "bucket_writes_total",
			Help:      "Total number of bucket writes by resolution and outcome",
		}, []string{"resolution", "outcome"}),

		// Stream metrics
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Current number of stream subscribers",
		}),
		StreamPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_published_total",
			Help:      "Total number of stream messages published by type",
		}, []string{"type"}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscribers_dropped_total",
			Help:      "Total number of slow subscribers dropped",
		}),

		// Cycle metrics
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "cycles_total",
			Help:      "Total number of ingestion cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "cycle_duration_seconds",
			Help:      "Ingestion cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		// Alert metrics
		AlertsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "dropped_total",
			Help:      "Total number of alert events dropped by reason",
		}, []string{"reason"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last completed ingestion cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordProviderCall records provider call latency and, on failure, the error kind.
func RecordProviderCall(provider, op string, seconds float64, errKind string) {
	DefaultMetrics.ProviderCallLatency.WithLabelValues(provider, op).Observe(seconds)
	if errKind != "" {
		DefaultMetrics.ProviderCallErrors.WithLabelValues(provider, op, errKind).Inc()
	}
}

// RecordBreakerTransition records a breaker state change.
// state follows the breaker's ordinal encoding.
func RecordBreakerTransition(provider, from, to string, state int) {
	DefaultMetrics.BreakerTransitions.WithLabelValues(provider, from, to).Inc()
	DefaultMetrics.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordFallbackQuery records which source answered a fallback query.
// source is "none" when no provider could answer.
func RecordFallbackQuery(op, source string) {
	DefaultMetrics.FallbackQueries.WithLabelValues(op, source).Inc()
}

// RecordMerge records the outcome of one dedup merge.
func RecordMerge(rawByProvider map[string]int, events int, collisionRate float64) {
	for p, n := range rawByProvider {
		DefaultMetrics.RawItemsFetched.WithLabelValues(p).Add(float64(n))
	}
	DefaultMetrics.CanonicalEvents.Add(float64(events))
	DefaultMetrics.CollisionRate.Set(collisionRate)
}

// RecordCollisionAnomaly increments the anomaly counter.
func RecordCollisionAnomaly(direction string) {
	DefaultMetrics.CollisionAnomalies.WithLabelValues(direction).Inc()
}

// RecordBucketWrite records one per-resolution bucket write outcome.
func RecordBucketWrite(resolution, outcome string) {
	DefaultMetrics.BucketWrites.WithLabelValues(resolution, outcome).Inc()
}

// UpdateStreamSubscribers sets the subscriber gauge.
func UpdateStreamSubscribers(n int) {
	DefaultMetrics.StreamSubscribers.Set(float64(n))
}

// RecordStreamPublish increments the published counter.
func RecordStreamPublish(msgType string) {
	DefaultMetrics.StreamPublished.WithLabelValues(msgType).Inc()
}

// RecordStreamDrop increments the dropped subscribers counter.
func RecordStreamDrop() {
	DefaultMetrics.StreamDropped.Inc()
}

// RecordCycle records an ingestion cycle. Failed cycles do not move the
// last successful cycle timestamp.
func RecordCycle(outcome string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
	if outcome != "failed" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordAlertDropped increments the dropped alerts counter.
func RecordAlertDropped(reason string) {
	DefaultMetrics.AlertsDropped.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
