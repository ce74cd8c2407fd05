package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engagement service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Event metrics
	EventsRecorded *prometheus.CounterVec
	EventsFailed   *prometheus.CounterVec
	UniqueClicks   prometheus.Counter

	// Aggregation metrics
	RecomputeLatency    *prometheus.HistogramVec
	AggregationFailures *prometheus.CounterVec
	ReconcileRuns       *prometheus.CounterVec

	// Heat map metrics
	InteractionPoints *prometheus.CounterVec

	// Variant metrics
	VariantEvents   *prometheus.CounterVec
	WinnerDecisions *prometheus.CounterVec

	// System metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	DBConnections    *prometheus.GaugeVec
	RedisLatency     *prometheus.HistogramVec
	MirrorBatches    *prometheus.CounterVec
	RateLimitHits    *prometheus.CounterVec
	GeoLookupLatency *prometheus.HistogramVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics on the default registry.
func NewMetrics(namespace string) *Metrics {
	m := NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
	DefaultMetrics = m
	return m
}

// NewMetricsWithRegistry registers the metrics on reg.
func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Interaction events persisted",
			},
			[]string{"kind", "device_type"},
		),
		EventsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_failed_total",
				Help:      "Interaction events that could not be persisted",
			},
			[]string{"kind"},
		),
		UniqueClicks: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unique_clicks_total",
				Help:      "First clicks of a contact on a tracked link",
			},
		),

		RecomputeLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recompute_latency_seconds",
				Help:      "Engagement snapshot recompute latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"trigger"},
		),
		AggregationFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_failures_total",
				Help:      "Failures of derived steps after an event was persisted",
			},
			[]string{"stage"},
		),
		ReconcileRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Scheduled reconcile runs",
			},
			[]string{"status"},
		),

		InteractionPoints: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interaction_points_total",
				Help:      "Heat-map interaction points recorded",
			},
			[]string{"type"},
		),

		VariantEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variant_events_total",
				Help:      "A/B variant counter increments",
			},
			[]string{"type"},
		),
		WinnerDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "winner_decisions_total",
				Help:      "Winner selection attempts by outcome",
			},
			[]string{"outcome"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DBConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
		RedisLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "redis_latency_seconds",
				Help:      "Redis operation latency",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"operation"},
		),
		MirrorBatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_batches_total",
				Help:      "Event mirror batch sends by status",
			},
			[]string{"status"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"limiter"},
		),
		GeoLookupLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a persisted open or click.
func (m *Metrics) RecordEvent(kind, deviceType string) {
	if m == nil {
		return
	}
	if deviceType == "" {
		deviceType = "unknown"
	}
	m.EventsRecorded.WithLabelValues(kind, deviceType).Inc()
}

// RecordEventFailure records an event that failed to persist.
func (m *Metrics) RecordEventFailure(kind string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(kind).Inc()
}

// RecordUniqueClick records a first click.
func (m *Metrics) RecordUniqueClick() {
	if m == nil {
		return
	}
	m.UniqueClicks.Inc()
}

// RecordRecompute records a snapshot recompute.
func (m *Metrics) RecordRecompute(trigger string, latency time.Duration) {
	if m == nil {
		return
	}
	m.RecomputeLatency.WithLabelValues(trigger).Observe(latency.Seconds())
}

// RecordAggregationFailure records a failed derived step (link, aggregate, mirror).
func (m *Metrics) RecordAggregationFailure(stage string) {
	if m == nil {
		return
	}
	m.AggregationFailures.WithLabelValues(stage).Inc()
}

// RecordReconcile records the outcome of a reconcile run.
func (m *Metrics) RecordReconcile(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ReconcileRuns.WithLabelValues(status).Inc()
}

// RecordInteractionPoint records a heat-map point.
func (m *Metrics) RecordInteractionPoint(interactionType string) {
	if m == nil {
		return
	}
	m.InteractionPoints.WithLabelValues(interactionType).Inc()
}

// RecordVariantEvent records a variant counter increment.
func (m *Metrics) RecordVariantEvent(eventType string) {
	if m == nil {
		return
	}
	m.VariantEvents.WithLabelValues(eventType).Inc()
}

// RecordWinnerDecision records a winner selection attempt.
func (m *Metrics) RecordWinnerDecision(outcome string) {
	if m == nil {
		return
	}
	m.WinnerDecisions.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// RecordRedisOp records Redis operation latency.
func (m *Metrics) RecordRedisOp(operation string, latency time.Duration) {
	if m == nil {
		return
	}
	m.RedisLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordMirrorBatch records an event mirror flush.
func (m *Metrics) RecordMirrorBatch(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.MirrorBatches.WithLabelValues(status).Inc()
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	if m == nil {
		return
	}
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.GeoLookupLatency.WithLabelValues(hit).Observe(latency.Seconds())
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limiter).Inc()
}
