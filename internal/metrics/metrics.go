package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eligibility_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	recomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_recomputes_total",
			Help: "Total eligibility recomputations by entity type and result",
		},
		[]string{"entity_type", "result"},
	)

	recomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eligibility_recompute_duration_seconds",
			Help:    "Time to fully recompute one offer",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"entity_type"},
	)

	rowsMaterialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_rows_materialized_total",
			Help: "Eligibility rows written by entity type",
		},
		[]string{"entity_type"},
	)

	queueEnqueues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_queue_enqueues_total",
			Help: "Queue enqueue outcomes (created, deduplicated, upgraded)",
		},
		[]string{"outcome"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eligibility_queue_pending_depth",
			Help: "Pending entries observed at the last drain",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_cache_lookups_total",
			Help: "Query cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	schedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_scheduler_runs_total",
			Help: "Scheduler task executions by task and result",
		},
		[]string{"task", "result"},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eligibility_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eligibility_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRecompute records one materializer run outcome
func RecordRecompute(entityType, result string, duration time.Duration) {
	recomputesTotal.WithLabelValues(entityType, result).Inc()
	recomputeDuration.WithLabelValues(entityType).Observe(duration.Seconds())
}

// RecordRowsMaterialized records eligibility rows written for one offer
func RecordRowsMaterialized(entityType string, rows int64) {
	rowsMaterialized.WithLabelValues(entityType).Add(float64(rows))
}

// RecordEnqueue records a queue enqueue outcome
func RecordEnqueue(outcome string) {
	queueEnqueues.WithLabelValues(outcome).Inc()
}

// SetQueueDepth sets the pending queue depth gauge
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordCacheLookup records a query cache lookup result
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordSchedulerRun records a scheduler task execution
func RecordSchedulerRun(task, result string) {
	schedulerRuns.WithLabelValues(task, result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
