// Package metrics provides Prometheus instrumentation for the position
// ledger service.
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
	// EventsRecorded counts committed timeline events, partitioned by type.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliofox_events_recorded_total",
		Help: "Total number of timeline events committed",
	}, []string{"type"})

	// ValidationRejections counts proposed changes rejected before commit,
	// partitioned by outcome code.
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliofox_validation_rejections_total",
		Help: "Timeline changes rejected by the event validator",
	}, []string{"code"})

	// Recalculations counts snapshot window recalculations by outcome.
	Recalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliofox_recalculations_total",
		Help: "Snapshot window recalculations",
	}, []string{"outcome"})

	// RecalculationDuration tracks how long a snapshot window rewrite takes.
	RecalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "foliofox_recalculation_duration_seconds",
		Help:    "Snapshot window recalculation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// OverlayCacheHits counts price overlay keys served from cache.
	OverlayCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foliofox_overlay_cache_hits_total",
		Help: "Price overlay keys served from cache",
	})

	// OverlayCacheMisses counts price overlay keys that needed an upstream fetch.
	OverlayCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foliofox_overlay_cache_misses_total",
		Help: "Price overlay keys missing from cache",
	})

	// ProviderFetchDuration tracks upstream price batch-fetch latency by
	// handler kind.
	ProviderFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foliofox_provider_fetch_duration_seconds",
		Help:    "Upstream price provider batch-fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foliofox_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foliofox_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the URL path for the label; route cardinality is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
