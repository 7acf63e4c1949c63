// Package metrics holds the catalog service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Finalized sync runs by mode and status.",
	}, []string{"mode", "status"})

	SyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_records_total",
		Help: "Reconciled records by mode and outcome.",
	}, []string{"mode", "outcome"})

	SyncPageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_sync_page_duration_seconds",
		Help:    "Time to fetch and reconcile one page.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms … ~25s
	}, []string{"endpoint"})

	SyncRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_sync_running",
		Help: "1 while this process is executing a sync run.",
	})

	TMDBRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_tmdb_requests_total",
		Help: "Upstream TMDB requests by endpoint and status code (0 for transport errors).",
	}, []string{"endpoint", "code"})

	TMDBBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_tmdb_breaker_state",
		Help: "TMDB circuit breaker state: 0 closed, 1 half-open, 2 open.",
	})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_outbox_published_total",
		Help: "Outbox rows published to JetStream.",
	})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_requests_total",
		Help: "Popular-page cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware records request counts and latency labelled by the chi route
// pattern, so ids never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
