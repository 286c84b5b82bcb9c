package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querygate_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querygate_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	validationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querygate_validations_total",
		Help: "SQL validation outcomes.",
	}, []string{"outcome"})

	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "querygate_queries_total",
		Help: "Query execution attempts by audit status.",
	}, []string{"status"})

	queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "querygate_query_duration_seconds",
		Help:    "Backend query duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"db_type"})

	activePools = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "querygate_active_pools",
		Help: "Number of live connection pools.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, validationsTotal,
		queriesTotal, queryDuration, activePools)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}
