package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration tracks request latency by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// CellsCreatedTotal counts matrix cells created by cell type.
	CellsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrix_cells_created_total",
			Help: "Total number of matrix cells created",
		},
		[]string{"cell_type"},
	)
	// JobsEnqueuedTotal counts jobs published to the broker.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	// JobsCompletedTotal counts jobs finished successfully.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	// JobsFailedTotal counts jobs that ended in FAILED.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	// QuotaDeniedTotal counts quota reservations refused at the limit.
	QuotaDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denied_total",
			Help: "Total number of quota reservations denied",
		},
		[]string{"event_type"},
	)
	// LockContentionTotal counts lock acquisitions lost to another holder.
	LockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_contention_total",
			Help: "Total number of lock acquisitions that found the lock held",
		},
		[]string{"resource"},
	)
)

// InitMetrics registers all collectors with the default registry. Safe to call
// once per process.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CellsCreatedTotal,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		JobsFailedTotal,
		QuotaDeniedTotal,
		LockContentionTotal,
	)
}

// EnqueueJob increments the enqueued counter for a job type.
func EnqueueJob(jobType string) { JobsEnqueuedTotal.WithLabelValues(jobType).Inc() }

// EnqueueJobs increments the enqueued counter by n for a job type.
func EnqueueJobs(jobType string, n int) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Add(float64(n))
}

// CompleteJob increments the completed counter for a job type.
func CompleteJob(jobType string) { JobsCompletedTotal.WithLabelValues(jobType).Inc() }

// FailJob increments the failed counter for a job type.
func FailJob(jobType string) { JobsFailedTotal.WithLabelValues(jobType).Inc() }

// HTTPMetricsMiddleware records request counts and latency per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
