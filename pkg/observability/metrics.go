package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives access-control measurements. Metrics and OTelMetrics
// both implement it; Tee combines several.
type Recorder interface {
	RecordDecision(result string)
	ObserveCheckDuration(d time.Duration)
	RecordCacheHit(backend string)
	RecordCacheMiss(backend string)
	AddSwept(n int64)
	RecordAuditWriteError()
	RecordStorageError(operation string)
}

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Decision metrics
	AccessDecisionsTotal *prometheus.CounterVec
	AccessCheckDuration  prometheus.Histogram
	StorageErrorsTotal   *prometheus.CounterVec
	AuditWriteErrors     prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Sweeper metrics
	ExpiredAssignmentsSwept prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_access_decisions_total",
				Help: "Total number of access decisions by result",
			},
			[]string{"result"},
		),
		AccessCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rolegate_access_check_duration_seconds",
				Help:    "Access check duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_storage_errors_total",
				Help: "Total number of storage failures by operation",
			},
			[]string{"operation"},
		),
		AuditWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rolegate_audit_write_errors_total",
				Help: "Total number of access log entries that could not be written",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"backend"},
		),

		ExpiredAssignmentsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rolegate_expired_assignments_swept_total",
				Help: "Total number of role assignments moved to expired by the sweeper",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rolegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rolegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolegate_db_connections_active",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolegate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolegate_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.AccessDecisionsTotal,
		m.AccessCheckDuration,
		m.StorageErrorsTotal,
		m.AuditWriteErrors,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ExpiredAssignmentsSwept,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

func (m *Metrics) RecordDecision(result string) {
	m.AccessDecisionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCheckDuration(d time.Duration) {
	m.AccessCheckDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit(backend string) {
	m.CacheHitsTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordCacheMiss(backend string) {
	m.CacheMissesTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) AddSwept(n int64) {
	if n > 0 {
		m.ExpiredAssignmentsSwept.Add(float64(n))
	}
}

func (m *Metrics) RecordAuditWriteError() {
	m.AuditWriteErrors.Inc()
}

func (m *Metrics) RecordStorageError(operation string) {
	m.StorageErrorsTotal.WithLabelValues(operation).Inc()
}

// CollectDBStats copies the pool statistics of db into the gauges
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling them by route template
// rather than raw path so route vars do not explode cardinality
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// tee fans measurements out to several recorders
type tee []Recorder

// Tee returns a Recorder that forwards to every non-nil recorder given
func Tee(recorders ...Recorder) Recorder {
	t := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			t = append(t, r)
		}
	}
	return t
}

func (t tee) RecordDecision(result string) {
	for _, r := range t {
		r.RecordDecision(result)
	}
}

func (t tee) ObserveCheckDuration(d time.Duration) {
	for _, r := range t {
		r.ObserveCheckDuration(d)
	}
}

func (t tee) RecordCacheHit(backend string) {
	for _, r := range t {
		r.RecordCacheHit(backend)
	}
}

func (t tee) RecordCacheMiss(backend string) {
	for _, r := range t {
		r.RecordCacheMiss(backend)
	}
}

func (t tee) AddSwept(n int64) {
	for _, r := range t {
		r.AddSwept(n)
	}
}

func (t tee) RecordAuditWriteError() {
	for _, r := range t {
		r.RecordAuditWriteError()
	}
}

func (t tee) RecordStorageError(operation string) {
	for _, r := range t {
		r.RecordStorageError(operation)
	}
}

// NopRecorder discards every measurement
type NopRecorder struct{}

func (NopRecorder) RecordDecision(string)              {}
func (NopRecorder) ObserveCheckDuration(time.Duration) {}
func (NopRecorder) RecordCacheHit(string)              {}
func (NopRecorder) RecordCacheMiss(string)             {}
func (NopRecorder) AddSwept(int64)                     {}
func (NopRecorder) RecordAuditWriteError()             {}
func (NopRecorder) RecordStorageError(string)          {}
