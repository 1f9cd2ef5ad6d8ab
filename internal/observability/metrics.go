package observability

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Operation status constants used as the status label value.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Scan outcome label values.
const (
	OutcomeSafe   = "safe"
	OutcomeUnsafe = "unsafe"
)

// MetricsManager owns the Prometheus registry and every gate metric.
// All metrics live on a private registry so tests and embedders never
// collide with the global one.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime    prometheus.Gauge
	buildInfo *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	scans            *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	detections       *prometheus.CounterVec
	streamViolations *prometheus.CounterVec
	actions          *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	auditEvents      *prometheus.CounterVec
	storageOps       *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
}

// NewMetricsManager creates a metrics manager with a fresh registry.
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegisgate_uptime_seconds",
		Help: "Time since the gate started",
	})

	mm.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegisgate_build_info",
			Help: "Build information, value is always 1",
		},
		[]string{"version", "commit", "go_version"},
	)

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_http_requests_total",
			Help: "Total number of HTTP requests handled by the admin API",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegisgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.scans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_scans_total",
			Help: "Total number of content scans by outcome",
		},
		[]string{"outcome"},
	)

	// Pattern scans are sub-millisecond; LLM-judged paths reach seconds.
	mm.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegisgate_scan_duration_seconds",
		Help:    "Content scan duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	mm.detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_detections_total",
			Help: "Total number of pattern detections by type and severity",
		},
		[]string{"type", "severity"},
	)

	mm.streamViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_stream_violations_total",
			Help: "Total number of streaming output violations by type",
		},
		[]string{"type"},
	)

	mm.actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_actions_total",
			Help: "Total number of tool call validations by decision",
		},
		[]string{"decision"},
	)

	mm.alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_alerts_total",
			Help: "Total number of alerts fired by rule",
		},
		[]string{"rule"},
	)

	mm.auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_audit_events_total",
			Help: "Total number of audit events by decision",
		},
		[]string{"decision"},
	)

	mm.storageOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegisgate_storage_operations_total",
			Help: "Total number of event store operations",
		},
		[]string{"operation", "status"},
	)

	mm.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegisgate_sessions_active",
		Help: "Number of sessions currently tracked by the guard",
	})
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.buildInfo,
		mm.httpRequests,
		mm.httpDuration,
		mm.scans,
		mm.scanDuration,
		mm.detections,
		mm.streamViolations,
		mm.actions,
		mm.alerts,
		mm.auditEvents,
		mm.storageOps,
		mm.sessionsActive,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the registry for custom metrics.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// SetBuildInfo publishes the build-info gauge.
func (mm *MetricsManager) SetBuildInfo(version, commit string) {
	mm.buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// RecordHTTPRequest records one handled request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordScan records one content scan.
func (mm *MetricsManager) RecordScan(outcome string, duration time.Duration) {
	mm.scans.WithLabelValues(outcome).Inc()
	mm.scanDuration.Observe(duration.Seconds())
}

// RecordDetection records one pattern detection.
func (mm *MetricsManager) RecordDetection(detectionType, severity string) {
	mm.detections.WithLabelValues(detectionType, severity).Inc()
}

// RecordStreamViolation records one streaming output violation.
func (mm *MetricsManager) RecordStreamViolation(violationType string) {
	mm.streamViolations.WithLabelValues(violationType).Inc()
}

// RecordAction records one tool call validation.
func (mm *MetricsManager) RecordAction(decision string) {
	mm.actions.WithLabelValues(decision).Inc()
}

// RecordAlert records one fired alert.
func (mm *MetricsManager) RecordAlert(rule string) {
	mm.alerts.WithLabelValues(rule).Inc()
}

// RecordAuditEvent records one audit bus event.
func (mm *MetricsManager) RecordAuditEvent(decision string) {
	mm.auditEvents.WithLabelValues(decision).Inc()
}

// RecordStorageOperation records one event store operation.
func (mm *MetricsManager) RecordStorageOperation(operation, status string) {
	mm.storageOps.WithLabelValues(operation, status).Inc()
}

// SetActiveSessions sets the tracked session gauge.
func (mm *MetricsManager) SetActiveSessions(count int) {
	mm.sessionsActive.Set(float64(count))
}

// HTTPMiddleware returns middleware that records request metrics.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so event streams keep working when wrapped.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
