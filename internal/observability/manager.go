package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
)

// Config holds configuration for observability features.
type Config struct {
	Health  HealthConfig  `json:"health" mapstructure:"health"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// HealthConfig holds configuration for health checks.
type HealthConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// MetricsConfig holds configuration for metrics.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns defaults: health and metrics on, tracing off.
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		Health: HealthConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     0.1,
		},
	}
}

// Manager coordinates health checks, metrics, and tracing.
type Manager struct {
	logger  *zap.SugaredLogger
	config  Config
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates an observability manager from configuration.
func NewManager(logger *zap.SugaredLogger, config Config) (*Manager, error) {
	manager := &Manager{
		logger:    logger,
		config:    config,
		startTime: time.Now(),
	}

	if config.Health.Enabled {
		manager.health = NewHealthManager(logger)
		manager.health.SetTimeout(config.Health.Timeout)
		logger.Info("Health checks enabled")
	}

	if config.Metrics.Enabled {
		manager.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}

	if config.Tracing.Enabled {
		var err error
		manager.tracing, err = NewTracingManager(logger, config.Tracing)
		if err != nil {
			return nil, err
		}
	}

	return manager, nil
}

// Health returns the health manager, nil when disabled.
func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager, nil when disabled.
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

// Tracing returns the tracing manager, nil when disabled.
func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// RegisterHealthChecker registers a health checker.
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	if m.health != nil {
		m.health.AddHealthChecker(checker)
	}
}

// RegisterReadinessChecker registers a readiness checker.
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	if m.health != nil {
		m.health.AddReadinessChecker(checker)
	}
}

// SetupHTTPHandlers mounts /healthz, /readyz, and /metrics on a mux.
func (m *Manager) SetupHTTPHandlers(mux *http.ServeMux) {
	if m.health != nil {
		mux.HandleFunc("/healthz", m.health.HealthzHandler())
		mux.HandleFunc("/readyz", m.health.ReadyzHandler())
	}

	if m.metrics != nil {
		mux.Handle("/metrics", m.metrics.Handler())
	}
}

// HTTPMiddleware returns the combined metrics and tracing middleware.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	middlewares := make([]func(http.Handler) http.Handler, 0)

	if m.metrics != nil {
		middlewares = append(middlewares, m.metrics.HTTPMiddleware())
	}

	if m.tracing != nil {
		middlewares = append(middlewares, m.tracing.HTTPMiddleware())
	}

	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// UpdateMetrics refreshes gauges derived from process state.
func (m *Manager) UpdateMetrics() {
	if m.metrics == nil {
		return
	}

	m.metrics.SetUptime(m.startTime)
}

// Close shuts down observability components.
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Errorw("Failed to close tracing manager", "error", err)
			return err
		}
	}
	return nil
}

// IsHealthy reports overall health; true when checks are disabled.
func (m *Manager) IsHealthy() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsHealthy()
}

// IsReady reports overall readiness; true when checks are disabled.
func (m *Manager) IsReady() bool {
	if m.health == nil {
		return true
	}
	return m.health.IsReady()
}

// AuditSink returns a bus sink that counts every audit event by
// decision. Attach it with bus.AddSink.
func (m *Manager) AuditSink() audit.SinkFunc {
	return func(entry audit.Entry) error {
		if m.metrics != nil {
			m.metrics.RecordAuditEvent(string(entry.Decision))
		}
		return nil
	}
}

// RecordScan counts one scan and observes its duration. The error
// marks the surrounding span when tracing is active.
func (m *Manager) RecordScan(ctx context.Context, safe bool, duration time.Duration, err error) {
	if m.metrics != nil {
		outcome := OutcomeSafe
		if !safe {
			outcome = OutcomeUnsafe
		}
		m.metrics.RecordScan(outcome, duration)
	}

	if m.tracing != nil && err != nil {
		m.tracing.SetSpanError(ctx, err)
	}
}

// RecordAction counts one tool call validation decision.
func (m *Manager) RecordAction(decision string) {
	if m.metrics != nil {
		m.metrics.RecordAction(decision)
	}
}

// RecordAlert counts one fired alert.
func (m *Manager) RecordAlert(rule string) {
	if m.metrics != nil {
		m.metrics.RecordAlert(rule)
	}
}

// RecordStorageOperation counts one event store operation.
func (m *Manager) RecordStorageOperation(operation string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}

	if m.metrics != nil {
		m.metrics.RecordStorageOperation(operation, status)
	}
}
