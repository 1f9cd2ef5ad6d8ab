// Package observability provides health checks, Prometheus metrics,
// and OpenTelemetry tracing for the gate.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// HealthChecker reports whether a component is alive.
type HealthChecker interface {
	// HealthCheck returns nil if healthy.
	HealthCheck(ctx context.Context) error
	// Name identifies the component being checked.
	Name() string
}

// ReadinessChecker reports whether a component can take traffic.
type ReadinessChecker interface {
	// ReadinessCheck returns nil if ready.
	ReadinessCheck(ctx context.Context) error
	// Name identifies the component being checked.
	Name() string
}

// HealthStatus is the per-component slice of a health response.
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// HealthManager runs registered health and readiness checks.
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a health manager with a 5s check timeout.
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:            logger,
		healthCheckers:    make([]HealthChecker, 0),
		readinessCheckers: make([]ReadinessChecker, 0),
		timeout:           5 * time.Second,
	}
}

// AddHealthChecker registers a health checker.
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker.
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the per-request check timeout.
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// HealthzHandler serves /healthz.
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.checkHealth(ctx)

		statusCode := http.StatusOK
		if response.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		hm.writeJSONResponse(w, statusCode, response)
	}
}

// ReadyzHandler serves /readyz.
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), hm.timeout)
		defer cancel()

		response := hm.checkReadiness(ctx)

		statusCode := http.StatusOK
		if response.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}

		hm.writeJSONResponse(w, statusCode, response)
	}
}

func (hm *HealthManager) checkHealth(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(hm.healthCheckers)),
	}

	for _, checker := range hm.healthCheckers {
		start := time.Now()
		status := HealthStatus{
			Name:   checker.Name(),
			Status: "healthy",
		}

		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			response.Status = "unhealthy"
			hm.logger.Warnw("Health check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) checkReadiness(ctx context.Context) ReadinessResponse {
	response := ReadinessResponse{
		Status:     "ready",
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(hm.readinessCheckers)),
	}

	for _, checker := range hm.readinessCheckers {
		start := time.Now()
		status := HealthStatus{
			Name:   checker.Name(),
			Status: "ready",
		}

		if err := checker.ReadinessCheck(ctx); err != nil {
			status.Status = "not_ready"
			status.Error = err.Error()
			response.Status = "not_ready"
			hm.logger.Warnw("Readiness check failed",
				"component", checker.Name(),
				"error", err)
		}

		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}

	return response
}

func (hm *HealthManager) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hm.logger.Errorw("Failed to encode health response", "error", err)
	}
}

// GetHealthStatus runs the health checks outside an HTTP request.
func (hm *HealthManager) GetHealthStatus() HealthResponse {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkHealth(ctx)
}

// GetReadinessStatus runs the readiness checks outside an HTTP request.
func (hm *HealthManager) GetReadinessStatus() ReadinessResponse {
	ctx, cancel := context.WithTimeout(context.Background(), hm.timeout)
	defer cancel()
	return hm.checkReadiness(ctx)
}

// IsHealthy reports whether all health checks pass.
func (hm *HealthManager) IsHealthy() bool {
	return hm.GetHealthStatus().Status == "healthy"
}

// IsReady reports whether all readiness checks pass.
func (hm *HealthManager) IsReady() bool {
	return hm.GetReadinessStatus().Status == "ready"
}

// StoreHealthChecker verifies the event store database can open a read
// transaction.
type StoreHealthChecker struct {
	name string
	db   *bbolt.DB
}

// NewStoreHealthChecker creates a checker for a bbolt-backed store.
func NewStoreHealthChecker(name string, db *bbolt.DB) *StoreHealthChecker {
	return &StoreHealthChecker{name: name, db: db}
}

// Name identifies the store being checked.
func (shc *StoreHealthChecker) Name() string {
	return shc.name
}

// HealthCheck opens a read transaction to prove the database is usable.
func (shc *StoreHealthChecker) HealthCheck(_ context.Context) error {
	if shc.db == nil {
		return fmt.Errorf("database is nil")
	}

	return shc.db.View(func(_ *bbolt.Tx) error {
		return nil
	})
}

// ReadinessCheck delegates to HealthCheck.
func (shc *StoreHealthChecker) ReadinessCheck(ctx context.Context) error {
	return shc.HealthCheck(ctx)
}

// IndexHealthChecker verifies the search index answers a document count.
type IndexHealthChecker struct {
	name        string
	getDocCount func() (uint64, error)
}

// NewIndexHealthChecker creates a checker over an index doc-count func.
func NewIndexHealthChecker(name string, getDocCount func() (uint64, error)) *IndexHealthChecker {
	return &IndexHealthChecker{name: name, getDocCount: getDocCount}
}

// Name identifies the index being checked.
func (ihc *IndexHealthChecker) Name() string {
	return ihc.name
}

// HealthCheck queries the document count to prove the index is open.
func (ihc *IndexHealthChecker) HealthCheck(_ context.Context) error {
	if ihc.getDocCount == nil {
		return fmt.Errorf("getDocCount function is nil")
	}

	_, err := ihc.getDocCount()
	return err
}

// ReadinessCheck delegates to HealthCheck.
func (ihc *IndexHealthChecker) ReadinessCheck(ctx context.Context) error {
	return ihc.HealthCheck(ctx)
}

// ComponentHealthChecker adapts simple boolean status functions.
type ComponentHealthChecker struct {
	name      string
	isHealthy func() bool
	isReady   func() bool
}

// NewComponentHealthChecker creates a checker from status functions.
func NewComponentHealthChecker(name string, isHealthy, isReady func() bool) *ComponentHealthChecker {
	return &ComponentHealthChecker{
		name:      name,
		isHealthy: isHealthy,
		isReady:   isReady,
	}
}

// Name identifies the component being checked.
func (chc *ComponentHealthChecker) Name() string {
	return chc.name
}

// HealthCheck consults the health function.
func (chc *ComponentHealthChecker) HealthCheck(_ context.Context) error {
	if chc.isHealthy == nil {
		return fmt.Errorf("isHealthy function is nil")
	}

	if !chc.isHealthy() {
		return fmt.Errorf("component is not healthy")
	}

	return nil
}

// ReadinessCheck consults the readiness function.
func (chc *ComponentHealthChecker) ReadinessCheck(_ context.Context) error {
	if chc.isReady == nil {
		return fmt.Errorf("isReady function is nil")
	}

	if !chc.isReady() {
		return fmt.Errorf("component is not ready")
	}

	return nil
}

var _ HealthChecker = (*StoreHealthChecker)(nil)
var _ ReadinessChecker = (*StoreHealthChecker)(nil)
var _ HealthChecker = (*IndexHealthChecker)(nil)
var _ ReadinessChecker = (*IndexHealthChecker)(nil)
var _ HealthChecker = (*ComponentHealthChecker)(nil)
var _ ReadinessChecker = (*ComponentHealthChecker)(nil)
