// Package httpapi serves the admin API: one-shot scans, action
// validation, the audit event feed, session state, and alert
// management, behind configurable authentication.
package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/action"
	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/config"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/index"
	"github.com/aegis-gate/aegisgate-go/internal/observability"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/reqcontext"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

const apiTimeout = 60 * time.Second

// Deps carries everything the API serves. Guard is required; the rest
// degrade gracefully: nil Store disables the event endpoints, nil
// Index disables search, nil Alerts disables alert management.
type Deps struct {
	Guard         *guard.Guard
	Validator     *action.Validator
	Store         *storage.Store
	Index         *index.EventIndex
	Alerts        *alerting.Engine
	Observability *observability.Manager
	Auth          *config.APIConfig
	Version       contracts.VersionInfo
}

// Server is the chi-based admin API.
type Server struct {
	deps   Deps
	logger *zap.SugaredLogger
	router *chi.Mux
}

// NewServer builds the API server and its routes.
func NewServer(deps Deps, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if deps.Version.GoVersion == "" {
		deps.Version.GoVersion = runtime.Version()
	}
	s := &Server{
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.deps.Observability != nil {
		s.router.Use(s.deps.Observability.HTTPMiddleware())
	}
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.correlationMiddleware())

	// Probes and version stay unauthenticated, like the metrics port
	// on any other daemon. Everything under /api/v1 is guarded.
	if obs := s.deps.Observability; obs != nil && obs.Health() != nil {
		s.router.Get("/healthz", obs.Health().HealthzHandler())
		s.router.Get("/readyz", obs.Health().ReadyzHandler())
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		s.router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ready":true}`))
		})
	}
	if obs := s.deps.Observability; obs != nil && obs.Metrics() != nil {
		s.router.Handle("/metrics", obs.Metrics().Handler())
	}
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware())

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(apiTimeout))

			r.Post("/scan", s.handleScan)
			r.Post("/actions/validate", s.handleValidateAction)

			r.Get("/events", s.handleGetEvents)
			r.Get("/events/{id}", s.handleGetEventDetail)

			r.Get("/sessions", s.handleGetSessions)
			r.Get("/sessions/{id}", s.handleGetSessionDetail)
			r.Post("/sessions/{id}/release", s.handleReleaseSession)

			r.Get("/alerts", s.handleGetAlerts)
			r.Post("/alerts/{id}/resolve", s.handleResolveAlert)
		})

		// The stream sits outside the timeout group so long-lived
		// connections are not cut off mid-stream.
		r.Get("/events/stream", s.handleEventStream)
		r.Head("/events/stream", s.handleEventStream)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, contracts.NewErrorResponse(message))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Version)
}

// handleScan runs one stateless scan over the posted text. The text is
// quarantined under its declared source before anything reads it, the
// same as content entering through the guard.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req contracts.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "missing required field: text")
		return
	}

	q := req.Quarantined()
	start := time.Now()

	var result *scanner.Result
	var err error
	if req.Sensitivity != "" {
		level, perr := patterns.ParseSensitivity(req.Sensitivity)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		result, err = s.deps.Guard.Scanner().ScanAt(r.Context(), q, level)
	} else {
		result, err = s.deps.Guard.Scanner().Scan(r.Context(), q)
	}

	if obs := s.deps.Observability; obs != nil {
		obs.RecordScan(r.Context(), err == nil && result.Safe, time.Since(start), err)
	}
	if err != nil {
		s.logger.Errorw("Scan failed", "source", req.Source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return
	}

	if bus := s.deps.Guard.Bus(); bus != nil {
		decision := audit.DecisionAllowed
		if !result.Safe {
			decision = audit.DecisionFlagged
		}
		bus.Emit(audit.Entry{
			Event:     audit.EventInputScanned,
			Decision:  decision,
			SessionID: req.SessionID,
			RequestID: reqcontext.GetRequestID(r.Context()),
			Context: map[string]interface{}{
				"source":     string(q.Source()),
				"score":      result.Score,
				"detections": len(result.Detections),
				"via":        string(reqcontext.SourceRESTAPI),
			},
		})
	}

	s.writeSuccess(w, result)
}

// handleValidateAction screens one proposed tool call through the
// action gates. The validator emits its own audit events.
func (s *Server) handleValidateAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validator == nil {
		s.writeError(w, http.StatusNotImplemented, "action validation is not configured")
		return
	}

	var req contracts.ValidateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		s.writeError(w, http.StatusBadRequest, "missing required field: tool")
		return
	}

	ar := req.ActionRequest()
	if ar.RequestID == "" {
		ar.RequestID = reqcontext.GetRequestID(r.Context())
	}

	decision, err := s.deps.Validator.Check(r.Context(), ar)
	if err != nil {
		s.logger.Errorw("Action validation failed", "tool", req.Tool, "error", err)
		s.writeError(w, http.StatusInternalServerError, "validation failed: "+err.Error())
		return
	}

	if obs := s.deps.Observability; obs != nil {
		outcome := "blocked"
		if decision.Allowed {
			outcome = "allowed"
		}
		obs.RecordAction(outcome)
	}

	s.writeSuccess(w, decision)
}
