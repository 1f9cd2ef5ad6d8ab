package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func parseLimit(raw string) int {
	limit := defaultPageLimit
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= maxPageLimit {
			limit = parsed
		}
	}
	return limit
}

// handleGetEvents pages through stored audit events. A q= parameter
// switches to full-text search over the bleve index; the other filter
// parameters go through the store's cursor pagination.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseLimit(query.Get("limit"))

	if q := query.Get("q"); q != "" {
		if s.deps.Index == nil {
			s.writeError(w, http.StatusNotImplemented, "full-text search is disabled")
			return
		}
		hits, err := s.deps.Index.Search(q, limit)
		if err != nil {
			s.logger.Errorw("Event search failed", "query", q, "error", err)
			s.writeError(w, http.StatusInternalServerError, "search failed: "+err.Error())
			return
		}
		s.writeSuccess(w, contracts.SearchPage{Query: q, Hits: hits})
		return
	}

	if s.deps.Store == nil {
		s.writeError(w, http.StatusNotImplemented, "event storage is disabled")
		return
	}

	filter := storage.EventFilter{
		Event:     query.Get("event"),
		Decision:  query.Get("decision"),
		SessionID: query.Get("session_id"),
		Limit:     limit,
		Cursor:    query.Get("cursor"),
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since timestamp, want RFC3339")
			return
		}
		filter.Since = ts
	}
	if raw := query.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid until timestamp, want RFC3339")
			return
		}
		filter.Until = ts
	}

	events, nextCursor, err := s.deps.Store.ListEvents(filter)
	if err != nil {
		s.logger.Errorw("Event listing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "event listing failed: "+err.Error())
		return
	}

	s.writeSuccess(w, contracts.EventsPage{Events: events, NextCursor: nextCursor})
}

func (s *Server) handleGetEventDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.writeError(w, http.StatusNotImplemented, "event storage is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	record, err := s.deps.Store.GetEvent(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "event lookup failed: "+err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "event not found: "+id)
		return
	}
	s.writeSuccess(w, record)
}

func (s *Server) handleGetSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.deps.Guard.Sessions())
}

func (s *Server) handleGetSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.deps.Guard.Session(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	s.writeSuccess(w, info)
}

// handleReleaseSession lifts a session's quarantine so an operator can
// let a cleaned-up conversation continue.
func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Guard.ReleaseSession(id) {
		s.writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	s.logger.Infow("Session released via API", "session_id", id)
	s.writeSuccess(w, map[string]string{"session_id": id, "state": "released"})
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		s.writeError(w, http.StatusNotImplemented, "alerting is disabled")
		return
	}
	if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
		s.writeSuccess(w, s.deps.Alerts.ActiveAlerts())
		return
	}
	s.writeSuccess(w, s.deps.Alerts.AllAlerts())
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		s.writeError(w, http.StatusNotImplemented, "alerting is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Alerts.ResolveAlert(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeSuccess(w, map[string]string{"alert_id": id, "state": "resolved"})
}
