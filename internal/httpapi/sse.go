package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/reqcontext"
)

// sseHeartbeatInterval keeps idle connections alive through proxies
// that reap quiet streams.
const sseHeartbeatInterval = 30 * time.Second

// handleEventStream streams audit entries to the client as Server-Sent
// Events. Optional query parameters filter the stream (event, decision,
// session_id) and recent=N replays the last N buffered entries before
// going live.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	bus := s.deps.Guard.Bus()
	if bus == nil {
		s.writeError(w, http.StatusNotImplemented, "audit bus is not wired")
		return
	}

	// Set SSE headers first
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// For HEAD requests, just return headers without body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)

	// Check if flushing is supported (but don't store nil)
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.logger.Warnw("ResponseWriter does not support flushing, event stream may stall")
	}

	// Initial comment with a retry hint establishes the connection
	// immediately on the client side.
	fmt.Fprintf(w, ": event stream established\nretry: 5000\n\n")
	if canFlush {
		flusher.Flush()
	}

	query := r.URL.Query()
	eventFilter := query.Get("event")
	decisionFilter := query.Get("decision")
	sessionFilter := query.Get("session_id")
	match := func(entry audit.Entry) bool {
		if eventFilter != "" && entry.Event != eventFilter {
			return false
		}
		if decisionFilter != "" && string(entry.Decision) != decisionFilter {
			return false
		}
		if sessionFilter != "" && entry.SessionID != sessionFilter {
			return false
		}
		return true
	}

	// Subscribing before the replay means an entry that lands mid-replay
	// can show up twice; clients that care key on entry IDs. The reverse
	// order would drop entries instead.
	live := bus.Subscribe()
	defer bus.Unsubscribe(live)

	requestID := reqcontext.GetRequestID(r.Context())
	s.logger.Debugw("Event stream client connected",
		"remote_addr", r.RemoteAddr,
		"request_id", requestID)

	if raw := query.Get("recent"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			recent := bus.Recent(n)
			// Recent returns newest first; replay oldest first so the
			// client sees history in order.
			for i := len(recent) - 1; i >= 0; i-- {
				if !match(recent[i]) {
					continue
				}
				if err := writeSSEEvent(w, flusher, canFlush, recent[i].Event, recent[i]); err != nil {
					return
				}
			}
		}
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debugw("Event stream client disconnected",
				"remote_addr", r.RemoteAddr,
				"request_id", requestID)
			return
		case <-heartbeat.C:
			pingData := map[string]interface{}{"timestamp": time.Now().Unix()}
			if err := writeSSEEvent(w, flusher, canFlush, "ping", pingData); err != nil {
				s.logger.Debugw("Event stream heartbeat write failed", "error", err)
				return
			}
		case entry, ok := <-live:
			if !ok {
				return
			}
			if !match(entry) {
				continue
			}
			if err := writeSSEEvent(w, flusher, canFlush, entry.Event, entry); err != nil {
				s.logger.Debugw("Event stream write failed", "error", err)
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData)); err != nil {
		return err
	}

	if canFlush {
		flusher.Flush()
	}
	return nil
}
