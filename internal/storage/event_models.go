package storage

import (
	"encoding/json"
	"time"
)

// EventsBucket is the BBolt bucket name for audit event records
const EventsBucket = "events"

// EventRecord is a single audit event persisted in BBolt.
// The shape mirrors what the audit bus emits so the store sink can
// persist entries without translation loss.
type EventRecord struct {
	ID        string                 `json:"id"`                   // Unique identifier (ULID format)
	Timestamp time.Time              `json:"timestamp"`            // When the event occurred
	Event     string                 `json:"event"`                // Event name, e.g. "input_blocked"
	Decision  string                 `json:"decision"`             // "allowed", "blocked", "flagged", "info"
	SessionID string                 `json:"session_id,omitempty"` // Guard session for correlation
	RequestID string                 `json:"request_id,omitempty"` // HTTP request ID for correlation
	Context   map[string]interface{} `json:"context,omitempty"`    // Event-specific payload
}

// MarshalBinary implements encoding.BinaryMarshaler for BBolt storage
func (e *EventRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BBolt storage
func (e *EventRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// EventFilter represents query parameters for listing audit events.
// Cursor is the opaque key returned by a previous ListEvents page;
// iteration resumes strictly after it (older records).
type EventFilter struct {
	Event     string    // Filter by event name
	Decision  string    // Filter by decision (allowed/blocked/flagged/info)
	SessionID string    // Filter by guard session
	Since     time.Time // Events at or after this time
	Until     time.Time // Events at or before this time
	Limit     int       // Max records to return (default 50, max 500)
	Cursor    string    // Resume key from a previous page
}

// DefaultEventFilter returns an EventFilter with sensible defaults
func DefaultEventFilter() EventFilter {
	return EventFilter{Limit: 50}
}

// Validate normalizes the filter in place
func (f *EventFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// Matches checks if an event record matches the filter criteria
func (f *EventFilter) Matches(record *EventRecord) bool {
	if f.Event != "" && record.Event != f.Event {
		return false
	}
	if f.Decision != "" && record.Decision != f.Decision {
		return false
	}
	if f.SessionID != "" && record.SessionID != f.SessionID {
		return false
	}
	if !f.Since.IsZero() && record.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && record.Timestamp.After(f.Until) {
		return false
	}
	return true
}
