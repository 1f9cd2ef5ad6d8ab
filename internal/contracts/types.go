// Package contracts defines typed data transfer objects for the admin
// API, shared by the server, the CLI client, and the event monitor.
package contracts

import (
	"github.com/aegis-gate/aegisgate-go/internal/index"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

// APIResponse is the standard wrapper for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ScanRequest is the body of POST /api/v1/scan.
type ScanRequest struct {
	// Text is the content to scan.
	Text string `json:"text"`

	// Source names where the content came from: user, tool, web, rag,
	// api, file, email, database, mcp, or model. Unrecognized values
	// scan as unknown, which is treated as untrusted.
	Source string `json:"source,omitempty"`

	// Sensitivity overrides the configured level for this scan:
	// paranoid, balanced, or permissive.
	Sensitivity string `json:"sensitivity,omitempty"`

	// SessionID ties the scan to a guard session in the audit trail.
	SessionID string `json:"session_id,omitempty"`
}

// ValidateActionRequest is the body of POST /api/v1/actions/validate.
// It is the flat wire shape of an action check.
type ValidateActionRequest struct {
	Tool               string                 `json:"tool"`
	Params             map[string]interface{} `json:"params,omitempty"`
	SessionID          string                 `json:"session_id,omitempty"`
	OriginalRequest    string                 `json:"original_request,omitempty"`
	PreviousToolOutput string                 `json:"previous_tool_output,omitempty"`
}

// EventsPage is one page of audit events from GET /api/v1/events.
type EventsPage struct {
	Events     []*storage.EventRecord `json:"events"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// SearchPage is a full-text search result from GET /api/v1/events?q=.
type SearchPage struct {
	Query string       `json:"query"`
	Hits  []*index.Hit `json:"hits"`
}

// VersionInfo is the GET /version payload.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"go_version"`
}

// NewSuccessResponse wraps data in the standard envelope.
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse wraps an error message in the standard envelope.
func NewErrorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   message,
	}
}
