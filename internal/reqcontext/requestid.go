// Package reqcontext carries per-request identity through contexts so
// audit entries, log lines, and API responses correlate.
package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header carrying the request ID.
	RequestIDHeader = "X-Request-Id"

	// MaxRequestIDLength bounds client-supplied IDs.
	MaxRequestIDLength = 256
)

// requestIDKey is unexported so only this package builds the context.
const requestIDKey ContextKey = "request_id"

// Client-supplied IDs are restricted to a safe alphabet. Anything else
// is replaced rather than echoed into headers and logs.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether a client-supplied ID is usable.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GenerateRequestID returns a new UUID v4 request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GetOrGenerateRequestID returns the provided ID when valid, otherwise
// a fresh one.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return GenerateRequestID()
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID, or "" when absent.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
