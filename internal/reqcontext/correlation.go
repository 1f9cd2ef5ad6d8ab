package reqcontext

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ContextKey types this package's context keys to avoid collisions.
type ContextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey ContextKey = "correlation_id"

	// RequestSourceKey is the context key for the request source.
	RequestSourceKey ContextKey = "request_source"

	// LoggerKey is the context key for the request-scoped logger.
	LoggerKey ContextKey = "logger"
)

// RequestSource indicates where a guard operation originated.
type RequestSource string

const (
	// SourceRESTAPI marks requests arriving over the admin API.
	SourceRESTAPI RequestSource = "REST_API"

	// SourceCLI marks one-shot CLI invocations.
	SourceCLI RequestSource = "CLI"

	// SourceMCP marks tool calls passing through the MCP adapter.
	SourceMCP RequestSource = "MCP"

	// SourceInternal marks background work such as retention sweeps.
	SourceInternal RequestSource = "INTERNAL"

	// SourceUnknown is the zero state.
	SourceUnknown RequestSource = "UNKNOWN"
)

// GenerateCorrelationID returns a new 128-bit hex correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "t-" + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID, or "" when absent.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestSource stores the request source in the context.
func WithRequestSource(ctx context.Context, source RequestSource) context.Context {
	return context.WithValue(ctx, RequestSourceKey, source)
}

// GetRequestSource retrieves the request source.
func GetRequestSource(ctx context.Context) RequestSource {
	if ctx == nil {
		return SourceUnknown
	}
	if source, ok := ctx.Value(RequestSourceKey).(RequestSource); ok {
		return source
	}
	return SourceUnknown
}

// WithMetadata generates a correlation ID and stores it with the source
// in one step.
func WithMetadata(ctx context.Context, source RequestSource) context.Context {
	ctx = WithCorrelationID(ctx, GenerateCorrelationID())
	return WithRequestSource(ctx, source)
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the request-scoped logger, or a nop logger when
// absent so call sites never nil-check.
func GetLogger(ctx context.Context) *zap.SugaredLogger {
	if ctx == nil {
		return zap.NewNop().Sugar()
	}
	if logger, ok := ctx.Value(LoggerKey).(*zap.SugaredLogger); ok && logger != nil {
		return logger
	}
	return zap.NewNop().Sugar()
}
