package reqcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"uuid", uuid.New().String(), true},
		{"alphanumeric", "req-123_abc", true},
		{"empty", "", false},
		{"spaces", "req 123", false},
		{"newline", "req\n123", false},
		{"header injection", "x\r\nSet-Cookie: a=b", false},
		{"too long", strings.Repeat("a", 257), false},
		{"max length", strings.Repeat("a", 256), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidRequestID(tt.id))
		})
	}
}

func TestGetOrGenerateRequestID(t *testing.T) {
	assert.Equal(t, "client-id-1", GetOrGenerateRequestID("client-id-1"))

	generated := GetOrGenerateRequestID("bad id\n")
	assert.NotEqual(t, "bad id\n", generated)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", GetRequestID(ctx))

	// Use context.TODO() instead of nil as recommended by staticcheck.
	assert.Empty(t, GetRequestID(context.TODO()))
}

func TestCorrelationIDContextRoundTrip(t *testing.T) {
	id := GenerateCorrelationID()
	assert.Len(t, id, 32)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestGenerateCorrelationIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateCorrelationID()
		assert.False(t, seen[id], "duplicate correlation id %s", id)
		seen[id] = true
	}
}

func TestRequestSource(t *testing.T) {
	ctx := WithRequestSource(context.Background(), SourceMCP)
	assert.Equal(t, SourceMCP, GetRequestSource(ctx))

	assert.Equal(t, SourceUnknown, GetRequestSource(context.Background()))
}

func TestWithMetadata(t *testing.T) {
	ctx := WithMetadata(context.Background(), SourceCLI)

	assert.NotEmpty(t, GetCorrelationID(ctx))
	assert.Equal(t, SourceCLI, GetRequestSource(ctx))
}

func TestGetLoggerFallsBackToNop(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
	assert.NotNil(t, GetLogger(context.TODO()))

	logger := zap.NewNop().Sugar()
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
