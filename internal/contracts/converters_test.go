package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
)

func TestParseContentSource(t *testing.T) {
	tests := []struct {
		in   string
		want quarantine.ContentSource
	}{
		{"user", quarantine.SourceUserInput},
		{"user_input", quarantine.SourceUserInput},
		{"USER", quarantine.SourceUserInput},
		{" tool ", quarantine.SourceToolOutput},
		{"tool_output", quarantine.SourceToolOutput},
		{"mcp", quarantine.SourceMCPToolOutput},
		{"web", quarantine.SourceWebContent},
		{"rag", quarantine.SourceRAGRetrieval},
		{"api", quarantine.SourceAPIResponse},
		{"file", quarantine.SourceFileUpload},
		{"email", quarantine.SourceEmail},
		{"db", quarantine.SourceDatabase},
		{"model", quarantine.SourceModelOutput},
		{"", quarantine.SourceUnknown},
		{"carrier-pigeon", quarantine.SourceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseContentSource(tt.in))
		})
	}
}

func TestScanRequestQuarantined(t *testing.T) {
	req := &ScanRequest{Text: "hello there", Source: "web"}

	q := req.Quarantined()
	assert.Equal(t, quarantine.SourceWebContent, q.Source())

	value, err := q.Unwrap("scan request body")
	require.NoError(t, err)
	assert.Equal(t, "hello there", value)
}

func TestValidateActionRequestConversion(t *testing.T) {
	req := &ValidateActionRequest{
		Tool:               "send_email",
		Params:             map[string]interface{}{"to": "ops@example.com"},
		SessionID:          "sess-1",
		OriginalRequest:    "email the report to ops",
		PreviousToolOutput: "report generated",
	}

	ar := req.ActionRequest()
	assert.Equal(t, "send_email", ar.Proposed.Tool)
	assert.Equal(t, "ops@example.com", ar.Proposed.Params["to"])
	assert.Equal(t, "sess-1", ar.SessionID)
	assert.Equal(t, "email the report to ops", ar.OriginalRequest)
	assert.Equal(t, "report generated", ar.PreviousToolOutput)
}

func TestResponseEnvelopes(t *testing.T) {
	ok := NewSuccessResponse(map[string]int{"n": 1})
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	bad := NewErrorResponse("nope")
	assert.False(t, bad.Success)
	assert.Equal(t, "nope", bad.Error)
	assert.Nil(t, bad.Data)
}
