package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
)

func TestTruncateCell(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{name: "short passes through", input: "abc", max: 10, expected: "abc"},
		{name: "exact length passes through", input: "abcdefghij", max: 10, expected: "abcdefghij"},
		{name: "long is elided", input: "abcdefghijk", max: 10, expected: "abcdefg..."},
		{name: "tiny max passes through", input: "abcdef", max: 3, expected: "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncateCell(tt.input, tt.max))
		})
	}
}

func TestContextSummary(t *testing.T) {
	summary := contextSummary(map[string]interface{}{
		"reason": "acl",
		"tool":   "rm",
		"noise":  "ignored",
	})
	assert.Contains(t, summary, "reason=acl")
	assert.Contains(t, summary, "tool=rm")
	assert.NotContains(t, summary, "noise")

	assert.Empty(t, contextSummary(nil))
}

func TestFormatEntryLine(t *testing.T) {
	entry := audit.Entry{
		Timestamp: time.Date(2026, 8, 26, 12, 30, 45, 0, time.UTC),
		Event:     "action_blocked",
		Decision:  audit.DecisionBlocked,
		SessionID: "sess-9",
		Context:   map[string]interface{}{"gate": "acl"},
	}

	line := formatEntryLine(entry)
	assert.Contains(t, line, "action_blocked")
	assert.Contains(t, line, "blocked")
	assert.Contains(t, line, "sess-9")
	assert.Contains(t, line, "gate=acl")
	assert.False(t, strings.HasSuffix(line, " "))
}
