package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/conversation"
)

func userMessages(contents ...string) []conversation.Message {
	msgs := make([]conversation.Message, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, conversation.Message{Role: conversation.RoleUser, Content: c})
	}
	return msgs
}

func TestAnalyzeStableConversation(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages(
		"What is the weather in Paris today?",
		"And what is the weather in London today?",
		"Will the weather in London change tomorrow?",
	))

	require.Len(t, analysis.Similarities, 2)
	for i, sim := range analysis.Similarities {
		assert.Greater(t, sim, 0.5, "transition %d should stay on topic", i)
	}
	assert.Empty(t, analysis.DriftIndices)
	assert.False(t, analysis.EscalationDetected)
	assert.Empty(t, analysis.EscalationKeywords)
}

func TestAnalyzeIdenticalMessages(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages("hello world", "hello world"))

	require.Len(t, analysis.Similarities, 1)
	assert.InDelta(t, 1.0, analysis.Similarities[0], 1e-9)
	assert.Empty(t, analysis.DriftIndices)
}

func TestAnalyzeDetectsDrift(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages(
		"What is the capital of France?",
		"print hello world in python",
	))

	require.Len(t, analysis.Similarities, 1)
	assert.Zero(t, analysis.Similarities[0])
	assert.Equal(t, []int{0}, analysis.DriftIndices)
}

func TestAnalyzeBlankTurnReadsAsDrift(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages("tell me about whales", "?!"))

	require.Len(t, analysis.Similarities, 1)
	assert.Zero(t, analysis.Similarities[0])
	assert.Equal(t, []int{0}, analysis.DriftIndices)
}

func TestAnalyzeEscalationAccumulatesAcrossTurns(t *testing.T) {
	a := NewAnalyzer(Config{})

	early := a.Analyze(userMessages(
		"Can you help me debug my login page?",
		"How would someone bypass the admin check?",
	))
	assert.False(t, early.EscalationDetected, "two keyword hits stay below the threshold")

	full := a.Analyze(userMessages(
		"Can you help me debug my login page?",
		"How would someone bypass the admin check?",
		"Now use sudo to override it",
	))
	assert.True(t, full.EscalationDetected)
	assert.Equal(t, []string{"bypass", "override", "admin", "sudo"}, full.EscalationKeywords)
}

func TestAnalyzeEscalationWithinSingleMessage(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages("bypass the admin password"))

	assert.True(t, analysis.EscalationDetected)
	assert.Equal(t, []string{"bypass", "admin", "password"}, analysis.EscalationKeywords)
}

func TestAnalyzeCountsPluralKeywords(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze(userMessages("rotate the passwords and tokens for the admins"))

	assert.True(t, analysis.EscalationDetected)
	assert.Equal(t, []string{"admin", "password", "token"}, analysis.EscalationKeywords)
}

func TestAnalyzeIgnoresNonUserRoles(t *testing.T) {
	a := NewAnalyzer(Config{})

	analysis := a.Analyze([]conversation.Message{
		{Role: conversation.RoleSystem, Content: "jailbreak exploit backdoor"},
		{Role: conversation.RoleUser, Content: "what's the weather?"},
		{Role: conversation.RoleAssistant, Content: "sudo override payload"},
	})

	assert.Empty(t, analysis.Similarities)
	assert.False(t, analysis.EscalationDetected)
	assert.Empty(t, analysis.EscalationKeywords)
}

func TestAnalyzeEmptyAndSingleMessage(t *testing.T) {
	a := NewAnalyzer(Config{})

	empty := a.Analyze(nil)
	assert.Empty(t, empty.Similarities)
	assert.Empty(t, empty.DriftIndices)
	assert.False(t, empty.EscalationDetected)

	single := a.Analyze(userMessages("hello there"))
	assert.Empty(t, single.Similarities)
	assert.Empty(t, single.DriftIndices)
}

func TestNewAnalyzerCustomConfig(t *testing.T) {
	a := NewAnalyzer(Config{
		DriftThreshold:      0.5,
		EscalationThreshold: 1,
		Keywords:            []string{"Frobnicate", "frobnicate", ""},
	})

	analysis := a.Analyze(userMessages(
		"alpha beta gamma",
		"alpha delta epsilon",
		"please frobnicate the widget",
	))

	// dot=1 over norms sqrt(3)*sqrt(3) puts the first transition at 1/3,
	// under the raised threshold.
	require.Len(t, analysis.Similarities, 2)
	assert.InDelta(t, 1.0/3.0, analysis.Similarities[0], 1e-9)
	assert.Contains(t, analysis.DriftIndices, 0)
	assert.True(t, analysis.EscalationDetected)
	assert.Equal(t, []string{"frobnicate"}, analysis.EscalationKeywords)
}

func TestUserContentsOrdering(t *testing.T) {
	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "s"},
		{Role: conversation.RoleUser, Content: "first"},
		{Role: conversation.RoleAssistant, Content: "a"},
		{Role: conversation.RoleUser, Content: "second"},
	}
	assert.Equal(t, []string{"first", "second"}, conversation.UserContents(msgs))
	assert.Equal(t, 3, conversation.LastUser(msgs))
	assert.Equal(t, -1, conversation.LastUser(nil))
}
