package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/conversation"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
)

func wrapped(text string) quarantine.Quarantined[string] {
	return quarantine.Wrap(text, quarantine.SourceUserInput)
}

func TestAttemptRetryStricterPassesCleanContent(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	outcome, err := g.AttemptRetry(context.Background(), wrapped(benignText), nil, 1, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, EscalationStricterScanner, outcome.Escalation)
	require.NotNil(t, outcome.ScanResult)
	assert.True(t, outcome.ScanResult.Safe)
	assert.False(t, outcome.Exhausted)
}

func TestAttemptRetryStricterFailsInjectedContent(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	outcome, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, 1, nil)
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded)
	require.NotNil(t, outcome.ScanResult)
	assert.False(t, outcome.ScanResult.Safe)
}

func TestAttemptRetrySandboxAlwaysSucceeds(t *testing.T) {
	g, _ := newTestGuard(t, &Config{Retry: RetryConfig{Escalation: EscalationSandbox}})

	outcome, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, 1, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, EscalationSandbox, outcome.Escalation)
	assert.Nil(t, outcome.ScanResult, "sandbox routing skips the rescan")
}

func TestAttemptRetryCombinedSchedule(t *testing.T) {
	g, _ := newTestGuard(t, &Config{Retry: RetryConfig{MaxAttempts: 3, Escalation: EscalationCombined}})

	first, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, EscalationStricterScanner, first.Escalation)
	assert.False(t, first.Succeeded)

	second, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, EscalationSandbox, second.Escalation)
	assert.True(t, second.Succeeded)
}

func TestAttemptRetryPastBudgetExhausts(t *testing.T) {
	hooks := 0
	g, bus := newTestGuard(t, &Config{Retry: RetryConfig{
		MaxAttempts: 2,
		OnRetry:     func(RetryContext) { hooks++ },
	}})

	outcome, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, 3, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Exhausted)
	assert.False(t, outcome.Succeeded)
	assert.Equal(t, 3, outcome.Attempt)
	assert.Zero(t, hooks, "no escalation runs past the budget")
	assert.Nil(t, findEvent(t, bus, audit.EventRetryAttempt))
}

func TestAttemptRetryFiresHookAndEvent(t *testing.T) {
	var seen []RetryContext
	g, bus := newTestGuard(t, &Config{Retry: RetryConfig{
		MaxAttempts: 2,
		OnRetry:     func(rc RetryContext) { seen = append(seen, rc) },
	}})

	res, err := g.Scanner().Scan(context.Background(), wrapped(injectedText))
	require.NoError(t, err)
	require.False(t, res.Safe)

	_, err = g.AttemptRetry(context.Background(), wrapped(injectedText), res.Detections, 1, nil)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].Attempt)
	assert.Equal(t, EscalationStricterScanner, seen[0].Escalation)
	assert.NotEmpty(t, seen[0].Detections)

	entry := findEvent(t, bus, audit.EventRetryAttempt)
	require.NotNil(t, entry)
	assert.Equal(t, audit.DecisionInfo, entry.Decision)
	assert.Equal(t, 1, entry.Context["attempt"])
	assert.Equal(t, "stricter_scanner", entry.Context["escalation"])
}

func TestGuardInputAutoRetrySandboxProceeds(t *testing.T) {
	g, bus := newTestGuard(t, &Config{
		Mode:  ModeAutoRetry,
		Retry: RetryConfig{Escalation: EscalationSandbox},
	})

	msgs := []conversation.Message{user(injectedText)}
	res, err := g.GuardInput(context.Background(), msgs, InputOptions{SessionID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, msgs, res.Messages)
	require.NotNil(t, res.Retry)
	assert.True(t, res.Retry.Succeeded)
	assert.Equal(t, 1, res.Retry.Attempt)
	assert.Equal(t, EscalationSandbox, res.Retry.Escalation)
	require.NotNil(t, res.ScanResult)
	assert.False(t, res.ScanResult.Safe, "the original scan result travels with the retry outcome")

	info, ok := g.Session("r1")
	require.True(t, ok)
	assert.Equal(t, 1, info.Blocks)
	assert.Equal(t, 1, info.Retries)

	require.NotNil(t, findEvent(t, bus, audit.EventInputBlocked))
	require.NotNil(t, findEvent(t, bus, audit.EventRetryAttempt))
}

func TestGuardInputAutoRetryStricterExhausts(t *testing.T) {
	attempts := 0
	g, _ := newTestGuard(t, &Config{
		Mode: ModeAutoRetry,
		Retry: RetryConfig{
			MaxAttempts: 2,
			Escalation:  EscalationStricterScanner,
			OnRetry:     func(RetryContext) { attempts++ },
		},
	})

	_, err := g.GuardInput(context.Background(), []conversation.Message{user(injectedText)}, InputOptions{SessionID: "r2"})

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, 2, attempts, "both budgeted attempts ran before giving up")

	info, ok := g.Session("r2")
	require.True(t, ok)
	assert.Equal(t, 2, info.Retries)
}

func TestGuardInputAutoRetryCombinedRecoversOnSandbox(t *testing.T) {
	var seen []Escalation
	g, _ := newTestGuard(t, &Config{
		Mode: ModeAutoRetry,
		Retry: RetryConfig{
			MaxAttempts: 2,
			Escalation:  EscalationCombined,
			OnRetry:     func(rc RetryContext) { seen = append(seen, rc.Escalation) },
		},
	})

	res, err := g.GuardInput(context.Background(), []conversation.Message{user(injectedText)}, InputOptions{SessionID: "r3"})
	require.NoError(t, err)

	require.NotNil(t, res.Retry)
	assert.Equal(t, 2, res.Retry.Attempt)
	assert.Equal(t, EscalationSandbox, res.Retry.Escalation)
	assert.Equal(t, []Escalation{EscalationStricterScanner, EscalationSandbox}, seen)
}

func TestRetryConfigNormalization(t *testing.T) {
	g := New(&Config{Retry: RetryConfig{MaxAttempts: -1, Escalation: Escalation("bogus")}}, nil)

	assert.Equal(t, DefaultMaxRetryAttempts, g.cfg.Retry.MaxAttempts)
	assert.Equal(t, EscalationStricterScanner, g.cfg.Retry.Escalation)
}

func TestAttemptRetryBudgetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 5).Draw(t, "max")
		attempt := rapid.IntRange(1, 10).Draw(t, "attempt")

		g := New(&Config{Retry: RetryConfig{MaxAttempts: max, Escalation: EscalationSandbox}}, nil)
		outcome, err := g.AttemptRetry(context.Background(), wrapped(injectedText), nil, attempt, nil)
		require.NoError(t, err)

		if attempt > max {
			assert.True(t, outcome.Exhausted)
			assert.False(t, outcome.Succeeded)
		} else {
			assert.False(t, outcome.Exhausted)
			assert.True(t, outcome.Succeeded)
		}
	})
}
