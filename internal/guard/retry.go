package guard

import (
	"context"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

// Escalation selects how a retry attempt handles previously blocked
// content.
type Escalation string

const (
	// EscalationStricterScanner rescans at paranoid sensitivity; the
	// attempt succeeds only if the rescan passes.
	EscalationStricterScanner Escalation = "stricter_scanner"
	// EscalationSandbox hands the content to sandboxed extraction. The
	// attempt always succeeds; the caller routes the content through
	// the extractor instead of the live conversation.
	EscalationSandbox Escalation = "sandbox"
	// EscalationCombined rescans on the first attempt and sandboxes
	// afterwards.
	EscalationCombined Escalation = "combined"
)

// DefaultMaxRetryAttempts bounds the auto-retry loop.
const DefaultMaxRetryAttempts = 2

// RetryConfig controls the auto-retry handler.
type RetryConfig struct {
	MaxAttempts int        `json:"max_attempts" mapstructure:"max_attempts"`
	Escalation  Escalation `json:"escalation" mapstructure:"escalation"`

	// OnRetry fires before each attempt runs.
	OnRetry func(RetryContext) `json:"-" mapstructure:"-"`
}

// DefaultRetryConfig returns the stock retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxRetryAttempts,
		Escalation:  EscalationStricterScanner,
	}
}

func normalizeRetryConfig(rc *RetryConfig) {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = DefaultMaxRetryAttempts
	}
	switch rc.Escalation {
	case EscalationStricterScanner, EscalationSandbox, EscalationCombined:
	default:
		rc.Escalation = EscalationStricterScanner
	}
}

// RetryContext is what an OnRetry hook sees for one attempt.
type RetryContext struct {
	Attempt    int
	Escalation Escalation
	Detections []patterns.Detection
}

// RetryOutcome reports one AttemptRetry call.
type RetryOutcome struct {
	Attempt    int
	Succeeded  bool
	Escalation Escalation

	// ScanResult is set when the attempt rescanned the content.
	ScanResult *scanner.Result

	// Exhausted is set when the attempt number exceeded the budget; no
	// escalation ran.
	Exhausted bool
}

// AttemptRetry runs one escalated retry of blocked content. The sc
// parameter overrides the guard's scanner for rescans; pass nil to use
// the guard's own. Attempts past MaxAttempts report Exhausted without
// running anything.
func (g *Guard) AttemptRetry(ctx context.Context, q quarantine.Quarantined[string], detections []patterns.Detection, attempt int, sc *scanner.Scanner) (*RetryOutcome, error) {
	if attempt > g.cfg.Retry.MaxAttempts {
		return &RetryOutcome{Attempt: attempt, Exhausted: true}, nil
	}

	escalation := g.cfg.Retry.Escalation
	if escalation == EscalationCombined {
		if attempt == 1 {
			escalation = EscalationStricterScanner
		} else {
			escalation = EscalationSandbox
		}
	}

	if g.cfg.Retry.OnRetry != nil {
		g.cfg.Retry.OnRetry(RetryContext{
			Attempt:    attempt,
			Escalation: escalation,
			Detections: detections,
		})
	}
	g.emit(audit.EventRetryAttempt, audit.DecisionInfo, "", "", map[string]interface{}{
		"attempt":    attempt,
		"escalation": string(escalation),
	})

	outcome := &RetryOutcome{Attempt: attempt, Escalation: escalation}

	switch escalation {
	case EscalationSandbox:
		outcome.Succeeded = true

	default:
		if sc == nil {
			sc = g.scanner
		}
		res, err := sc.ScanAt(ctx, q, patterns.SensitivityParanoid)
		if err != nil {
			return nil, err
		}
		outcome.ScanResult = res
		outcome.Succeeded = res.Safe
	}

	g.logger.Debugw("Retry attempt finished",
		"attempt", attempt,
		"escalation", escalation,
		"succeeded", outcome.Succeeded)
	return outcome, nil
}
