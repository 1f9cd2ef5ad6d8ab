// Package chain guards multi-step agent loops. Each step re-scans the
// model output, accumulates a risk total across the loop, and shrinks
// the available tool surface the longer the loop runs.
package chain

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

const (
	// DefaultMaxSteps bounds the loop length.
	DefaultMaxSteps = 25
	// DefaultRiskBudget bounds total accumulated scan score.
	DefaultRiskBudget = 3.0
)

// DecayStep is one point of the tool-decay schedule: at or past
// StepThreshold, only Fraction of the initial tools remain.
type DecayStep struct {
	StepThreshold int     `json:"step_threshold" mapstructure:"step_threshold"`
	Fraction      float64 `json:"fraction" mapstructure:"fraction"`
}

// DefaultDecaySchedule shrinks the tool surface at steps 10, 15 and 20.
func DefaultDecaySchedule() []DecayStep {
	return []DecayStep{
		{StepThreshold: 10, Fraction: 0.75},
		{StepThreshold: 15, Fraction: 0.5},
		{StepThreshold: 20, Fraction: 0.25},
	}
}

// StepOptions parameterize one chain step check.
type StepOptions struct {
	Step           int      `json:"step"`
	MaxSteps       int      `json:"max_steps,omitempty"`   // default 25
	CumulativeRisk float64  `json:"cumulative_risk"`       // carried from the previous step
	RiskBudget     float64  `json:"risk_budget,omitempty"` // default 3.0
	InitialTools   []string `json:"initial_tools,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	RequestID      string   `json:"request_id,omitempty"`
}

// StepResult is the verdict for one chain step.
type StepResult struct {
	Safe            bool            `json:"safe"`
	Reason          string          `json:"reason,omitempty"`
	CumulativeRisk  float64         `json:"cumulative_risk"`
	ScanResult      *scanner.Result `json:"scan_result,omitempty"`
	AvailableTools  []string        `json:"available_tools,omitempty"`
	BudgetExhausted bool            `json:"budget_exhausted"`
}

// Guard evaluates chain steps. Safe for concurrent use.
type Guard struct {
	scanner  *scanner.Scanner
	schedule []DecayStep
	bus      *audit.Bus
	logger   *zap.SugaredLogger
}

// Option adjusts Guard construction.
type Option func(*Guard)

// WithDecaySchedule replaces the default tool-decay schedule.
func WithDecaySchedule(schedule []DecayStep) Option {
	return func(g *Guard) {
		if len(schedule) == 0 {
			return
		}
		sorted := make([]DecayStep, len(schedule))
		copy(sorted, schedule)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].StepThreshold < sorted[j].StepThreshold
		})
		g.schedule = sorted
	}
}

// New creates a chain guard. The bus may be nil to skip audit reporting.
func New(sc *scanner.Scanner, bus *audit.Bus, logger *zap.SugaredLogger, opts ...Option) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	g := &Guard{
		scanner:  sc,
		schedule: DefaultDecaySchedule(),
		bus:      bus,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GuardChainStep checks one loop iteration. Checks run in a fixed
// order: step budget, output scan, risk budget, scan verdict, then tool
// decay for steps that pass. The returned error is reserved for scan
// failures such as context cancellation.
func (g *Guard) GuardChainStep(ctx context.Context, output string, opts StepOptions) (*StepResult, error) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	riskBudget := opts.RiskBudget
	if riskBudget <= 0 {
		riskBudget = DefaultRiskBudget
	}

	if opts.Step > maxSteps {
		result := &StepResult{
			Safe:            false,
			Reason:          fmt.Sprintf("step budget exhausted: step %d exceeds max %d", opts.Step, maxSteps),
			CumulativeRisk:  opts.CumulativeRisk,
			BudgetExhausted: true,
		}
		g.emit(audit.EventBudgetExhausted, audit.DecisionBlocked, opts, result, map[string]interface{}{
			"reason":    "max_steps_exceeded",
			"max_steps": maxSteps,
		})
		return result, nil
	}

	q := quarantine.Wrap(output, quarantine.SourceModelOutput)
	scanResult, err := g.scanner.Scan(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain step scan failed: %w", err)
	}

	newRisk := opts.CumulativeRisk + scanResult.Score

	if newRisk >= riskBudget {
		result := &StepResult{
			Safe:           false,
			Reason:         fmt.Sprintf("risk budget exhausted: %.2f of %.2f", newRisk, riskBudget),
			CumulativeRisk: newRisk,
			ScanResult:     scanResult,
		}
		g.emit(audit.EventBudgetExhausted, audit.DecisionBlocked, opts, result, map[string]interface{}{
			"reason":      "risk_budget_exceeded",
			"risk_budget": riskBudget,
			"step_score":  scanResult.Score,
		})
		return result, nil
	}

	if !scanResult.Safe {
		result := &StepResult{
			Safe:           false,
			Reason:         fmt.Sprintf("unsafe model output at step %d (score %.2f)", opts.Step, scanResult.Score),
			CumulativeRisk: newRisk,
			ScanResult:     scanResult,
		}
		g.emit(audit.EventChainBlocked, audit.DecisionBlocked, opts, result, map[string]interface{}{
			"step_score": scanResult.Score,
			"detections": len(scanResult.Detections),
		})
		return result, nil
	}

	result := &StepResult{
		Safe:           true,
		CumulativeRisk: newRisk,
		ScanResult:     scanResult,
		AvailableTools: g.ApplyDecay(opts.InitialTools, opts.Step),
	}
	g.emit(audit.EventChainStep, audit.DecisionAllowed, opts, result, map[string]interface{}{
		"step_score":      scanResult.Score,
		"tools_available": len(result.AvailableTools),
	})
	return result, nil
}

// ApplyDecay shrinks the tool list for the given step: the schedule
// entry with the largest threshold ≤ step decides the surviving
// fraction, floored, never below one tool for a non-empty list. The
// list prefix is kept so higher-priority tools survive longest.
func (g *Guard) ApplyDecay(tools []string, step int) []string {
	if len(tools) == 0 {
		return nil
	}

	fraction := 1.0
	for _, ds := range g.schedule {
		if step >= ds.StepThreshold {
			fraction = ds.Fraction
		}
	}

	count := int(float64(len(tools)) * fraction)
	if count < 1 {
		count = 1
	}
	if count > len(tools) {
		count = len(tools)
	}

	out := make([]string, count)
	copy(out, tools[:count])
	return out
}

func (g *Guard) emit(event string, decision audit.Decision, opts StepOptions, result *StepResult, extra map[string]interface{}) {
	if g.bus == nil {
		return
	}

	context := map[string]interface{}{
		"step":            opts.Step,
		"cumulative_risk": result.CumulativeRisk,
		"safe":            result.Safe,
	}
	if result.Reason != "" {
		context["block_reason"] = result.Reason
	}
	for k, v := range extra {
		context[k] = v
	}

	g.bus.Emit(audit.Entry{
		Event:     event,
		Decision:  decision,
		SessionID: opts.SessionID,
		RequestID: opts.RequestID,
		Context:   context,
	})
}
