// Package action validates proposed tool calls before they execute.
// Check walks a fixed gauntlet of gates: policy ACL, per-tool rate
// window, denial-of-wallet budget, parameter safety, parameter content
// scan, exfiltration guard, then approval. The first failing gate
// blocks the call.
package action

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

// Gate names recorded in audit context so blocks can be attributed.
const (
	gateACL          = "acl"
	gateRateLimit    = "rate_limit"
	gateWallet       = "denial_of_wallet"
	gateParamSafety  = "param_safety"
	gateParamScan    = "param_scan"
	gateExfiltration = "exfiltration"
	gateApproval     = "approval"
)

// DefaultMinLineLength is the shortest line the exfiltration guard
// fingerprints. Shorter lines are too generic to identify data.
const DefaultMinLineLength = 16

// ACLConfig holds glob lists evaluated against tool names. Deny wins
// over everything, requireApproval routes matching tools through the
// approval callback, and a non-empty allow list denies any tool it
// does not cover.
type ACLConfig struct {
	Allow           []string `json:"allow,omitempty" mapstructure:"allow"`
	Deny            []string `json:"deny,omitempty" mapstructure:"deny"`
	RequireApproval []string `json:"require_approval,omitempty" mapstructure:"require_approval"`
}

// RateLimit caps calls to one tool inside a rolling window. Window
// strings use the {N}{s|m|h|d} form; anything else falls back to 60s.
type RateLimit struct {
	Max    int    `json:"max" mapstructure:"max"`
	Window string `json:"window" mapstructure:"window"`
}

// WalletConfig bounds total activity inside one rolling window so a
// compromised loop cannot run up API spend. Operations count tool
// calls plus sandbox triggers.
type WalletConfig struct {
	MaxToolCalls       int    `json:"max_tool_calls" mapstructure:"max_tool_calls"`
	MaxOperations      int    `json:"max_operations" mapstructure:"max_operations"`
	MaxSandboxTriggers int    `json:"max_sandbox_triggers" mapstructure:"max_sandbox_triggers"`
	Window             string `json:"window" mapstructure:"window"`
}

// DataFlowConfig controls the exfiltration guard.
type DataFlowConfig struct {
	NoExfiltration           bool     `json:"no_exfiltration" mapstructure:"no_exfiltration"`
	ExfiltrationToolPatterns []string `json:"exfiltration_tool_patterns,omitempty" mapstructure:"exfiltration_tool_patterns"`
	MinLineLength            int      `json:"min_line_length,omitempty" mapstructure:"min_line_length"`
}

// Config assembles every gate's settings.
type Config struct {
	ACL        ACLConfig            `json:"acl" mapstructure:"acl"`
	RateLimits map[string]RateLimit `json:"rate_limits,omitempty" mapstructure:"rate_limits"`
	Wallet     WalletConfig         `json:"wallet" mapstructure:"wallet"`
	ScanParams bool                 `json:"scan_params" mapstructure:"scan_params"`
	DataFlow   DataFlowConfig       `json:"data_flow" mapstructure:"data_flow"`
}

// DefaultConfig permits everything except runaway spend: no ACL, no
// per-tool limits, wallet caps of 100 calls / 500 operations / 50
// sandbox triggers per five minutes, parameter scanning on.
func DefaultConfig() *Config {
	return &Config{
		RateLimits: map[string]RateLimit{},
		Wallet: WalletConfig{
			MaxToolCalls:       100,
			MaxOperations:      500,
			MaxSandboxTriggers: 50,
			Window:             "5m",
		},
		ScanParams: true,
		DataFlow: DataFlowConfig{
			ExfiltrationToolPatterns: DefaultExfiltrationPatterns(),
			MinLineLength:            DefaultMinLineLength,
		},
	}
}

// DefaultExfiltrationPatterns matches tools that move data out of the
// agent's boundary.
func DefaultExfiltrationPatterns() []string {
	return []string{"send_*", "email_*", "http_*", "webhook_*"}
}

// ProposedAction is the tool call the model wants to make.
type ProposedAction struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Request carries one proposed action through Check.
type Request struct {
	OriginalRequest    string         `json:"original_request,omitempty"`
	Proposed           ProposedAction `json:"proposed"`
	PreviousToolOutput string         `json:"previous_tool_output,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	RequestID          string         `json:"request_id,omitempty"`
}

// Decision is the verdict for one proposed action.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalGranted  bool   `json:"approval_granted"`
}

// ApprovalFunc resolves approval-gated calls. Returning false or an
// error blocks the call.
type ApprovalFunc func(ctx context.Context, req *Request) (bool, error)

// Validator screens proposed tool calls. Safe for concurrent use.
type Validator struct {
	// cfg is swapped atomically so policy hot-reloads never stall an
	// in-flight check. Each Check reads one consistent snapshot.
	cfg     atomic.Pointer[Config]
	scanner *scanner.Scanner
	bus     *audit.Bus
	logger  *zap.SugaredLogger

	onApproval ApprovalFunc
	now        func() time.Time

	mu           sync.Mutex
	rateWindows  map[string][]time.Time
	wallet       walletWindow
	fingerprints map[string]struct{}
}

// Option adjusts Validator construction.
type Option func(*Validator)

// WithApprovalCallback installs the resolver for approval-gated tools.
func WithApprovalCallback(fn ApprovalFunc) Option {
	return func(v *Validator) { v.onApproval = fn }
}

// New creates a validator. The scanner may be nil when parameter
// scanning is disabled; the bus may be nil to skip audit reporting.
func New(cfg *Config, sc *scanner.Scanner, bus *audit.Bus, logger *zap.SugaredLogger, opts ...Option) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	normalized := *cfg
	applyDefaults(&normalized)

	v := &Validator{
		scanner:      sc,
		bus:          bus,
		logger:       logger,
		now:          time.Now,
		rateWindows:  make(map[string][]time.Time),
		fingerprints: make(map[string]struct{}),
	}
	v.cfg.Store(&normalized)
	for _, opt := range opts {
		opt(v)
	}

	if normalized.ScanParams && sc == nil {
		logger.Warnw("Parameter scanning enabled without a scanner, gate will be skipped")
	}
	return v
}

// UpdateConfig swaps the gate settings in place, normalizing defaults
// the same way New does. In-flight checks finish on the snapshot they
// started with; session state (rate windows, wallet counters, read
// fingerprints) survives the swap.
func (v *Validator) UpdateConfig(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	normalized := *cfg
	applyDefaults(&normalized)
	v.cfg.Store(&normalized)
	v.logger.Infow("Action gate configuration updated",
		"deny_rules", len(normalized.ACL.Deny),
		"allow_rules", len(normalized.ACL.Allow),
		"rate_limited_tools", len(normalized.RateLimits))
}

// Config returns the active configuration snapshot.
func (v *Validator) Config() *Config {
	return v.cfg.Load()
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Wallet.MaxToolCalls <= 0 {
		cfg.Wallet.MaxToolCalls = def.Wallet.MaxToolCalls
	}
	if cfg.Wallet.MaxOperations <= 0 {
		cfg.Wallet.MaxOperations = def.Wallet.MaxOperations
	}
	if cfg.Wallet.MaxSandboxTriggers <= 0 {
		cfg.Wallet.MaxSandboxTriggers = def.Wallet.MaxSandboxTriggers
	}
	if cfg.Wallet.Window == "" {
		cfg.Wallet.Window = def.Wallet.Window
	}
	if len(cfg.DataFlow.ExfiltrationToolPatterns) == 0 {
		cfg.DataFlow.ExfiltrationToolPatterns = DefaultExfiltrationPatterns()
	}
	if cfg.DataFlow.MinLineLength <= 0 {
		cfg.DataFlow.MinLineLength = DefaultMinLineLength
	}
}

// Check runs the proposed action through every gate in order and
// returns the first blocking verdict. The error return is reserved for
// gates that could not run at all, such as a failed scan; a blocked
// action is a Decision, not an error.
func (v *Validator) Check(ctx context.Context, req *Request) (*Decision, error) {
	if req == nil {
		return nil, errors.New("action: nil request")
	}
	tool := req.Proposed.Tool
	if tool == "" {
		return nil, errors.New("action: request has no tool name")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := v.cfg.Load()

	// Gate 1: policy ACL.
	if pattern, ok := matchAny(cfg.ACL.Deny, tool); ok {
		return v.block(req, gateACL, fmt.Sprintf("tool %q matches deny list pattern %q", tool, pattern)), nil
	}
	_, requiresApproval := matchAny(cfg.ACL.RequireApproval, tool)
	if !requiresApproval && len(cfg.ACL.Allow) > 0 {
		if _, ok := matchAny(cfg.ACL.Allow, tool); !ok {
			return v.block(req, gateACL, fmt.Sprintf("tool %q not covered by the allow list", tool)), nil
		}
	}

	now := v.now()

	// Gate 2: per-tool rate window.
	if reason, blocked := v.checkRate(tool, now); blocked {
		return v.block(req, gateRateLimit, reason), nil
	}

	// Gate 3: denial-of-wallet budget.
	if reason, counters, blocked := v.checkWallet(now); blocked {
		v.emit(audit.EventDenialOfWallet, audit.DecisionBlocked, req, gateWallet, reason, counters)
		return &Decision{Reason: reason}, nil
	}

	// Gate 4: parameter safety.
	if key, reason, bad := unsafeParam(req.Proposed.Params); bad {
		return v.block(req, gateParamSafety, fmt.Sprintf("unsafe parameter %q: %s", key, reason)), nil
	}

	// Gate 5: parameter content scan.
	if cfg.ScanParams && v.scanner != nil {
		if flattened := flattenParams(req.Proposed.Params); flattened != "" {
			q := quarantine.Wrap(flattened, quarantine.SourceModelOutput)
			result, err := v.scanner.Scan(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("parameter scan failed: %w", err)
			}
			if !result.Safe {
				reason := fmt.Sprintf("parameters flagged by scanner (score %.2f)", result.Score)
				v.emit(audit.EventActionBlocked, audit.DecisionBlocked, req, gateParamScan, reason, map[string]interface{}{
					"score":      result.Score,
					"detections": len(result.Detections),
				})
				return &Decision{Reason: reason}, nil
			}
		}
	}

	// Gate 6: exfiltration guard. Prior output is fingerprinted before
	// the params are checked so a call can be caught echoing data it
	// carried in itself.
	if cfg.DataFlow.NoExfiltration {
		v.RecordReadData(req.PreviousToolOutput)
		if _, ok := matchAny(cfg.DataFlow.ExfiltrationToolPatterns, tool); ok {
			if key, hit := v.paramCarriesRecordedData(req.Proposed.Params); hit {
				return v.block(req, gateExfiltration, fmt.Sprintf("parameter %q carries data read earlier in the session", key)), nil
			}
		}
	}

	// Gate 7: approval.
	if requiresApproval {
		decision, err := v.awaitApproval(ctx, req, tool)
		return decision, err
	}

	return &Decision{Allowed: true}, nil
}

func (v *Validator) awaitApproval(ctx context.Context, req *Request, tool string) (*Decision, error) {
	if v.onApproval == nil {
		d := v.block(req, gateApproval, fmt.Sprintf("tool %q requires approval but no approval callback is configured", tool))
		d.RequiresApproval = true
		return d, nil
	}

	granted, err := v.onApproval(ctx, req)
	if err != nil {
		d := v.block(req, gateApproval, fmt.Sprintf("approval callback failed: %v", err))
		d.RequiresApproval = true
		return d, nil
	}
	if !granted {
		d := v.block(req, gateApproval, fmt.Sprintf("approval denied for tool %q", tool))
		d.RequiresApproval = true
		return d, nil
	}

	v.emit(audit.EventActionApproved, audit.DecisionAllowed, req, gateApproval, "", nil)
	return &Decision{Allowed: true, RequiresApproval: true, ApprovalGranted: true}, nil
}

func (v *Validator) block(req *Request, gate, reason string) *Decision {
	v.emit(audit.EventActionBlocked, audit.DecisionBlocked, req, gate, reason, nil)
	return &Decision{Reason: reason}
}

func (v *Validator) emit(event string, decision audit.Decision, req *Request, gate, reason string, extra map[string]interface{}) {
	if v.bus == nil {
		return
	}

	context := map[string]interface{}{
		"tool": req.Proposed.Tool,
		"gate": gate,
	}
	if reason != "" {
		context["reason"] = reason
	}
	for k, val := range extra {
		context[k] = val
	}

	v.bus.Emit(audit.Entry{
		Event:     event,
		Decision:  decision,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Context:   context,
	})
}

// matchAny reports the first glob pattern matching name. Malformed
// patterns never match.
func matchAny(patterns []string, name string) (string, bool) {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return p, true
		}
	}
	return "", false
}
