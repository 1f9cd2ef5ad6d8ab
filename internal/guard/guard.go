// Package guard is the front door of the defense stack. One Guard wires
// the input scanner, stream monitor, chain guard, judge, and media
// scanner to a shared audit bus, owns per-session recovery state, and
// applies the configured recovery mode whenever a scan blocks.
package guard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/chain"
	"github.com/aegis-gate/aegisgate-go/internal/conversation"
	"github.com/aegis-gate/aegisgate-go/internal/judge"
	"github.com/aegis-gate/aegisgate-go/internal/llm"
	"github.com/aegis-gate/aegisgate-go/internal/multimodal"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
	"github.com/aegis-gate/aegisgate-go/internal/stream"
	"github.com/aegis-gate/aegisgate-go/internal/trajectory"
)

// Strategy selects which messages GuardInput scans.
type Strategy string

const (
	// StrategyLastUser scans only the most recent user message.
	StrategyLastUser Strategy = "last-user"
	// StrategyAllUser scans every user message and runs trajectory
	// analysis.
	StrategyAllUser Strategy = "all-user"
	// StrategyFullHistory scans every non-system message and runs
	// trajectory analysis.
	StrategyFullHistory Strategy = "full-history"
)

// RecoveryMode decides what a blocked input does to the session.
type RecoveryMode string

const (
	// ModeContinue returns a BlockedError and mutates nothing.
	ModeContinue RecoveryMode = "continue"
	// ModeResetLast removes the offending message and proceeds.
	ModeResetLast RecoveryMode = "reset-last"
	// ModeQuarantineSession latches the session shut.
	ModeQuarantineSession RecoveryMode = "quarantine-session"
	// ModeTerminateSession returns a TerminatedError.
	ModeTerminateSession RecoveryMode = "terminate-session"
	// ModeAutoRetry runs the retry handler and falls back to
	// ModeContinue semantics on exhaustion.
	ModeAutoRetry RecoveryMode = "auto-retry"
)

const (
	// DefaultMaxSessions caps the tracked session set.
	DefaultMaxSessions = 1024

	// DefaultSessionTTL is how long an idle session's state is kept.
	DefaultSessionTTL = 30 * time.Minute
)

// Config assembles the guard stack. Nil sub-configs use their packages'
// defaults.
type Config struct {
	Mode         RecoveryMode       `json:"mode" mapstructure:"mode"`
	ScanStrategy Strategy           `json:"scan_strategy" mapstructure:"scan_strategy"`
	Scanner      *scanner.Config    `json:"scanner,omitempty" mapstructure:"scanner"`
	Stream       *stream.Config     `json:"stream,omitempty" mapstructure:"stream"`
	Judge        *judge.Config      `json:"judge,omitempty" mapstructure:"judge"`
	Media        *multimodal.Config `json:"media,omitempty" mapstructure:"media"`
	Retry        RetryConfig        `json:"retry" mapstructure:"retry"`
	MaxSessions  int                `json:"max_sessions" mapstructure:"max_sessions"`
	SessionTTL   time.Duration      `json:"session_ttl" mapstructure:"session_ttl"`
}

// DefaultConfig returns the stock guard configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeContinue,
		ScanStrategy: StrategyLastUser,
		Retry:        DefaultRetryConfig(),
		MaxSessions:  DefaultMaxSessions,
		SessionTTL:   DefaultSessionTTL,
	}
}

// Guard is the assembled defense stack. Safe for concurrent use.
type Guard struct {
	cfg     *Config
	scanner *scanner.Scanner
	monitor *stream.Monitor
	chain   *chain.Guard
	judge   *judge.Judge
	media   *multimodal.Scanner
	bus     *audit.Bus
	logger  *zap.SugaredLogger

	// construction-time inputs captured by options
	judgeCall llm.CallFunc
	extractor multimodal.Extractor
	tokenizer llm.Tokenizer
	decay     []chain.DecayStep
	canaries  *stream.CanaryStore

	sessions *sessionTable

	now func() time.Time
}

// Option customizes guard construction.
type Option func(*Guard)

// WithAuditBus attaches the shared audit bus. Without one the guard
// still works but emits nothing.
func WithAuditBus(bus *audit.Bus) Option {
	return func(g *Guard) { g.bus = bus }
}

// WithJudgeModel wires the judge's model call. JudgeOutput fails with
// ErrJudgeNotConfigured until one is set.
func WithJudgeModel(call llm.CallFunc) Option {
	return func(g *Guard) { g.judgeCall = call }
}

// WithMediaExtractor wires the media scanner's extractor. ScanMedia
// fails with ErrMultiModalNotConfigured until one is set.
func WithMediaExtractor(ext multimodal.Extractor) Option {
	return func(g *Guard) { g.extractor = ext }
}

// WithTokenizer sets the tokenizer used for judge prompt budgeting.
func WithTokenizer(t llm.Tokenizer) Option {
	return func(g *Guard) { g.tokenizer = t }
}

// WithDecaySchedule replaces the chain guard's tool-decay schedule.
func WithDecaySchedule(schedule []chain.DecayStep) Option {
	return func(g *Guard) { g.decay = schedule }
}

// WithCanaryStore contributes live canary tokens to stream monitoring.
func WithCanaryStore(cs *stream.CanaryStore) Option {
	return func(g *Guard) { g.canaries = cs }
}

// New assembles a Guard. Component configs come from cfg; the model
// call, extractor, and bus come from options.
func New(cfg *Config, logger *zap.SugaredLogger, opts ...Option) *Guard {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Mode {
	case ModeContinue, ModeResetLast, ModeQuarantineSession, ModeTerminateSession, ModeAutoRetry:
	default:
		cfg.Mode = ModeContinue
	}
	switch cfg.ScanStrategy {
	case StrategyLastUser, StrategyAllUser, StrategyFullHistory:
	default:
		cfg.ScanStrategy = StrategyLastUser
	}
	normalizeRetryConfig(&cfg.Retry)
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	g := &Guard{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sessions = newSessionTable(cfg.MaxSessions, cfg.SessionTTL)

	base := logger.Desugar()
	g.scanner = scanner.New(cfg.Scanner, base)

	streamCfg := cfg.Stream
	if streamCfg == nil {
		streamCfg = stream.DefaultConfig()
	}
	monitored := *streamCfg
	if g.canaries != nil {
		monitored.CanaryStore = g.canaries
	}
	userHook := monitored.OnViolation
	monitored.OnViolation = func(v stream.Violation) {
		g.emitStreamViolation(v)
		if userHook != nil {
			userHook(v)
		}
	}
	g.monitor = stream.NewMonitor(&monitored, base)

	var chainOpts []chain.Option
	if len(g.decay) > 0 {
		chainOpts = append(chainOpts, chain.WithDecaySchedule(g.decay))
	}
	g.chain = chain.New(g.scanner, g.bus, logger, chainOpts...)

	if g.judgeCall != nil {
		var jopts []judge.Option
		if g.tokenizer != nil {
			jopts = append(jopts, judge.WithTokenizer(g.tokenizer))
		}
		g.judge = judge.New(cfg.Judge, g.judgeCall, base, jopts...)
	}

	if g.extractor != nil {
		g.media = multimodal.New(cfg.Media, g.extractor, g.scanner, g.bus, logger)
	}

	return g
}

// Scanner exposes the underlying input scanner, mainly for one-shot
// scans outside a conversation.
func (g *Guard) Scanner() *scanner.Scanner { return g.scanner }

// Bus returns the attached audit bus, nil when none was wired.
func (g *Guard) Bus() *audit.Bus { return g.bus }

// InputOptions adjusts one GuardInput call.
type InputOptions struct {
	SessionID string
	RequestID string

	// Strategy overrides the configured scan strategy when non-empty.
	Strategy Strategy
}

// InputResult is a successful GuardInput outcome.
type InputResult struct {
	// Messages is the history the caller should proceed with. The
	// reset-last mode returns it with the offending entry removed;
	// every other path returns it unchanged.
	Messages []conversation.Message

	// ScanResult is the highest-scoring scan of the call, nil when
	// nothing was scannable.
	ScanResult *scanner.Result

	// Trajectory is set for the all-user and full-history strategies.
	Trajectory *trajectory.Analysis

	// Retry reports the auto-retry outcome when that path ran.
	Retry *RetryOutcome
}

type scanTarget struct {
	index  int
	text   string
	source quarantine.ContentSource
}

// targetsFor maps a strategy onto the messages to scan. System messages
// are operator-authored and never scanned; messages with no scannable
// text (image-only parts) are skipped.
func targetsFor(messages []conversation.Message, strategy Strategy) []scanTarget {
	var out []scanTarget
	switch strategy {
	case StrategyAllUser:
		for i, m := range messages {
			if m.Role == conversation.RoleUser {
				out = append(out, scanTarget{i, m.Text(), quarantine.SourceUserInput})
			}
		}
	case StrategyFullHistory:
		for i, m := range messages {
			source := quarantine.SourceUserInput
			switch m.Role {
			case conversation.RoleSystem:
				continue
			case conversation.RoleAssistant:
				source = quarantine.SourceModelOutput
			case conversation.RoleTool, conversation.RoleFunction:
				source = quarantine.SourceToolOutput
			}
			out = append(out, scanTarget{i, m.Text(), source})
		}
	default: // StrategyLastUser
		if i := conversation.LastUser(messages); i >= 0 {
			out = append(out, scanTarget{i, messages[i].Text(), quarantine.SourceUserInput})
		}
	}
	return out
}

// GuardInput scans conversation input per the selected strategy and
// applies the configured recovery mode on a block. A quarantined
// session fails immediately with ErrSessionQuarantined.
func (g *Guard) GuardInput(ctx context.Context, messages []conversation.Message, opts InputOptions) (*InputResult, error) {
	if g.sessions.quarantined(opts.SessionID, g.now()) {
		return nil, ErrSessionQuarantined
	}

	strategy := opts.Strategy
	switch strategy {
	case StrategyLastUser, StrategyAllUser, StrategyFullHistory:
	default:
		strategy = g.cfg.ScanStrategy
	}

	targets := targetsFor(messages, strategy)

	var worst *scanner.Result
	scanned := 0
	for _, tgt := range targets {
		if tgt.text == "" {
			continue
		}
		res, err := g.scanner.Scan(ctx, quarantine.Wrap(tgt.text, tgt.source))
		if err != nil {
			return nil, err
		}
		scanned++
		if worst == nil || res.Score > worst.Score {
			worst = res
		}
		if !res.Safe {
			return g.recover(ctx, messages, tgt, res, opts)
		}
	}

	result := &InputResult{Messages: messages, ScanResult: worst}
	if strategy == StrategyAllUser || strategy == StrategyFullHistory {
		analysis := g.scanner.AnalyzeTrajectory(messages)
		result.Trajectory = &analysis
	}

	score := 0.0
	if worst != nil {
		score = worst.Score
	}
	g.emit(audit.EventInputScanned, audit.DecisionAllowed, opts.SessionID, opts.RequestID, map[string]interface{}{
		"strategy": string(strategy),
		"scanned":  scanned,
		"score":    score,
	})
	return result, nil
}

// recover applies the configured recovery mode to one blocked scan.
func (g *Guard) recover(ctx context.Context, messages []conversation.Message, tgt scanTarget, res *scanner.Result, opts InputOptions) (*InputResult, error) {
	g.sessions.recordBlock(opts.SessionID, g.now())

	g.emit(audit.EventInputBlocked, audit.DecisionBlocked, opts.SessionID, opts.RequestID, map[string]interface{}{
		"score":         res.Score,
		"detections":    len(res.Detections),
		"max_severity":  string(res.MaxSeverity()),
		"message_index": tgt.index,
		"mode":          string(g.cfg.Mode),
	})
	g.logger.Warnw("Input blocked",
		"session_id", opts.SessionID,
		"score", res.Score,
		"detections", len(res.Detections),
		"mode", g.cfg.Mode)

	switch g.cfg.Mode {
	case ModeResetLast:
		trimmed := make([]conversation.Message, 0, len(messages)-1)
		trimmed = append(trimmed, messages[:tgt.index]...)
		trimmed = append(trimmed, messages[tgt.index+1:]...)
		g.emit(audit.EventMessageReset, audit.DecisionInfo, opts.SessionID, opts.RequestID, map[string]interface{}{
			"message_index": tgt.index,
		})
		return &InputResult{Messages: trimmed, ScanResult: res}, nil

	case ModeQuarantineSession:
		g.sessions.quarantine(opts.SessionID, g.now())
		g.emit(audit.EventSessionQuarantined, audit.DecisionBlocked, opts.SessionID, opts.RequestID, nil)
		return nil, ErrSessionQuarantined

	case ModeTerminateSession:
		g.emit(audit.EventSessionTerminated, audit.DecisionBlocked, opts.SessionID, opts.RequestID, map[string]interface{}{
			"score": res.Score,
		})
		return nil, &TerminatedError{SessionID: opts.SessionID, ScanResult: res}

	case ModeAutoRetry:
		return g.autoRetry(ctx, messages, tgt, res, opts)

	default:
		return nil, &BlockedError{ScanResult: res}
	}
}

// autoRetry drives the retry handler until success or exhaustion.
// Success proceeds with the original messages; exhaustion falls back to
// ModeContinue semantics.
func (g *Guard) autoRetry(ctx context.Context, messages []conversation.Message, tgt scanTarget, res *scanner.Result, opts InputOptions) (*InputResult, error) {
	q := quarantine.Wrap(tgt.text, tgt.source)

	for attempt := 1; ; attempt++ {
		outcome, err := g.AttemptRetry(ctx, q, res.Detections, attempt, nil)
		if err != nil {
			return nil, err
		}
		if outcome.Exhausted {
			return nil, &BlockedError{ScanResult: res}
		}
		g.sessions.recordRetry(opts.SessionID, g.now())

		if outcome.Succeeded {
			result := &InputResult{Messages: messages, ScanResult: res, Retry: outcome}
			if outcome.ScanResult != nil {
				result.ScanResult = outcome.ScanResult
			}
			return result, nil
		}
	}
}

// StreamTransform starts monitoring one output stream. Violations reach
// the audit bus and any configured OnViolation hook.
func (g *Guard) StreamTransform() *stream.Transform {
	return g.monitor.NewTransform()
}

// GuardChainStep checks one agent-loop iteration of model output.
func (g *Guard) GuardChainStep(ctx context.Context, output string, opts chain.StepOptions) (*chain.StepResult, error) {
	return g.chain.GuardChainStep(ctx, output, opts)
}

// JudgeOutput evaluates a model output with the judge model.
func (g *Guard) JudgeOutput(ctx context.Context, userRequest, output string, evidence *judge.EvalContext) (*judge.Verdict, error) {
	if g.judge == nil || !g.judge.Enabled() {
		return nil, ErrJudgeNotConfigured
	}

	verdict := g.judge.Evaluate(ctx, userRequest, output, evidence)

	decision := audit.DecisionFlagged
	switch verdict.Decision {
	case judge.DecisionApproved:
		decision = audit.DecisionAllowed
	case judge.DecisionRejected:
		decision = audit.DecisionBlocked
	}
	g.emit(audit.EventJudgeVerdict, decision, "", "", map[string]interface{}{
		"decision":   string(verdict.Decision),
		"confidence": verdict.Confidence,
		"elapsed_ms": verdict.ExecutionTimeMs,
	})
	return verdict, nil
}

// ShouldJudge reports whether a scan score warrants a judge pass.
func (g *Guard) ShouldJudge(score float64) bool {
	return g.judge != nil && g.judge.ShouldTrigger(score)
}

// ScanMedia checks one media item through the media scanner.
func (g *Guard) ScanMedia(ctx context.Context, content []byte, mediaType multimodal.MediaType) (*multimodal.Result, error) {
	if g.media == nil {
		return nil, ErrMultiModalNotConfigured
	}
	return g.media.ScanMedia(ctx, content, mediaType)
}

func (g *Guard) emitStreamViolation(v stream.Violation) {
	decision := audit.DecisionFlagged
	if v.Action == stream.ActionTerminated {
		decision = audit.DecisionBlocked
	}
	g.emit(audit.EventStreamViolation, decision, "", "", map[string]interface{}{
		"type":   string(v.Type),
		"action": string(v.Action),
		"label":  v.Label,
	})
}

func (g *Guard) emit(event string, decision audit.Decision, sessionID, requestID string, extra map[string]interface{}) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(audit.Entry{
		Event:     event,
		Decision:  decision,
		SessionID: sessionID,
		RequestID: requestID,
		Context:   extra,
	})
}
