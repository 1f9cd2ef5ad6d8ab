// Package scanner fuses encoding normalization, the pattern catalogue, and
// the statistical analyzers into a single composite risk verdict for
// untrusted text. It is the decision core every guard surface routes
// through: inbound messages, agent-loop output, extracted media text, and
// tool parameters all end up here.
package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/analysis"
	"github.com/aegis-gate/aegisgate-go/internal/conversation"
	"github.com/aegis-gate/aegisgate-go/internal/judge"
	"github.com/aegis-gate/aegisgate-go/internal/normalize"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/trajectory"
)

// Config tunes the scanner. Zero values select the documented defaults.
type Config struct {
	// Sensitivity gates which patterns run; see patterns.Sensitivity.
	Sensitivity patterns.Sensitivity `json:"sensitivity"`

	// SafeThreshold is the composite score at which input stops being safe.
	SafeThreshold float64 `json:"safe_threshold"`

	// PositionWeight tunes positional decay of detection weights: 1.0
	// weighs every position equally; values above 1.0 weigh detections
	// later in the text more heavily.
	PositionWeight float64 `json:"position_weight"`

	// EnableEntropy runs the sliding-window entropy pass.
	EnableEntropy bool `json:"enable_entropy"`

	// EnablePerplexity runs the character n-gram perplexity pass.
	EnablePerplexity bool `json:"enable_perplexity"`

	// EnableScript runs Unicode script classification.
	EnableScript bool `json:"enable_script"`

	// MinScriptSwitches is the script-switch count at which a
	// multi_language detection is emitted.
	MinScriptSwitches int `json:"min_script_switches"`

	Normalize  *normalize.Config          `json:"normalize,omitempty"`
	Entropy    *analysis.EntropyConfig    `json:"entropy,omitempty"`
	Perplexity *analysis.PerplexityConfig `json:"perplexity,omitempty"`
	Trajectory trajectory.Config          `json:"trajectory"`
}

// DefaultConfig returns the standard scanner settings.
func DefaultConfig() *Config {
	return &Config{
		Sensitivity:       patterns.SensitivityBalanced,
		SafeThreshold:     0.5,
		PositionWeight:    1.0,
		EnableEntropy:     true,
		EnablePerplexity:  true,
		EnableScript:      true,
		MinScriptSwitches: 3,
	}
}

// Result is the outcome of one scan.
//
// Safe holds exactly when the composite score stays under the safe
// threshold and no high or critical detection fired. Normalized is the
// text after encoding normalization; detection positions refer to it.
type Result struct {
	Safe         bool                       `json:"safe"`
	Score        float64                    `json:"score"`
	Detections   []patterns.Detection       `json:"detections"`
	Normalized   string                     `json:"normalized"`
	Language     string                     `json:"language,omitempty"`
	Entropy      *analysis.EntropyResult    `json:"entropy,omitempty"`
	Perplexity   *analysis.PerplexityResult `json:"perplexity,omitempty"`
	JudgeVerdict *judge.Verdict             `json:"judge_verdict,omitempty"`
}

// HasSeverity reports whether any detection is at least as severe as sev.
func (r *Result) HasSeverity(sev patterns.Severity) bool {
	for _, d := range r.Detections {
		if d.Severity.AtLeast(sev) {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest detection severity, or "" when clean.
func (r *Result) MaxSeverity() patterns.Severity {
	var out patterns.Severity
	for _, d := range r.Detections {
		if out == "" || d.Severity.AtLeast(out) {
			out = d.Severity
		}
	}
	return out
}

// Scanner runs the multi-signal input scan. Safe for concurrent use.
type Scanner struct {
	cfg        *Config
	library    *patterns.Library
	normalizer *normalize.Normalizer
	perplexity *analysis.PerplexityAnalyzer
	trajectory *trajectory.Analyzer
	logger     *zap.Logger
}

// New creates a Scanner; nil config uses defaults.
func New(cfg *Config, logger *zap.Logger) *Scanner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Sensitivity == "" {
		cfg.Sensitivity = patterns.SensitivityBalanced
	}
	if cfg.SafeThreshold <= 0 || cfg.SafeThreshold > 1 {
		cfg.SafeThreshold = DefaultConfig().SafeThreshold
	}
	if cfg.PositionWeight <= 0 {
		cfg.PositionWeight = 1.0
	}
	if cfg.MinScriptSwitches <= 0 {
		cfg.MinScriptSwitches = DefaultConfig().MinScriptSwitches
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		cfg:        cfg,
		library:    patterns.NewLibrary(),
		normalizer: normalize.NewNormalizer(cfg.Normalize),
		perplexity: analysis.NewPerplexityAnalyzer(cfg.Perplexity),
		trajectory: trajectory.NewAnalyzer(cfg.Trajectory),
		logger:     logger,
	}
}

// Sensitivity returns the configured sensitivity level.
func (s *Scanner) Sensitivity() patterns.Sensitivity {
	return s.cfg.Sensitivity
}

// AddCustomRule registers a user-supplied rule with the pattern library.
func (s *Scanner) AddCustomRule(rule patterns.CustomRule) error {
	return s.library.AddCustom(rule)
}

// AddCustomRegex registers bare regex rules with the pattern library.
func (s *Scanner) AddCustomRegex(exprs ...string) error {
	return s.library.AddCustomRegex(exprs...)
}

// Scan releases the quarantined text and runs the full pipeline at the
// configured sensitivity.
func (s *Scanner) Scan(ctx context.Context, q quarantine.Quarantined[string]) (*Result, error) {
	return s.ScanAt(ctx, q, s.cfg.Sensitivity)
}

// ScanAt runs the full pipeline at an explicit sensitivity level. Retry
// escalation uses it to rescan at paranoid.
func (s *Scanner) ScanAt(ctx context.Context, q quarantine.Quarantined[string], level patterns.Sensitivity) (*Result, error) {
	text, err := q.Unwrap(fmt.Sprintf("input scan at sensitivity %s", level))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := s.normalizer.Normalize(text)
	detections := s.library.Match(normalized, level)

	result := &Result{
		Detections: detections,
		Normalized: normalized,
	}

	if s.cfg.EnableEntropy {
		ent := analysis.AnalyzeEntropy(normalized, s.cfg.Entropy)
		result.Entropy = &ent
		if ent.Anomalous {
			result.Detections = append(result.Detections, patterns.Detection{
				Type:     patterns.TypeEntropyAnomaly,
				Pattern:  "entropy_window",
				Severity: patterns.SeverityLow,
				Position: patterns.Position{Start: 0, End: len(normalized)},
				Description: fmt.Sprintf("sliding-window entropy %.2f at or above %.2f",
					ent.MaxWindow, thresholdOf(s.cfg.Entropy)),
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cfg.EnablePerplexity {
		ppl := s.perplexity.Analyze(normalized)
		result.Perplexity = &ppl
		if ppl.Anomalous {
			result.Detections = append(result.Detections, patterns.Detection{
				Type:     patterns.TypePerplexityAnomaly,
				Pattern:  "perplexity_window",
				Severity: patterns.SeverityLow,
				Position: patterns.Position{Start: 0, End: len(normalized)},
				Description: fmt.Sprintf("max window perplexity %.2f at or above %.2f",
					ppl.MaxWindowPerplexity, s.perplexityThreshold()),
			})
		}
	}

	if s.cfg.EnableScript {
		script := analysis.AnalyzeScript(normalized)
		result.Language = string(script.Primary)
		if len(script.Switches) >= s.cfg.MinScriptSwitches {
			result.Detections = append(result.Detections, patterns.Detection{
				Type:     patterns.TypeMultiLanguage,
				Pattern:  "script_switches",
				Severity: patterns.SeverityMedium,
				Position: patterns.Position{Start: 0, End: len(normalized)},
				Description: fmt.Sprintf("%d script switches across %d scripts",
					len(script.Switches), len(script.Scripts)),
			})
		}
	}

	result.Score = s.compositeScore(result.Detections, len(normalized))
	result.Safe = result.Score < s.cfg.SafeThreshold && !result.HasSeverity(patterns.SeverityHigh)

	if !result.Safe {
		s.logger.Debug("scan flagged input",
			zap.Float64("score", result.Score),
			zap.Int("detections", len(result.Detections)),
			zap.String("sensitivity", string(level)))
	}
	return result, nil
}

// AnalyzeTrajectory reports cross-turn drift and escalation over the
// user-role subsequence of messages.
func (s *Scanner) AnalyzeTrajectory(messages []conversation.Message) trajectory.Analysis {
	return s.trajectory.Analyze(messages)
}

// compositeScore sums severity weights across detections, applying the
// positional multiplier, and clamps into [0,1]. Any critical detection
// saturates the score.
func (s *Scanner) compositeScore(detections []patterns.Detection, textLen int) float64 {
	score := 0.0
	for _, d := range detections {
		if d.Severity == patterns.SeverityCritical {
			return 1.0
		}
		w := d.Severity.Weight()
		if s.cfg.PositionWeight != 1.0 && textLen > 0 {
			rel := float64(d.Position.Start) / float64(textLen)
			w *= 1 + (s.cfg.PositionWeight-1)*rel
		}
		score += w
	}
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

func (s *Scanner) perplexityThreshold() float64 {
	if s.cfg.Perplexity != nil && s.cfg.Perplexity.Threshold > 0 {
		return s.cfg.Perplexity.Threshold
	}
	return analysis.DefaultPerplexityConfig().Threshold
}

func thresholdOf(cfg *analysis.EntropyConfig) float64 {
	if cfg != nil && cfg.Threshold > 0 {
		return cfg.Threshold
	}
	return analysis.DefaultEntropyConfig().Threshold
}
