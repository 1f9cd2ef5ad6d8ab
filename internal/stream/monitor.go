// Package stream watches model output as it streams to the caller. Chunks
// pass through with no buffering delay; each one is scanned together with
// an overlap of the previous output so violations spanning chunk
// boundaries are still caught. Canary leaks, secrets, and injection
// payloads kill the stream; PII is redacted in place or kills it,
// depending on configuration.
package stream

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/patterns"
)

var (
	// ErrTerminated is returned by every write at and after a terminating
	// violation.
	ErrTerminated = errors.New("stream terminated by security violation")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("stream transform closed")
)

// Action records what the monitor did about a violation.
type Action string

const (
	ActionTerminated Action = "terminated"
	ActionRedacted   Action = "redacted"
)

// Violation is one detected leak or payload in the output stream.
// Detection positions are absolute byte offsets into the original stream.
type Violation struct {
	Type      patterns.DetectionType `json:"type"`
	Detection patterns.Detection     `json:"detection"`
	Label     string                 `json:"label,omitempty"`
	Action    Action                 `json:"action"`
}

// Grouping controls how passed-through text is batched for emission. It
// never affects scanning.
type Grouping string

const (
	GroupingNone     Grouping = "none"
	GroupingSentence Grouping = "sentence"
	GroupingToken    Grouping = "token"
	GroupingFixed    Grouping = "fixed"
)

// Config controls stream monitoring.
type Config struct {
	// Canaries are literal tokens whose appearance terminates the stream.
	Canaries []string `json:"canaries,omitempty"`

	// CanaryStore, when set, contributes its live tokens on every scan.
	CanaryStore *CanaryStore `json:"-"`

	// PIIRedaction substitutes [REDACTED-{LABEL}] for PII matches instead
	// of terminating.
	PIIRedaction bool `json:"pii_redaction"`

	// Sensitivity selects which injection patterns run against output.
	Sensitivity patterns.Sensitivity `json:"sensitivity"`

	// ChunkSize is added to the longest pattern length to size the
	// overlap buffer.
	ChunkSize int `json:"chunk_size"`

	// Grouping batches emitted text; GroupSize is characters for fixed
	// grouping and whitespace-separated tokens for token grouping.
	Grouping  Grouping `json:"grouping"`
	GroupSize int      `json:"group_size"`

	// OnViolation fires synchronously for every violation, before the
	// write that observed it returns.
	OnViolation func(Violation) `json:"-"`
}

// DefaultConfig returns the stock monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		PIIRedaction: true,
		Sensitivity:  patterns.SensitivityBalanced,
		ChunkSize:    50,
		Grouping:     GroupingNone,
	}
}

// Monitor builds transforms sharing one pattern set. Safe for concurrent
// use; each stream gets its own Transform.
type Monitor struct {
	cfg     *Config
	library *patterns.Library
	pii     []*patterns.Pattern
	secrets []*patterns.Pattern
	logger  *zap.Logger
}

// NewMonitor creates a Monitor; nil config uses defaults.
func NewMonitor(cfg *Config, logger *zap.Logger) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Sensitivity == "" {
		cfg.Sensitivity = patterns.SensitivityBalanced
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	if cfg.Grouping == "" {
		cfg.Grouping = GroupingNone
	}
	if cfg.GroupSize <= 0 {
		switch cfg.Grouping {
		case GroupingToken:
			cfg.GroupSize = 8
		case GroupingFixed:
			cfg.GroupSize = cfg.ChunkSize
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		library: patterns.NewLibrary(),
		pii:     patterns.PIIPatterns(),
		secrets: patterns.SecretPatterns(),
		logger:  logger,
	}
}

// canaryTokens merges static canaries with the live store.
func (m *Monitor) canaryTokens() []string {
	if m.cfg.CanaryStore == nil {
		return m.cfg.Canaries
	}
	return append(append([]string{}, m.cfg.Canaries...), m.cfg.CanaryStore.Tokens()...)
}

// NewTransform starts monitoring one stream.
func (m *Monitor) NewTransform() *Transform {
	overlap := m.library.MaxMatchLength(m.cfg.Sensitivity)
	if n := patterns.MaxMatchLength(m.pii); n > overlap {
		overlap = n
	}
	if n := patterns.MaxMatchLength(m.secrets); n > overlap {
		overlap = n
	}
	for _, c := range m.canaryTokens() {
		if len(c) > overlap {
			overlap = len(c)
		}
	}
	return &Transform{m: m, overlap: overlap + m.cfg.ChunkSize}
}

// Transform is the per-stream text→text monitor. All methods are safe for
// concurrent use, though a stream is normally driven by one goroutine.
type Transform struct {
	m       *Monitor
	overlap int

	mu         sync.Mutex
	tail       string
	streamPos  int
	pending    string
	violations []Violation
	terminated bool
	closed     bool
}

// redaction is a PII match pending substitution, in window coordinates.
type redaction struct {
	det   patterns.Detection
	label string
}

// scanVerdict is the outcome of scanning one window.
type scanVerdict struct {
	terminate  *Violation
	redactions []redaction
}

// Write scans chunk and returns the text to deliver downstream. A
// terminating violation returns ErrTerminated with no output; this and
// every later write fail the same way. Violation callbacks fire before
// Write returns.
func (t *Transform) Write(chunk string) (string, error) {
	out, fired, err := t.write(chunk)
	if cb := t.m.cfg.OnViolation; cb != nil {
		for _, v := range fired {
			cb(v)
		}
	}
	return out, err
}

func (t *Transform) write(chunk string) (string, []Violation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return "", nil, ErrTerminated
	}
	if t.closed {
		return "", nil, ErrClosed
	}
	if chunk == "" {
		return "", nil, nil
	}

	window := t.tail + chunk
	tailLen := len(t.tail)
	winStart := t.streamPos - tailLen

	verdict := t.scanWindow(window, tailLen)

	// The overlap always tracks the original text so boundary-spanning
	// matches see what was actually produced, not what was emitted.
	t.streamPos += len(chunk)
	t.tail = runeSuffix(window, t.overlap)

	if verdict.terminate != nil {
		v := *verdict.terminate
		v.Detection.Position.Start += winStart
		v.Detection.Position.End += winStart
		t.terminated = true
		t.pending = ""
		t.violations = append(t.violations, v)
		t.m.logger.Warn("stream terminated",
			zap.String("type", string(v.Type)),
			zap.String("pattern", v.Detection.Pattern),
			zap.Int("position", v.Detection.Position.Start))
		return "", []Violation{v}, ErrTerminated
	}

	emitted := chunk
	var fired []Violation
	if len(verdict.redactions) > 0 {
		emitted = redactChunk(window, tailLen, verdict.redactions)
		for _, r := range verdict.redactions {
			d := r.det
			d.Position.Start += winStart
			d.Position.End += winStart
			v := Violation{Type: d.Type, Detection: d, Label: r.label, Action: ActionRedacted}
			t.violations = append(t.violations, v)
			fired = append(fired, v)
		}
	}

	return t.group(emitted), fired, nil
}

// scanWindow runs all violation passes over the window. Only matches
// touching the new region (ending past tailLen) count; the rest were
// handled by earlier writes. A scan panic degrades to pass-through so
// malformed input cannot wedge the stream.
func (t *Transform) scanWindow(window string, tailLen int) (verdict scanVerdict) {
	defer func() {
		if r := recover(); r != nil {
			t.m.logger.Error("stream scan failed, passing chunk through", zap.Any("panic", r))
			verdict = scanVerdict{}
		}
	}()

	for _, token := range t.m.canaryTokens() {
		if token == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(window[from:], token)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(token)
			from = end
			if end <= tailLen {
				continue
			}
			return scanVerdict{terminate: &Violation{
				Type: patterns.TypeCanaryLeak,
				Detection: patterns.Detection{
					Type:        patterns.TypeCanaryLeak,
					Pattern:     "canary_literal",
					Matched:     token,
					Severity:    patterns.SeverityCritical,
					Position:    patterns.Position{Start: start, End: end},
					Description: "canary token leaked into output",
				},
				Action: ActionTerminated,
			}}
		}
	}

	for _, p := range t.m.secrets {
		for _, d := range p.Match(window) {
			if d.Position.End <= tailLen {
				continue
			}
			return scanVerdict{terminate: &Violation{Type: d.Type, Detection: d, Action: ActionTerminated}}
		}
	}

	for _, d := range t.m.library.Match(window, t.m.cfg.Sensitivity) {
		if d.Position.End <= tailLen {
			continue
		}
		return scanVerdict{terminate: &Violation{Type: d.Type, Detection: d, Action: ActionTerminated}}
	}

	var reds []redaction
	for _, p := range t.m.pii {
		for _, d := range p.Match(window) {
			if d.Position.End <= tailLen {
				continue
			}
			if !t.m.cfg.PIIRedaction {
				return scanVerdict{terminate: &Violation{Type: d.Type, Detection: d, Label: p.Label, Action: ActionTerminated}}
			}
			reds = append(reds, redaction{det: d, label: p.Label})
		}
	}
	return scanVerdict{redactions: reds}
}

// redactChunk rebuilds the new-region text with matches replaced. Matches
// that started inside the already-delivered overlap contribute only their
// placeholder; the delivered prefix cannot be unsent.
func redactChunk(window string, tailLen int, reds []redaction) string {
	sort.Slice(reds, func(i, j int) bool {
		return reds[i].det.Position.Start < reds[j].det.Position.Start
	})

	var b strings.Builder
	pos := tailLen
	for _, r := range reds {
		start, end := r.det.Position.Start, r.det.Position.End
		if end <= pos {
			continue
		}
		if start > pos {
			b.WriteString(window[pos:start])
			pos = start
		}
		b.WriteString("[REDACTED-" + r.label + "]")
		pos = end
	}
	if pos < len(window) {
		b.WriteString(window[pos:])
	}
	return b.String()
}

// group batches emitted text per the configured grouping mode.
func (t *Transform) group(text string) string {
	switch t.m.cfg.Grouping {
	case GroupingNone:
		return text
	case GroupingSentence:
		t.pending += text
		if i := lastSentenceEnd(t.pending); i >= 0 {
			out := t.pending[:i+1]
			t.pending = t.pending[i+1:]
			return out
		}
	case GroupingToken:
		t.pending += text
		cut := strings.LastIndexAny(t.pending, " \t\n")
		if cut < 0 {
			return ""
		}
		head := t.pending[:cut+1]
		if len(strings.Fields(head)) >= t.m.cfg.GroupSize {
			t.pending = t.pending[cut+1:]
			return head
		}
	case GroupingFixed:
		t.pending += text
		size := t.m.cfg.GroupSize
		if len(t.pending) < size {
			return ""
		}
		cut := size * (len(t.pending) / size)
		if cut >= len(t.pending) {
			out := t.pending
			t.pending = ""
			return out
		}
		for cut > 0 && !utf8.RuneStart(t.pending[cut]) {
			cut--
		}
		if cut == 0 {
			return ""
		}
		out := t.pending[:cut]
		t.pending = t.pending[cut:]
		return out
	}
	return ""
}

func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

// Close flushes any grouped remainder. Writes after Close fail.
func (t *Transform) Close() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return "", ErrTerminated
	}
	if t.closed {
		return "", ErrClosed
	}
	t.closed = true
	out := t.pending
	t.pending = ""
	return out, nil
}

// Terminated reports whether a violation killed the stream.
func (t *Transform) Terminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

// Violations returns everything observed on this stream so far.
func (t *Transform) Violations() []Violation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Violation, len(t.violations))
	copy(out, t.violations)
	return out
}

// runeSuffix returns the last n bytes of s, extended left as needed to
// start on a rune boundary.
func runeSuffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[cut:]
}
