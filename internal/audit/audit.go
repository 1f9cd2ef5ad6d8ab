// Package audit is the event bus every guard component reports through.
// Entries land in an in-memory ring for quick inspection and fan out to
// configured sinks (console, rotating file, OTel, persistent store).
// Producers never block on sinks and never see sink errors.
package audit

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Decision classifies the outcome an entry records.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionBlocked Decision = "blocked"
	DecisionFlagged Decision = "flagged"
	DecisionInfo    Decision = "info"
)

// Event names emitted by the guard pipeline.
const (
	EventInputScanned       = "input_scanned"
	EventInputBlocked       = "input_blocked"
	EventMessageReset       = "message_reset"
	EventSessionQuarantined = "session_quarantined"
	EventSessionTerminated  = "session_terminated"
	EventRetryAttempt       = "retry_attempt"
	EventStreamViolation    = "stream_violation"
	EventActionApproved     = "action_approved"
	EventActionBlocked      = "action_blocked"
	EventDenialOfWallet     = "denial_of_wallet"
	EventChainStep          = "chain_step"
	EventChainBlocked       = "chain_blocked"
	EventBudgetExhausted    = "budget_exhausted"
	EventJudgeVerdict       = "judge_verdict"
	EventMediaScanned       = "media_scanned"
	EventMediaBlocked       = "media_blocked"
	EventExtractionResult   = "extraction_result"
	EventAlertTriggered     = "alert_triggered"
	EventAlertResolved      = "alert_resolved"
	EventPolicyReloaded     = "policy_reloaded"
)

// Entry is a single audit event.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Decision  Decision               `json:"decision"`
	SessionID string                 `json:"session_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Sink receives every emitted entry. Implementations may buffer
// internally; a returned error is logged by the bus and goes no further.
type Sink interface {
	Write(entry Entry) error
	Close() error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(entry Entry) error

func (f SinkFunc) Write(entry Entry) error { return f(entry) }
func (f SinkFunc) Close() error            { return nil }

const (
	// DefaultRingSize is how many recent entries the bus retains in memory
	DefaultRingSize = 256

	subscriberBuffer = 256
)

// Config controls the bus.
type Config struct {
	RingSize int `json:"ring_size" mapstructure:"ring_size"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{RingSize: DefaultRingSize}
}

// Bus fans audit entries out to sinks and in-process subscribers.
type Bus struct {
	mu     sync.RWMutex
	sinks  []Sink
	ring   []Entry
	next   int
	filled bool
	subs   map[chan Entry]struct{}
	closed bool
	logger *zap.SugaredLogger
}

// NewBus creates an audit bus with no sinks attached.
func NewBus(cfg Config, logger *zap.SugaredLogger) *Bus {
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		ring:   make([]Entry, cfg.RingSize),
		subs:   make(map[chan Entry]struct{}),
		logger: logger,
	}
}

// AddSink attaches a sink. Safe to call before traffic starts; attaching
// mid-stream only affects subsequent entries.
func (b *Bus) AddSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Emit records an entry, filling in ID and Timestamp when unset, and
// returns the completed entry. Sink failures are logged, never returned.
func (b *Bus) Emit(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return entry
	}
	b.ring[b.next] = entry
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.filled = true
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Write(entry); err != nil {
			b.logger.Warnw("Audit sink write failed",
				"event", entry.Event,
				"error", err)
		}
	}

	b.publish(entry)
	return entry
}

// publish delivers to subscribers without ever blocking the producer.
func (b *Bus) publish(entry Entry) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	b.mu.RUnlock()
}

// Subscribe registers a new subscriber and returns its channel.
// Callers must not close the returned channel; use Unsubscribe when done.
// Slow subscribers drop entries instead of blocking producers.
func (b *Bus) Subscribe() chan Entry {
	ch := make(chan Entry, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Entry) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Recent returns up to n of the most recent entries, newest first.
func (b *Bus) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.filled {
		size = len(b.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.next - i + len(b.ring)) % len(b.ring)
		out = append(out, b.ring[idx])
	}
	return out
}

// Close closes all sinks and subscriber channels. The bus drops any
// entries emitted afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	b.sinks = nil
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Entry]struct{})
	b.mu.Unlock()

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
