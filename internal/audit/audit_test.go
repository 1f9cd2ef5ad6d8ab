package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/index"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

func TestMain(m *testing.M) {
	// bleve starts analysis workers at package init and lumberjack's mill
	// goroutine has no shutdown; both live for the process, not the test.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/blevesearch/bleve_index_api.AnalysisWorker"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

// collectSink records writes for assertions.
type collectSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (c *collectSink) Write(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, entry)
	return nil
}

func (c *collectSink) Close() error { return nil }

func (c *collectSink) all() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func TestEmitAssignsIDAndTimestamp(t *testing.T) {
	bus := NewBus(DefaultConfig(), zap.NewNop().Sugar())
	defer bus.Close()

	entry := bus.Emit(Entry{Event: EventInputScanned, Decision: DecisionAllowed})

	assert.Len(t, entry.ID, 26, "expected a ULID")
	assert.False(t, entry.Timestamp.IsZero())
}

func TestEmitFansOutToAllSinks(t *testing.T) {
	bus := NewBus(DefaultConfig(), zap.NewNop().Sugar())
	defer bus.Close()

	first := &collectSink{}
	second := &collectSink{}
	bus.AddSink(first)
	bus.AddSink(second)

	bus.Emit(Entry{Event: EventActionBlocked, Decision: DecisionBlocked, SessionID: "sess-1"})

	require.Len(t, first.all(), 1)
	require.Len(t, second.all(), 1)
	assert.Equal(t, EventActionBlocked, first.all()[0].Event)
	assert.Equal(t, first.all()[0].ID, second.all()[0].ID)
}

func TestSinkErrorsNeverPropagate(t *testing.T) {
	bus := NewBus(DefaultConfig(), zap.NewNop().Sugar())
	defer bus.Close()

	failing := &collectSink{err: fmt.Errorf("disk on fire")}
	healthy := &collectSink{}
	bus.AddSink(failing)
	bus.AddSink(healthy)

	entry := bus.Emit(Entry{Event: EventInputBlocked, Decision: DecisionBlocked})

	assert.NotEmpty(t, entry.ID)
	require.Len(t, healthy.all(), 1, "later sinks still receive the entry")
}

func TestRecentNewestFirst(t *testing.T) {
	bus := NewBus(Config{RingSize: 4}, zap.NewNop().Sugar())
	defer bus.Close()

	for i := 0; i < 6; i++ {
		bus.Emit(Entry{Event: fmt.Sprintf("event_%d", i), Decision: DecisionInfo})
	}

	recent := bus.Recent(10)
	require.Len(t, recent, 4, "ring keeps only the newest entries")
	assert.Equal(t, "event_5", recent[0].Event)
	assert.Equal(t, "event_2", recent[3].Event)

	top := bus.Recent(2)
	require.Len(t, top, 2)
	assert.Equal(t, "event_5", top[0].Event)
	assert.Equal(t, "event_4", top[1].Event)
}

func TestRecentBeforeRingFills(t *testing.T) {
	bus := NewBus(Config{RingSize: 8}, zap.NewNop().Sugar())
	defer bus.Close()

	bus.Emit(Entry{Event: "only", Decision: DecisionInfo})

	recent := bus.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, "only", recent[0].Event)
}

func TestSubscribeReceivesEntries(t *testing.T) {
	bus := NewBus(DefaultConfig(), zap.NewNop().Sugar())
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Emit(Entry{Event: EventJudgeVerdict, Decision: DecisionFlagged})

	select {
	case got := <-ch:
		assert.Equal(t, EventJudgeVerdict, got.Event)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}

	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(DefaultConfig(), zap.NewNop().Sugar())
	defer bus.Close()

	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+100; i++ {
			bus.Emit(Entry{Event: "flood", Decision: DecisionInfo})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a slow subscriber")
	}

	assert.Equal(t, subscriberBuffer, len(ch), "excess entries are dropped")
	bus.Unsubscribe(ch)
}

func TestCloseStopsBus(t *testing.T) {
	bus := NewBus(Config{RingSize: 4}, zap.NewNop().Sugar())

	ch := bus.Subscribe()
	require.NoError(t, bus.Close())

	_, open := <-ch
	assert.False(t, open, "close closes subscriber channels")

	bus.Emit(Entry{Event: "late", Decision: DecisionInfo})
	assert.Empty(t, bus.Recent(10), "entries after close are dropped")

	require.NoError(t, bus.Close(), "close is idempotent")
}

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := NewFileSink(FileSinkConfig{Path: path})
	require.NoError(t, err)

	require.NoError(t, sink.Write(Entry{ID: "a", Event: EventInputBlocked, Decision: DecisionBlocked, Timestamp: time.Now().UTC()}))
	require.NoError(t, sink.Write(Entry{ID: "b", Event: EventActionApproved, Decision: DecisionAllowed, Timestamp: time.Now().UTC()}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var first Entry
	lines := splitLines(data)
	require.Len(t, lines, 2)
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, EventInputBlocked, first.Event)
	assert.Equal(t, DecisionBlocked, first.Decision)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func TestFileSinkRequiresPath(t *testing.T) {
	_, err := NewFileSink(FileSinkConfig{})
	require.Error(t, err)
}

func TestStoreSinkPersistsAndIndexes(t *testing.T) {
	dataDir := t.TempDir()

	store, err := storage.NewStore(dataDir, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer store.Close()

	idx, err := index.NewEventIndex(dataDir, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	sink := NewStoreSink(store, idx, zap.NewNop().Sugar())

	entry := Entry{
		ID:        "01HQWX1Y2Z3A4B5C6D7E8F9G0H",
		Timestamp: time.Now().UTC(),
		Event:     EventInputBlocked,
		Decision:  DecisionBlocked,
		SessionID: "sess-1",
		Context:   map[string]interface{}{"pattern": "instruction_override"},
	}
	require.NoError(t, sink.Write(entry))
	require.NoError(t, sink.Close(), "close drains the queue")

	record, err := store.GetEvent(entry.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, EventInputBlocked, record.Event)
	assert.Equal(t, "blocked", record.Decision)

	hits, err := idx.Search("instruction_override", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, entry.ID, hits[0].ID)
}

func TestStoreSinkWriteAfterCloseFails(t *testing.T) {
	store, err := storage.NewStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer store.Close()

	sink := NewStoreSink(store, nil, zap.NewNop().Sugar())
	require.NoError(t, sink.Close())

	require.Error(t, sink.Write(Entry{Event: "late"}))
	require.NoError(t, sink.Close(), "close is idempotent")
}

func TestConsoleSinkNeverFails(t *testing.T) {
	sink := NewConsoleSink(zap.NewNop().Sugar())
	assert.NoError(t, sink.Write(Entry{Event: EventMediaScanned, Decision: DecisionInfo}))
	assert.NoError(t, sink.Close())
}

func TestOTelSinkWritesSpans(t *testing.T) {
	sink := NewOTelSink(nil)
	assert.NoError(t, sink.Write(Entry{ID: "x", Event: EventChainStep, Decision: DecisionInfo}))
	assert.NoError(t, sink.Close())
}
