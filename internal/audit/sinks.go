package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aegis-gate/aegisgate-go/internal/index"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

// ConsoleSink logs entries through zap.
type ConsoleSink struct {
	logger *zap.SugaredLogger
}

// NewConsoleSink creates a console sink writing to the given logger.
func NewConsoleSink(logger *zap.SugaredLogger) *ConsoleSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ConsoleSink{logger: logger}
}

func (c *ConsoleSink) Write(entry Entry) error {
	c.logger.Infow("audit",
		"id", entry.ID,
		"event", entry.Event,
		"decision", entry.Decision,
		"session_id", entry.SessionID,
		"context", entry.Context)
	return nil
}

func (c *ConsoleSink) Close() error { return nil }

// FileSinkConfig configures the rotating JSONL sink.
type FileSinkConfig struct {
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// FileSink appends entries as JSON lines to a size-rotated file.
type FileSink struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewFileSink creates a rotating file sink.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink requires a path")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}

	return &FileSink{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

func (f *FileSink) Write(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.out.Write(line); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

// OTelSink records each entry as a short span carrying the entry's
// fields as attributes, so audit activity shows up in traces.
type OTelSink struct {
	tracer oteltrace.Tracer
}

// NewOTelSink creates an OTel sink. A nil tracer uses the global provider.
func NewOTelSink(tracer oteltrace.Tracer) *OTelSink {
	if tracer == nil {
		tracer = otel.Tracer("aegisgate/audit")
	}
	return &OTelSink{tracer: tracer}
}

func (o *OTelSink) Write(entry Entry) error {
	_, span := o.tracer.Start(context.Background(), "audit."+entry.Event,
		oteltrace.WithAttributes(
			attribute.String("audit.id", entry.ID),
			attribute.String("audit.decision", string(entry.Decision)),
			attribute.String("audit.session_id", entry.SessionID),
		))
	span.End()
	return nil
}

func (o *OTelSink) Close() error { return nil }

const storeSinkQueueSize = 512

// StoreSink persists entries to BBolt and the bleve index through a
// dedicated worker, keeping disk writes off the producer's path.
type StoreSink struct {
	store  *storage.Store
	index  *index.EventIndex
	queue  chan Entry
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// NewStoreSink starts the persistence worker. The index may be nil to
// persist without full-text search.
func NewStoreSink(store *storage.Store, idx *index.EventIndex, logger *zap.SugaredLogger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &StoreSink{
		store:  store,
		index:  idx,
		queue:  make(chan Entry, storeSinkQueueSize),
		logger: logger,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *StoreSink) Write(entry Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store sink is closed")
	}

	select {
	case s.queue <- entry:
		return nil
	default:
		return fmt.Errorf("store sink queue full, dropping event %q", entry.Event)
	}
}

// Close drains queued entries before returning.
func (s *StoreSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *StoreSink) worker() {
	defer s.wg.Done()

	for entry := range s.queue {
		s.persist(entry)
	}
}

func (s *StoreSink) persist(entry Entry) {
	record := &storage.EventRecord{
		ID:        entry.ID,
		Timestamp: entry.Timestamp,
		Event:     entry.Event,
		Decision:  string(entry.Decision),
		SessionID: entry.SessionID,
		RequestID: entry.RequestID,
		Context:   entry.Context,
	}

	if err := s.store.SaveEvent(record); err != nil {
		s.logger.Errorw("Failed to persist audit entry",
			"id", entry.ID,
			"event", entry.Event,
			"error", err)
		return
	}

	if s.index != nil {
		if err := s.index.IndexEvent(record); err != nil {
			s.logger.Warnw("Failed to index audit entry",
				"id", entry.ID,
				"error", err)
		}
	}
}
