// Package multimodal scans non-text content for injected instructions.
// Media bytes never reach the pattern scanner directly: an injected
// extractor turns them into text (OCR, transcription, document parsing)
// and the text runs through the input scan pipeline.
package multimodal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/quarantine"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

// MediaType classifies scannable content.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaPDF      MediaType = "pdf"
	MediaDocument MediaType = "document"
)

var (
	// ErrFileTooLarge reports content over the configured size limit.
	ErrFileTooLarge = errors.New("multimodal: file exceeds size limit")

	// ErrUnsupportedType reports a media type outside the allowed set.
	ErrUnsupportedType = errors.New("multimodal: unsupported media type")

	// ErrExtractionFailed reports an extractor failure; the cause is
	// attached.
	ErrExtractionFailed = errors.New("multimodal: extraction failed")
)

// Extracted is the text recovered from one media item.
type Extracted struct {
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Extractor turns media bytes into text.
type Extractor interface {
	Extract(ctx context.Context, content []byte, mediaType MediaType) (*Extracted, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, content []byte, mediaType MediaType) (*Extracted, error)

func (f ExtractorFunc) Extract(ctx context.Context, content []byte, mediaType MediaType) (*Extracted, error) {
	return f(ctx, content, mediaType)
}

// Result is the outcome of scanning one media item.
type Result struct {
	Extracted  *Extracted      `json:"extracted"`
	MediaType  MediaType       `json:"media_type"`
	ScanResult *scanner.Result `json:"scan_result"`
	FileSize   int             `json:"file_size"`
	Safe       bool            `json:"safe"`
}

// DefaultMaxFileSize is the stock size limit.
const DefaultMaxFileSize = 10 << 20

// DefaultAllowedTypes returns the stock allowed media set.
func DefaultAllowedTypes() []MediaType {
	return []MediaType{MediaImage, MediaAudio, MediaVideo, MediaPDF, MediaDocument}
}

// Config controls the media scanner.
type Config struct {
	// MaxFileSize caps content size in bytes.
	MaxFileSize int64 `json:"max_file_size" mapstructure:"max_file_size"`

	// AllowedMediaTypes lists the accepted media types. Empty means the
	// default set.
	AllowedMediaTypes []MediaType `json:"allowed_media_types" mapstructure:"allowed_media_types"`

	// Sensitivity overrides the text scanner's configured level for
	// extracted text when non-empty.
	Sensitivity patterns.Sensitivity `json:"sensitivity" mapstructure:"sensitivity"`

	// BatchParallelism bounds concurrent extractions in ScanBatch.
	BatchParallelism int `json:"batch_parallelism" mapstructure:"batch_parallelism"`
}

// DefaultConfig returns the stock media scanner configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize:       DefaultMaxFileSize,
		AllowedMediaTypes: DefaultAllowedTypes(),
		BatchParallelism:  4,
	}
}

// Scanner gates media by size and type, extracts its text, and scans
// the text for injected instructions. Safe for concurrent use.
type Scanner struct {
	cfg       *Config
	extractor Extractor
	scanner   *scanner.Scanner
	bus       *audit.Bus
	logger    *zap.SugaredLogger
}

// New creates a media scanner. A nil extractor fails every scan with
// ErrExtractionFailed, so misconfiguration surfaces loudly instead of
// letting media through unscanned.
func New(cfg *Config, extractor Extractor, sc *scanner.Scanner, bus *audit.Bus, logger *zap.SugaredLogger) *Scanner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if len(cfg.AllowedMediaTypes) == 0 {
		cfg.AllowedMediaTypes = DefaultAllowedTypes()
	}
	if cfg.BatchParallelism <= 0 {
		cfg.BatchParallelism = 4
	}
	if sc == nil {
		sc = scanner.New(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scanner{
		cfg:       cfg,
		extractor: extractor,
		scanner:   sc,
		bus:       bus,
		logger:    logger,
	}
}

// ScanMedia checks one media item. Size and type violations and
// extractor failures return typed errors; otherwise the extracted text
// is scanned and the combined result returned. Every outcome emits an
// audit event.
func (m *Scanner) ScanMedia(ctx context.Context, content []byte, mediaType MediaType) (*Result, error) {
	size := len(content)

	if int64(size) > m.cfg.MaxFileSize {
		m.emit(audit.EventMediaBlocked, audit.DecisionBlocked, mediaType, size, map[string]interface{}{
			"reason": "file_too_large",
			"limit":  m.cfg.MaxFileSize,
		})
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, size, m.cfg.MaxFileSize)
	}

	if !m.allowed(mediaType) {
		m.emit(audit.EventMediaBlocked, audit.DecisionBlocked, mediaType, size, map[string]interface{}{
			"reason": "unsupported_type",
		})
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	extracted, err := m.extract(ctx, content, mediaType)
	if err != nil {
		m.emit(audit.EventMediaBlocked, audit.DecisionBlocked, mediaType, size, map[string]interface{}{
			"reason": "extraction_failed",
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	scanRes, err := m.scanText(ctx, extracted.Text)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Extracted:  extracted,
		MediaType:  mediaType,
		ScanResult: scanRes,
		FileSize:   size,
		Safe:       scanRes.Safe,
	}

	decision := audit.DecisionAllowed
	if !result.Safe {
		decision = audit.DecisionFlagged
	}
	m.emit(audit.EventMediaScanned, decision, mediaType, size, map[string]interface{}{
		"safe":       result.Safe,
		"score":      scanRes.Score,
		"detections": len(scanRes.Detections),
		"confidence": extracted.Confidence,
	})

	m.logger.Debugw("Media scanned",
		"media_type", mediaType,
		"file_size", size,
		"safe", result.Safe,
		"score", scanRes.Score)
	return result, nil
}

// Item is one ScanBatch entry.
type Item struct {
	Content   []byte
	MediaType MediaType
}

// ScanBatch scans items concurrently with bounded parallelism,
// preserving input order in the results. The first failure cancels the
// remaining work.
func (m *Scanner) ScanBatch(ctx context.Context, items []Item) ([]*Result, error) {
	results := make([]*Result, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.BatchParallelism)
	for i, item := range items {
		g.Go(func() error {
			res, err := m.ScanMedia(ctx, item.Content, item.MediaType)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Scanner) extract(ctx context.Context, content []byte, mediaType MediaType) (*Extracted, error) {
	if m.extractor == nil {
		return nil, errors.New("no extractor configured")
	}
	extracted, err := m.extractor.Extract(ctx, content, mediaType)
	if err != nil {
		return nil, err
	}
	if extracted == nil {
		extracted = &Extracted{}
	}
	return extracted, nil
}

func (m *Scanner) scanText(ctx context.Context, text string) (*scanner.Result, error) {
	q := quarantine.Wrap(text, quarantine.SourceFileUpload)
	if m.cfg.Sensitivity != "" {
		return m.scanner.ScanAt(ctx, q, m.cfg.Sensitivity)
	}
	return m.scanner.Scan(ctx, q)
}

func (m *Scanner) allowed(mediaType MediaType) bool {
	for _, t := range m.cfg.AllowedMediaTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

func (m *Scanner) emit(event string, decision audit.Decision, mediaType MediaType, size int, extra map[string]interface{}) {
	if m.bus == nil {
		return
	}
	entryCtx := map[string]interface{}{
		"media_type": string(mediaType),
		"file_size":  size,
	}
	for k, v := range extra {
		entryCtx[k] = v
	}
	m.bus.Emit(audit.Entry{
		Event:    event,
		Decision: decision,
		Context:  entryCtx,
	})
}
