package index

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

// EventIndex wraps Bleve full-text search over audit events.
// The index directory lives alongside the BBolt file in the data dir.
type EventIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// EventDocument is the indexed shape of an audit event
type EventDocument struct {
	Event     string `json:"event"`
	Decision  string `json:"decision"`
	SessionID string `json:"session_id"`
	Context   string `json:"context"`
	Timestamp string `json:"timestamp"`
}

// Hit is a single search result
type Hit struct {
	ID        string  `json:"id"`
	Event     string  `json:"event"`
	Decision  string  `json:"decision"`
	SessionID string  `json:"session_id"`
	Timestamp string  `json:"timestamp"`
	Fragment  string  `json:"fragment,omitempty"`
	Score     float64 `json:"score"`
}

// NewEventIndex opens (or creates) the event index under dataDir.
func NewEventIndex(dataDir string, logger *zap.Logger) (*EventIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	indexPath := filepath.Join(dataDir, "events.bleve")

	idx, err := bleve.Open(indexPath)
	if err != nil {
		logger.Info("Creating new event index", zap.String("path", indexPath))
		idx, err = createEventIndex(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create event index: %w", err)
		}
	} else {
		logger.Info("Opened existing event index", zap.String("path", indexPath))
	}

	return &EventIndex{
		index:  idx,
		logger: logger,
	}, nil
}

// createEventIndex creates a new Bleve index with the event mapping
func createEventIndex(indexPath string) (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()

	eventMapping := bleve.NewDocumentMapping()

	// Event name (keyword analyzer - exact match)
	eventField := bleve.NewTextFieldMapping()
	eventField.Analyzer = keyword.Name
	eventField.Store = true
	eventField.Index = true
	eventMapping.AddFieldMappingsAt("event", eventField)

	// Decision (keyword analyzer)
	decisionField := bleve.NewTextFieldMapping()
	decisionField.Analyzer = keyword.Name
	decisionField.Store = true
	decisionField.Index = true
	eventMapping.AddFieldMappingsAt("decision", decisionField)

	// Session ID (keyword analyzer)
	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = keyword.Name
	sessionField.Store = true
	sessionField.Index = true
	eventMapping.AddFieldMappingsAt("session_id", sessionField)

	// Flattened context payload (standard analyzer for full-text search)
	contextField := bleve.NewTextFieldMapping()
	contextField.Analyzer = standard.Name
	contextField.Store = true
	contextField.Index = true
	eventMapping.AddFieldMappingsAt("context", contextField)

	// Timestamp is stored for display, not searched
	timestampField := bleve.NewTextFieldMapping()
	timestampField.Analyzer = keyword.Name
	timestampField.Store = true
	timestampField.Index = false
	eventMapping.AddFieldMappingsAt("timestamp", timestampField)

	indexMapping.AddDocumentMapping("event", eventMapping)
	indexMapping.DefaultMapping = eventMapping

	return bleve.New(indexPath, indexMapping)
}

// Close closes the index
func (e *EventIndex) Close() error {
	return e.index.Close()
}

// IndexEvent indexes a single event record keyed by its ULID
func (e *EventIndex) IndexEvent(record *storage.EventRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("event record must have an ID")
	}

	e.logger.Debug("Indexing event", zap.String("doc_id", record.ID))
	return e.index.Index(record.ID, toDocument(record))
}

// BatchIndex indexes multiple event records in a single batch
func (e *EventIndex) BatchIndex(records []*storage.EventRecord) error {
	batch := e.index.NewBatch()

	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		if err := batch.Index(record.ID, toDocument(record)); err != nil {
			return fmt.Errorf("failed to add event to batch: %w", err)
		}
	}

	e.logger.Debug("Batch indexing events", zap.Int("count", len(records)))
	return e.index.Batch(batch)
}

// Delete removes an event from the index
func (e *EventIndex) Delete(id string) error {
	e.logger.Debug("Deleting event from index", zap.String("doc_id", id))
	return e.index.Delete(id)
}

// Search runs a full-text query over indexed events using BM25 scoring
func (e *EventIndex) Search(query string, limit int) ([]*Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 50
	}

	// The keyword-mapped fields need exact terms: an analyzed match query
	// would split IDs like "sess-abc" into tokens that never match them.
	contextMatch := bleve.NewMatchQuery(query)
	contextMatch.SetField("context")
	eventTerm := bleve.NewTermQuery(query)
	eventTerm.SetField("event")
	decisionTerm := bleve.NewTermQuery(query)
	decisionTerm.SetField("decision")
	sessionTerm := bleve.NewTermQuery(query)
	sessionTerm.SetField("session_id")
	searchQuery := bleve.NewDisjunctionQuery(contextMatch, eventTerm, decisionTerm, sessionTerm)

	searchReq := bleve.NewSearchRequest(searchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"event", "decision", "session_id", "context", "timestamp"}
	searchReq.Highlight = bleve.NewHighlight()

	e.logger.Debug("Searching events", zap.String("query", query), zap.Int("limit", limit))

	searchResult, err := e.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []*Hit
	for _, hit := range searchResult.Hits {
		h := &Hit{
			ID:        hit.ID,
			Event:     getStringField(hit.Fields, "event"),
			Decision:  getStringField(hit.Fields, "decision"),
			SessionID: getStringField(hit.Fields, "session_id"),
			Timestamp: getStringField(hit.Fields, "timestamp"),
			Score:     hit.Score,
		}
		if fragments, ok := hit.Fragments["context"]; ok && len(fragments) > 0 {
			h.Fragment = fragments[0]
		}
		hits = append(hits, h)
	}

	e.logger.Debug("Found events matching query", zap.Int("count", len(hits)), zap.String("query", query))
	return hits, nil
}

// DocCount returns the number of indexed events
func (e *EventIndex) DocCount() (uint64, error) {
	return e.index.DocCount()
}

func toDocument(record *storage.EventRecord) *EventDocument {
	return &EventDocument{
		Event:     record.Event,
		Decision:  record.Decision,
		SessionID: record.SessionID,
		Context:   FlattenContext(record.Context),
		Timestamp: record.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// FlattenContext renders a context payload as searchable "key=value" text.
// Nested maps flatten with dotted keys; slices repeat the key per element.
// Keys are sorted so output is deterministic.
func FlattenContext(context map[string]interface{}) string {
	if len(context) == 0 {
		return ""
	}

	var parts []string
	var walk func(prefix string, value interface{})
	walk = func(prefix string, value interface{}) {
		switch v := value.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				name := k
				if prefix != "" {
					name = prefix + "." + k
				}
				walk(name, v[k])
			}
		case []interface{}:
			for _, item := range v {
				walk(prefix, item)
			}
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", prefix, v))
		}
	}
	walk("", context)

	return strings.Join(parts, " ")
}

// Helper to read a string field from search results
func getStringField(fields map[string]interface{}, fieldName string) string {
	if val, ok := fields[fieldName]; ok {
		if strVal, ok := val.(string); ok {
			return strVal
		}
	}
	return ""
}
