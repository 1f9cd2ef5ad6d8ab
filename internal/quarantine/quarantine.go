// Package quarantine wraps untrusted content with provenance and risk
// metadata. A quarantined value cannot be read back without naming the
// reason the trust boundary is being crossed, which gives callers a
// natural audit hook for every release of untrusted data.
package quarantine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ContentSource identifies where a piece of content entered the system.
type ContentSource string

const (
	SourceUserInput     ContentSource = "user_input"
	SourceAPIResponse   ContentSource = "api_response"
	SourceWebContent    ContentSource = "web_content"
	SourceEmail         ContentSource = "email"
	SourceFileUpload    ContentSource = "file_upload"
	SourceDatabase      ContentSource = "database"
	SourceRAGRetrieval  ContentSource = "rag_retrieval"
	SourceToolOutput    ContentSource = "tool_output"
	SourceMCPToolOutput ContentSource = "mcp_tool_output"
	SourceModelOutput   ContentSource = "model_output"
	SourceUnknown       ContentSource = "unknown"
)

// RiskLevel grades how much scrutiny content deserves before use.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var sourceRisk = map[ContentSource]RiskLevel{
	SourceUserInput:     RiskHigh,
	SourceEmail:         RiskHigh,
	SourceWebContent:    RiskHigh,
	SourceUnknown:       RiskHigh,
	SourceAPIResponse:   RiskMedium,
	SourceToolOutput:    RiskMedium,
	SourceMCPToolOutput: RiskMedium,
	SourceModelOutput:   RiskMedium,
	SourceDatabase:      RiskLow,
	SourceRAGRetrieval:  RiskLow,
	SourceFileUpload:    RiskLow,
}

// DefaultRisk returns the risk level inferred from a content source.
// Unrecognized sources are graded like unknown.
func DefaultRisk(source ContentSource) RiskLevel {
	if r, ok := sourceRisk[source]; ok {
		return r
	}
	return RiskHigh
}

// ErrInvalidUnwrapReason is returned when Unwrap is called with a blank reason.
var ErrInvalidUnwrapReason = errors.New("quarantine: unwrap reason must be non-empty")

// Placeholder is rendered anywhere a quarantined value would otherwise
// leak through formatting or serialization.
const Placeholder = "[QUARANTINED]"

// Quarantined is an immutable wrapper around an untrusted value. The value
// itself is unexported: the only way out is Unwrap with a non-empty reason.
// Formatting and JSON marshaling emit a placeholder, never the value.
type Quarantined[T any] struct {
	value     T
	source    ContentSource
	risk      RiskLevel
	id        string
	timestamp time.Time
}

// WrapOption overrides wrapper defaults at construction.
type WrapOption func(*wrapOptions)

type wrapOptions struct {
	risk RiskLevel
}

// WithRisk overrides the risk level inferred from the source.
func WithRisk(r RiskLevel) WrapOption {
	return func(o *wrapOptions) {
		o.risk = r
	}
}

// Wrap places value under quarantine, tagging it with its source, an
// inferred (or overridden) risk level, a ULID and a creation timestamp.
func Wrap[T any](value T, source ContentSource, opts ...WrapOption) Quarantined[T] {
	o := wrapOptions{risk: DefaultRisk(source)}
	for _, opt := range opts {
		opt(&o)
	}
	return Quarantined[T]{
		value:     value,
		source:    source,
		risk:      o.risk,
		id:        ulid.Make().String(),
		timestamp: time.Now().UTC(),
	}
}

// Unwrap releases the value. The reason names why the trust boundary is
// being crossed; a blank reason fails with ErrInvalidUnwrapReason.
func (q Quarantined[T]) Unwrap(reason string) (T, error) {
	if strings.TrimSpace(reason) == "" {
		var zero T
		return zero, ErrInvalidUnwrapReason
	}
	return q.value, nil
}

// ID returns the wrapper's ULID.
func (q Quarantined[T]) ID() string { return q.id }

// Source returns where the content came from.
func (q Quarantined[T]) Source() ContentSource { return q.source }

// Risk returns the wrapper's risk level.
func (q Quarantined[T]) Risk() RiskLevel { return q.risk }

// Timestamp returns when the value was wrapped.
func (q Quarantined[T]) Timestamp() time.Time { return q.timestamp }

// String renders provenance metadata only.
func (q Quarantined[T]) String() string {
	return fmt.Sprintf("%s source=%s risk=%s id=%s", Placeholder, q.source, q.risk, q.id)
}

// GoString keeps %#v from leaking the value.
func (q Quarantined[T]) GoString() string { return q.String() }

// MarshalJSON emits metadata with a placeholder in place of the value.
func (q Quarantined[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string        `json:"id"`
		Source    ContentSource `json:"source"`
		Risk      RiskLevel     `json:"risk"`
		Timestamp time.Time     `json:"timestamp"`
		Value     string        `json:"value"`
	}{q.id, q.source, q.risk, q.timestamp, Placeholder})
}

func (q Quarantined[T]) quarantineMarker() {}

type marked interface{ quarantineMarker() }

// IsQuarantined reports whether v is a Quarantined wrapper of any type.
func IsQuarantined(v any) bool {
	_, ok := v.(marked)
	return ok
}
