package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for prompt budgeting.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	TruncateToBudget(text string, budget int) (string, error)
	ModelName() string
	IsEnabled() bool
}

// DefaultTokenizer counts tokens with tiktoken-go. Encodings are cached
// per model because building one walks the BPE vocabulary.
type DefaultTokenizer struct {
	modelName     string
	encodingCache map[string]*tiktoken.Tiktoken
	cacheMutex    sync.RWMutex
	enabled       bool
}

// NewTokenizer creates a tokenizer for the given model. Disabled tokenizers
// fall back to a rune-count/4 estimate so budgeting keeps working when no
// local encoding is available.
func NewTokenizer(modelName string, enabled bool) *DefaultTokenizer {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &DefaultTokenizer{
		modelName:     modelName,
		encodingCache: make(map[string]*tiktoken.Tiktoken),
		enabled:       enabled,
	}
}

// CountTokens returns the number of tokens in text.
func (t *DefaultTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if !t.enabled {
		return len([]rune(text)) / 4, nil
	}

	encoding, err := t.getEncoding(t.modelName)
	if err != nil {
		return 0, fmt.Errorf("failed to get encoding for model %s: %w", t.modelName, err)
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

// TruncateToBudget cuts text to at most budget tokens, decoding back
// through the encoder so the cut lands on a token boundary.
func (t *DefaultTokenizer) TruncateToBudget(text string, budget int) (string, error) {
	if budget <= 0 || text == "" {
		return text, nil
	}
	if !t.enabled {
		runes := []rune(text)
		if len(runes) <= budget*4 {
			return text, nil
		}
		return string(runes[:budget*4]), nil
	}

	encoding, err := t.getEncoding(t.modelName)
	if err != nil {
		return text, fmt.Errorf("failed to get encoding for model %s: %w", t.modelName, err)
	}
	tokens := encoding.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text, nil
	}
	return encoding.Decode(tokens[:budget]), nil
}

// ModelName returns the model the tokenizer encodes for.
func (t *DefaultTokenizer) ModelName() string {
	return t.modelName
}

// IsEnabled reports whether token counting is active.
func (t *DefaultTokenizer) IsEnabled() bool {
	return t.enabled
}

// getEncoding returns a cached encoding or builds one.
func (t *DefaultTokenizer) getEncoding(modelName string) (*tiktoken.Tiktoken, error) {
	t.cacheMutex.RLock()
	if encoding, ok := t.encodingCache[modelName]; ok {
		t.cacheMutex.RUnlock()
		return encoding, nil
	}
	t.cacheMutex.RUnlock()

	t.cacheMutex.Lock()
	defer t.cacheMutex.Unlock()

	if encoding, ok := t.encodingCache[modelName]; ok {
		return encoding, nil
	}

	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		// Unknown model names fall back to the cl100k base encoding
		// rather than disabling budgeting outright.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	t.encodingCache[modelName] = encoding
	return encoding, nil
}
