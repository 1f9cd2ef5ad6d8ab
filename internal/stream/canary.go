package stream

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// CanaryToken is a unique marker planted in a prompt. Its appearance in
// model output proves the prompt leaked.
type CanaryToken struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// CanaryStore issues and tracks canary tokens. Safe for concurrent use.
type CanaryStore struct {
	mu     sync.RWMutex
	tokens map[string]CanaryToken
}

// NewCanaryStore creates an empty store.
func NewCanaryStore() *CanaryStore {
	return &CanaryStore{tokens: make(map[string]CanaryToken)}
}

// Generate creates and records a new canary token for a session.
func (cs *CanaryStore) Generate(sessionID string) CanaryToken {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	canary := CanaryToken{
		Token:     "ag_canary_" + hex.EncodeToString(b),
		SessionID: sessionID,
	}

	cs.mu.Lock()
	cs.tokens[canary.Token] = canary
	cs.mu.Unlock()
	return canary
}

// Inject appends a fresh canary to text behind zero-width markers so it
// stays invisible in rendered prompts.
func (cs *CanaryStore) Inject(text, sessionID string) (string, CanaryToken) {
	canary := cs.Generate(sessionID)
	return text + fmt.Sprintf("\u200B%s\u200B", canary.Token), canary
}

// CheckLeaked returns every tracked canary appearing in text.
func (cs *CanaryStore) CheckLeaked(text string) []CanaryToken {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var leaked []CanaryToken
	for token, canary := range cs.tokens {
		if strings.Contains(text, token) {
			leaked = append(leaked, canary)
		}
	}
	return leaked
}

// Tokens returns a snapshot of all tracked canary literals.
func (cs *CanaryStore) Tokens() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]string, 0, len(cs.tokens))
	for token := range cs.tokens {
		out = append(out, token)
	}
	return out
}

// Remove forgets a token, typically after its session ends.
func (cs *CanaryStore) Remove(token string) {
	cs.mu.Lock()
	delete(cs.tokens, token)
	cs.mu.Unlock()
}
