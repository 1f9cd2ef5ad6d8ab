// Package integrity signs conversation messages with a session secret so
// history tampering (edits, deletions, reordering, injected turns) is
// detectable. Per-message MACs localize the edit; a chain hash over the
// whole conversation catches structural changes.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/aegis-gate/aegisgate-go/internal/conversation"
)

// fieldSep separates canonical fields and recordSep terminates each
// message tuple in the chain MAC. The record-separator control byte
// cannot occur in printable message content the way a bare pipe can,
// so field and tuple boundaries are unambiguous.
const (
	fieldSep  = "|\x1e|"
	recordSep = "\x1e"
)

// Config controls signing.
type Config struct {
	// Secret keys the MAC. Required.
	Secret []byte `json:"secret"`

	// Algorithm selects the MAC hash: "sha256" (default) or "sha512".
	Algorithm string `json:"algorithm"`

	// SignAll signs every role. Default signs assistant messages only:
	// user input is untrusted by definition, model output is what an
	// attacker rewrites.
	SignAll bool `json:"sign_all"`
}

// SignedMessage pairs a message with its signature. Roles outside the
// signing set carry an empty signature.
type SignedMessage struct {
	Message   conversation.Message `json:"message"`
	Signature string               `json:"signature"`
}

// SignedConversation is the output of SignConversation.
type SignedConversation struct {
	Messages  []SignedMessage `json:"messages"`
	ChainHash string          `json:"chain_hash"`
}

// VerifyResult reports what held and what did not.
type VerifyResult struct {
	Valid           bool  `json:"valid"`
	TamperedIndices []int `json:"tampered_indices"`
	ChainValid      bool  `json:"chain_valid"`
}

// Signer computes message and chain MACs. Safe for concurrent use.
type Signer struct {
	secret   []byte
	newHash  func() hash.Hash
	signAll  bool
	algoName string
}

// New creates a Signer.
func New(cfg Config) (*Signer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("integrity: secret is required")
	}

	algo := cfg.Algorithm
	if algo == "" {
		algo = "sha256"
	}
	var newHash func() hash.Hash
	switch algo {
	case "sha256":
		newHash = sha256.New
	case "sha512":
		newHash = sha512.New
	default:
		return nil, fmt.Errorf("integrity: unsupported algorithm %q", cfg.Algorithm)
	}

	return &Signer{
		secret:   cfg.Secret,
		newHash:  newHash,
		signAll:  cfg.SignAll,
		algoName: algo,
	}, nil
}

// Algorithm returns the configured MAC hash name.
func (s *Signer) Algorithm() string {
	return s.algoName
}

// writeCanonical feeds a message's canonical form to the MAC. Plain
// messages serialize as role, content; multi-part messages append every
// part's fields so swapping an image URL breaks the signature too.
func writeCanonical(mac hash.Hash, msg conversation.Message) {
	mac.Write([]byte(msg.Role))
	mac.Write([]byte(fieldSep))
	mac.Write([]byte(msg.Content))
	for _, p := range msg.Parts {
		mac.Write([]byte(fieldSep))
		mac.Write([]byte(p.Type))
		mac.Write([]byte(fieldSep))
		mac.Write([]byte(p.Text))
		mac.Write([]byte(fieldSep))
		mac.Write([]byte(p.ImageURL))
	}
}

// Sign MACs a single message over its canonical form.
func (s *Signer) Sign(msg conversation.Message) string {
	mac := hmac.New(s.newHash, s.secret)
	writeCanonical(mac, msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// signs reports whether a role is in the signing set.
func (s *Signer) signs(role string) bool {
	return s.signAll || role == conversation.RoleAssistant
}

// SignConversation signs each in-scope message and computes the chain hash
// over every (role, content, signature) tuple in order. Deterministic:
// identical input yields identical output.
func (s *Signer) SignConversation(messages []conversation.Message) SignedConversation {
	signed := make([]SignedMessage, 0, len(messages))
	for _, msg := range messages {
		sm := SignedMessage{Message: msg}
		if s.signs(msg.Role) {
			sm.Signature = s.Sign(msg)
		}
		signed = append(signed, sm)
	}
	return SignedConversation{
		Messages:  signed,
		ChainHash: s.chainHash(signed),
	}
}

// chainHash MACs the full tuple sequence. Unsigned messages participate
// with their empty signature, so deleting or reordering any message,
// signed or not, breaks the chain.
func (s *Signer) chainHash(signed []SignedMessage) string {
	mac := hmac.New(s.newHash, s.secret)
	for _, sm := range signed {
		writeCanonical(mac, sm.Message)
		mac.Write([]byte(fieldSep))
		mac.Write([]byte(sm.Signature))
		mac.Write([]byte(recordSep))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyConversation recomputes per-message signatures (skipping
// empty-signature slots) and the chain hash.
func (s *Signer) VerifyConversation(sc SignedConversation) VerifyResult {
	result := VerifyResult{TamperedIndices: []int{}}

	for i, sm := range sc.Messages {
		if sm.Signature == "" {
			continue
		}
		expected := s.Sign(sm.Message)
		if !hmac.Equal([]byte(expected), []byte(sm.Signature)) {
			result.TamperedIndices = append(result.TamperedIndices, i)
		}
	}

	expectedChain := s.chainHash(sc.Messages)
	result.ChainValid = hmac.Equal([]byte(expectedChain), []byte(sc.ChainHash))
	result.Valid = result.ChainValid && len(result.TamperedIndices) == 0
	return result
}
