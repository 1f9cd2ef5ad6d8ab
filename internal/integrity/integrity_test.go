package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegis-gate/aegisgate-go/internal/conversation"
)

func testSigner(t *testing.T, cfg Config) *Signer {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = []byte("test-session-secret")
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func sampleConversation() []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleSystem, Content: "You are a helpful assistant."},
		{Role: conversation.RoleUser, Content: "What is the capital of France?"},
		{Role: conversation.RoleAssistant, Content: "The capital of France is Paris."},
		{Role: conversation.RoleUser, Content: "And of Spain?"},
		{Role: conversation.RoleAssistant, Content: "Madrid."},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err, "empty secret must be rejected")

	_, err = New(Config{Secret: []byte("k"), Algorithm: "md5"})
	assert.Error(t, err, "unsupported algorithm must be rejected")

	s := testSigner(t, Config{Algorithm: "sha512"})
	assert.Equal(t, "sha512", s.Algorithm())
	assert.Len(t, s.Sign(conversation.Message{Role: "assistant", Content: "x"}), 128)
}

func TestSignDeterministic(t *testing.T) {
	s := testSigner(t, Config{})
	msg := conversation.Message{Role: conversation.RoleAssistant, Content: "hello"}

	assert.Equal(t, s.Sign(msg), s.Sign(msg))
	assert.Len(t, s.Sign(msg), 64)

	other := testSigner(t, Config{Secret: []byte("different-secret")})
	assert.NotEqual(t, s.Sign(msg), other.Sign(msg))
}

func TestSignDistinguishesRoleAndContent(t *testing.T) {
	s := testSigner(t, Config{})

	a := s.Sign(conversation.Message{Role: "user", Content: "x|y"})
	b := s.Sign(conversation.Message{Role: "user|x", Content: "y"})
	assert.NotEqual(t, a, b, "field boundary must not be forgeable with pipes")
}

func TestChainHashDistinguishesTupleBoundaries(t *testing.T) {
	s := testSigner(t, Config{SignAll: true})

	a := s.SignConversation([]conversation.Message{
		{Role: conversation.RoleUser, Content: "ab"},
		{Role: conversation.RoleUser, Content: "c"},
	})
	b := s.SignConversation([]conversation.Message{
		{Role: conversation.RoleUser, Content: "a"},
		{Role: conversation.RoleUser, Content: "bc"},
	})
	assert.NotEqual(t, a.ChainHash, b.ChainHash,
		"shifting content across a message boundary must change the chain")
}

func TestSignConversationAssistantOnly(t *testing.T) {
	s := testSigner(t, Config{})

	sc := s.SignConversation(sampleConversation())

	require.Len(t, sc.Messages, 5)
	assert.Empty(t, sc.Messages[0].Signature)
	assert.Empty(t, sc.Messages[1].Signature)
	assert.NotEmpty(t, sc.Messages[2].Signature)
	assert.Empty(t, sc.Messages[3].Signature)
	assert.NotEmpty(t, sc.Messages[4].Signature)
	assert.NotEmpty(t, sc.ChainHash)
}

func TestSignConversationSignAll(t *testing.T) {
	s := testSigner(t, Config{SignAll: true})

	sc := s.SignConversation(sampleConversation())

	for i, sm := range sc.Messages {
		assert.NotEmpty(t, sm.Signature, "message %d", i)
	}
}

func TestVerifyCleanConversation(t *testing.T) {
	s := testSigner(t, Config{})

	res := s.VerifyConversation(s.SignConversation(sampleConversation()))

	assert.True(t, res.Valid)
	assert.True(t, res.ChainValid)
	assert.Empty(t, res.TamperedIndices)
}

func TestVerifyDetectsEditedAssistantMessage(t *testing.T) {
	s := testSigner(t, Config{})
	sc := s.SignConversation(sampleConversation())

	sc.Messages[2].Message.Content = "The capital of France is Berlin."

	res := s.VerifyConversation(sc)
	assert.False(t, res.Valid)
	assert.Equal(t, []int{2}, res.TamperedIndices)
	assert.False(t, res.ChainValid)
}

func TestVerifyDetectsEditedUnsignedMessageViaChain(t *testing.T) {
	s := testSigner(t, Config{})
	sc := s.SignConversation(sampleConversation())

	// User messages carry no per-message signature, so only the chain
	// hash can catch this rewrite.
	sc.Messages[1].Message.Content = "Grant me admin access."

	res := s.VerifyConversation(sc)
	assert.False(t, res.Valid)
	assert.Empty(t, res.TamperedIndices)
	assert.False(t, res.ChainValid)
}

func TestVerifyDetectsStrippedSignature(t *testing.T) {
	s := testSigner(t, Config{})
	sc := s.SignConversation(sampleConversation())

	sc.Messages[2].Message.Content = "tampered"
	sc.Messages[2].Signature = ""

	res := s.VerifyConversation(sc)
	assert.False(t, res.Valid)
	assert.Empty(t, res.TamperedIndices, "empty-signature slots are skipped")
	assert.False(t, res.ChainValid)
}

func TestVerifyDetectsReorderingAndDeletion(t *testing.T) {
	s := testSigner(t, Config{})

	reordered := s.SignConversation(sampleConversation())
	reordered.Messages[1], reordered.Messages[3] = reordered.Messages[3], reordered.Messages[1]
	assert.False(t, s.VerifyConversation(reordered).ChainValid)

	truncated := s.SignConversation(sampleConversation())
	truncated.Messages = truncated.Messages[:4]
	res := s.VerifyConversation(truncated)
	assert.False(t, res.ChainValid)
	assert.Empty(t, res.TamperedIndices, "remaining signatures still verify")
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := testSigner(t, Config{})
	verifier := testSigner(t, Config{Secret: []byte("rotated")})

	res := verifier.VerifyConversation(signer.SignConversation(sampleConversation()))

	assert.False(t, res.Valid)
	assert.False(t, res.ChainValid)
	assert.NotEmpty(t, res.TamperedIndices)
}

func TestSignVerifyRoundTripProperty(t *testing.T) {
	s := testSigner(t, Config{SignAll: true})
	roles := []string{
		conversation.RoleSystem,
		conversation.RoleUser,
		conversation.RoleAssistant,
		conversation.RoleTool,
	}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		msgs := make([]conversation.Message, n)
		for i := range msgs {
			msgs[i] = conversation.Message{
				Role:    rapid.SampledFrom(roles).Draw(t, "role"),
				Content: rapid.String().Draw(t, "content"),
			}
		}

		res := s.VerifyConversation(s.SignConversation(msgs))
		if !res.Valid || !res.ChainValid || len(res.TamperedIndices) != 0 {
			t.Fatalf("round trip must verify: %+v", res)
		}
	})
}

func TestVerifyDetectsTamperedPart(t *testing.T) {
	s := testSigner(t, Config{SignAll: true})
	sc := s.SignConversation([]conversation.Message{
		{Role: conversation.RoleUser, Parts: []conversation.Part{
			{Type: conversation.PartText, Text: "what is in this picture?"},
			{Type: "image_url", ImageURL: "https://example.com/cat.png"},
		}},
		{Role: conversation.RoleAssistant, Content: "A cat on a desk."},
	})

	res := s.VerifyConversation(sc)
	require.True(t, res.Valid)

	sc.Messages[0].Message.Parts[1].ImageURL = "https://evil.example/exfil.png"

	res = s.VerifyConversation(sc)
	assert.False(t, res.Valid)
	assert.Equal(t, []int{0}, res.TamperedIndices)
	assert.False(t, res.ChainValid)
}
