// Package trajectory analyzes how a conversation evolves across user
// turns. Two signals matter: abrupt topic drift between consecutive
// user messages, and risk vocabulary that keeps accumulating turn after
// turn. Both tend to precede multi-turn injection attempts that no
// single-message scan can see.
package trajectory

import (
	"math"
	"strings"
	"unicode"

	"github.com/aegis-gate/aegisgate-go/internal/conversation"
)

const (
	// DefaultDriftThreshold marks a transition as drift when the
	// token-bag cosine similarity of consecutive user messages falls
	// below it.
	DefaultDriftThreshold = 0.1

	// DefaultEscalationThreshold is the cumulative risk-keyword count
	// at which the escalation flag trips.
	DefaultEscalationThreshold = 3
)

// defaultKeywords is the escalation vocabulary. Occurrences accumulate
// across the whole user subsequence and never reset.
var defaultKeywords = []string{
	"bypass", "exploit", "hack", "jailbreak", "override", "admin",
	"pretend", "shell", "payload", "credential", "root", "sudo",
	"password", "token", "inject", "disable", "backdoor",
}

// Config tunes the analyzer. Zero values select the defaults.
type Config struct {
	DriftThreshold      float64
	EscalationThreshold int
	Keywords            []string
}

// Analysis is the outcome of one pass over a conversation.
//
// Similarities[i] is the cosine similarity between user messages i and
// i+1 of the user subsequence; DriftIndices holds the positions in
// Similarities that fell below the drift threshold.
type Analysis struct {
	Similarities       []float64 `json:"similarities"`
	DriftIndices       []int     `json:"driftIndices"`
	EscalationDetected bool      `json:"escalationDetected"`
	EscalationKeywords []string  `json:"escalationKeywords"`
}

// Analyzer computes cross-turn drift and escalation signals.
type Analyzer struct {
	driftThreshold float64
	escalationMin  int
	keywords       map[string]struct{}
	keywordOrder   []string
}

// NewAnalyzer creates an Analyzer from cfg, falling back to defaults
// for unset fields.
func NewAnalyzer(cfg Config) *Analyzer {
	a := &Analyzer{
		driftThreshold: cfg.DriftThreshold,
		escalationMin:  cfg.EscalationThreshold,
	}
	if a.driftThreshold <= 0 {
		a.driftThreshold = DefaultDriftThreshold
	}
	if a.escalationMin <= 0 {
		a.escalationMin = DefaultEscalationThreshold
	}
	words := cfg.Keywords
	if len(words) == 0 {
		words = defaultKeywords
	}
	a.keywords = make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := a.keywords[w]; dup {
			continue
		}
		a.keywords[w] = struct{}{}
		a.keywordOrder = append(a.keywordOrder, w)
	}
	return a
}

// Analyze walks the user-role subsequence of messages and reports
// pairwise similarities, drift transitions, and keyword escalation.
// Fewer than two user messages yield empty similarity data; escalation
// is still evaluated over whatever user text exists.
func (a *Analyzer) Analyze(messages []conversation.Message) Analysis {
	users := conversation.UserContents(messages)

	analysis := Analysis{
		Similarities: []float64{},
		DriftIndices: []int{},
	}

	bags := make([]map[string]int, len(users))
	for i, text := range users {
		bags[i] = tokenBag(text)
	}

	for i := 1; i < len(bags); i++ {
		sim := cosine(bags[i-1], bags[i])
		analysis.Similarities = append(analysis.Similarities, sim)
		if sim < a.driftThreshold {
			analysis.DriftIndices = append(analysis.DriftIndices, i-1)
		}
	}

	total := 0
	seen := make(map[string]struct{})
	for _, bag := range bags {
		for token, count := range bag {
			kw, ok := a.matchKeyword(token)
			if !ok {
				continue
			}
			total += count
			if _, dup := seen[kw]; !dup {
				seen[kw] = struct{}{}
			}
		}
	}
	if total >= a.escalationMin {
		analysis.EscalationDetected = true
	}
	for _, kw := range a.keywordOrder {
		if _, ok := seen[kw]; ok {
			analysis.EscalationKeywords = append(analysis.EscalationKeywords, kw)
		}
	}

	return analysis
}

// matchKeyword reports whether token is an escalation keyword. A bare
// plural of a keyword counts as the keyword itself.
func (a *Analyzer) matchKeyword(token string) (string, bool) {
	if _, ok := a.keywords[token]; ok {
		return token, true
	}
	if strings.HasSuffix(token, "s") {
		base := token[:len(token)-1]
		if _, ok := a.keywords[base]; ok {
			return base, true
		}
	}
	return "", false
}

// tokenBag lowercases text and counts its alphanumeric word tokens.
func tokenBag(text string) map[string]int {
	bag := make(map[string]int)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, f := range fields {
		bag[f]++
	}
	return bag
}

// cosine computes the cosine similarity of two token bags. An empty
// bag on either side yields 0 so that blank turns read as full drift.
func cosine(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot float64
	for token, ca := range small {
		if cb, ok := large[token]; ok {
			dot += float64(ca) * float64(cb)
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (norm(a) * norm(b))
}

func norm(bag map[string]int) float64 {
	var sum float64
	for _, c := range bag {
		sum += float64(c) * float64(c)
	}
	return math.Sqrt(sum)
}
