// Package normalize canonicalizes text before scanning. It strips
// zero-width characters, folds common homoglyphs to ASCII, decodes HTML
// entities, and surfaces base64-hidden payloads so downstream pattern
// matching sees what the model would effectively read.
package normalize

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Config tunes the normalizer. Zero values fall back to defaults.
type Config struct {
	// MinBase64Length is the minimum run length considered for decoding.
	MinBase64Length int `json:"min_base64_length"`

	// PrintableRatio is the fraction of decoded bytes that must be
	// printable ASCII for a decode to be accepted.
	PrintableRatio float64 `json:"printable_ratio"`
}

// DefaultConfig returns the standard normalizer settings.
func DefaultConfig() *Config {
	return &Config{
		MinBase64Length: 24,
		PrintableRatio:  0.8,
	}
}

// Normalizer applies the canonicalization pipeline.
type Normalizer struct {
	cfg      *Config
	base64Re *regexp.Regexp
}

// NewNormalizer creates a normalizer; nil config uses defaults.
func NewNormalizer(cfg *Config) *Normalizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MinBase64Length <= 0 {
		cfg.MinBase64Length = DefaultConfig().MinBase64Length
	}
	if cfg.PrintableRatio <= 0 || cfg.PrintableRatio > 1 {
		cfg.PrintableRatio = DefaultConfig().PrintableRatio
	}
	return &Normalizer{
		cfg:      cfg,
		base64Re: regexp.MustCompile(`[A-Za-z0-9+/]{` + strconv.Itoa(cfg.MinBase64Length) + `,}={0,2}`),
	}
}

// zero-width and BOM code points removed outright
var zeroWidth = map[rune]bool{
	'\u200B': true, // zero-width space
	'\u200C': true, // zero-width non-joiner
	'\u200D': true, // zero-width joiner
	'\uFEFF': true, // byte order mark
	'\u2060': true, // word joiner
}

// Cyrillic and Greek look-alikes folded to their ASCII twins
var homoglyphs = map[rune]rune{
	'а': 'a', // Cyrillic а
	'е': 'e', // Cyrillic е
	'о': 'o', // Cyrillic о
	'р': 'p', // Cyrillic р
	'с': 'c', // Cyrillic с
	'х': 'x', // Cyrillic х
	'у': 'y', // Cyrillic у
	'ο': 'o', // Greek ο
	'ρ': 'p', // Greek ρ
	'α': 'a', // Greek α
}

var namedEntities = map[string]rune{
	"amp":  '&',
	"lt":   '<',
	"gt":   '>',
	"quot": '"',
	"apos": '\'',
}

// Normalize runs the pipeline to a fixed point. Every stage is length
// non-increasing, so the loop terminates; iterating until stable makes
// the result idempotent even for nested encodings.
func (n *Normalizer) Normalize(s string) string {
	prev := s
	for i := 0; i < 1+len(s); i++ {
		next := n.pass(prev)
		if next == prev {
			return next
		}
		prev = next
	}
	return prev
}

func (n *Normalizer) pass(s string) string {
	s = StripZeroWidth(s)
	s = FoldHomoglyphs(s)
	s = DecodeEntities(s)
	s = n.decodeBase64Runs(s)
	return s
}

// StripZeroWidth removes zero-width and word-joiner code points.
func StripZeroWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if zeroWidth[r] {
			return -1
		}
		return r
	}, s)
}

// FoldHomoglyphs maps Cyrillic and Greek look-alike letters to ASCII.
func FoldHomoglyphs(s string) string {
	return strings.Map(func(r rune) rune {
		if ascii, ok := homoglyphs[r]; ok {
			return ascii
		}
		return r
	}, s)
}

// DecodeEntities decodes the named HTML entities amp, lt, gt, quot, apos
// and numeric character references. Unknown entities pass through.
func DecodeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '&' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i:], ';')
		// entity bodies are short; anything longer is not one
		if end < 2 || end > 10 {
			b.WriteByte(s[i])
			i++
			continue
		}
		body := s[i+1 : i+end]
		if r, ok := decodeEntityBody(body); ok {
			b.WriteRune(r)
			i += end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func decodeEntityBody(body string) (rune, bool) {
	if r, ok := namedEntities[body]; ok {
		return r, true
	}
	if len(body) < 2 || body[0] != '#' {
		return 0, false
	}
	num := body[1:]
	base := 10
	if num[0] == 'x' || num[0] == 'X' {
		num = num[1:]
		base = 16
	}
	if num == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(num, base, 32)
	if err != nil || v < 0 || !utf8.ValidRune(rune(v)) {
		return 0, false
	}
	return rune(v), true
}

// decodeBase64Runs replaces base64 runs whose decode looks like text.
func (n *Normalizer) decodeBase64Runs(s string) string {
	return n.base64Re.ReplaceAllStringFunc(s, func(run string) string {
		if decoded, ok := n.TryDecodeBase64(run); ok {
			return decoded
		}
		return run
	})
}

// TryDecodeBase64 attempts to decode a candidate base64 run. The decode is
// accepted only when at least PrintableRatio of the bytes are printable
// ASCII (tabs and newlines count); everything else is discarded.
func (n *Normalizer) TryDecodeBase64(run string) (string, bool) {
	if len(run) < n.cfg.MinBase64Length {
		return "", false
	}

	data, err := base64.StdEncoding.DecodeString(run)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(run, "="))
		if err != nil {
			return "", false
		}
	}
	if len(data) == 0 {
		return "", false
	}

	printable := 0
	for _, b := range data {
		if (b >= 0x20 && b <= 0x7E) || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	if float64(printable)/float64(len(data)) < n.cfg.PrintableRatio {
		return "", false
	}
	return string(data), true
}
