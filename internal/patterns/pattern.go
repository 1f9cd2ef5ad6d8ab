package patterns

import (
	"regexp"
	"strings"
)

// ValidatorFunc confirms or rejects a raw match. It receives the matched
// substring and the full text it was found in. Returning false discards the
// match.
type ValidatorFunc func(match, context string) bool

// Pattern represents one detection rule: a regex or keyword set tagged with
// a detection type and severity.
type Pattern struct {
	Name        string
	Type        DetectionType
	Severity    Severity
	Description string
	// Label names the redaction placeholder for PII patterns, e.g. "SSN"
	// becomes [REDACTED-SSN]. Empty for non-redactable patterns.
	Label string

	regex     *regexp.Regexp
	keywords  []string
	validator ValidatorFunc
}

// Match finds all occurrences in text and returns them as detections with
// byte positions. Matches rejected by the validator are dropped.
func (p *Pattern) Match(text string) []Detection {
	var out []Detection

	if p.regex != nil {
		for _, loc := range p.regex.FindAllStringIndex(text, -1) {
			matched := text[loc[0]:loc[1]]
			if p.validator != nil && !p.validator(matched, text) {
				continue
			}
			out = append(out, p.detection(matched, loc[0], loc[1]))
		}
		return out
	}

	lower := strings.ToLower(text)
	for _, kw := range p.keywords {
		needle := strings.ToLower(kw)
		if needle == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(lower[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(needle)
			matched := text[start:end]
			if p.validator == nil || p.validator(matched, text) {
				out = append(out, p.detection(matched, start, end))
			}
			from = end
		}
	}
	return out
}

// MatchLength returns an upper bound on the text span this pattern needs to
// observe at once. Stream monitors size their overlap buffers from it.
func (p *Pattern) MatchLength() int {
	n := 0
	if p.regex != nil {
		n = len(p.regex.String())
	}
	for _, kw := range p.keywords {
		if len(kw) > n {
			n = len(kw)
		}
	}
	return n
}

func (p *Pattern) detection(matched string, start, end int) Detection {
	return Detection{
		Type:        p.Type,
		Pattern:     p.Name,
		Matched:     matched,
		Severity:    p.Severity,
		Position:    Position{Start: start, End: end},
		Description: p.Description,
	}
}

// MaxMatchLength returns the largest MatchLength across the given patterns.
func MaxMatchLength(pats []*Pattern) int {
	n := 0
	for _, p := range pats {
		if l := p.MatchLength(); l > n {
			n = l
		}
	}
	return n
}

// PatternBuilder provides a fluent API for building patterns
type PatternBuilder struct {
	pattern *Pattern
}

// NewPattern creates a new pattern builder
func NewPattern(name string) *PatternBuilder {
	return &PatternBuilder{
		pattern: &Pattern{
			Name:     name,
			Type:     TypeCustom,
			Severity: SeverityMedium,
		},
	}
}

// WithRegex sets the regex pattern. The expression must compile.
func (b *PatternBuilder) WithRegex(expr string) *PatternBuilder {
	b.pattern.regex = regexp.MustCompile(expr)
	return b
}

// WithKeywords sets the keywords for matching (case-insensitive)
func (b *PatternBuilder) WithKeywords(keywords ...string) *PatternBuilder {
	b.pattern.keywords = keywords
	return b
}

// WithType sets the detection type
func (b *PatternBuilder) WithType(t DetectionType) *PatternBuilder {
	b.pattern.Type = t
	return b
}

// WithSeverity sets the pattern severity
func (b *PatternBuilder) WithSeverity(severity Severity) *PatternBuilder {
	b.pattern.Severity = severity
	return b
}

// WithDescription sets the pattern description
func (b *PatternBuilder) WithDescription(description string) *PatternBuilder {
	b.pattern.Description = description
	return b
}

// WithLabel sets the redaction label
func (b *PatternBuilder) WithLabel(label string) *PatternBuilder {
	b.pattern.Label = label
	return b
}

// WithValidator sets a custom validator function
func (b *PatternBuilder) WithValidator(validator ValidatorFunc) *PatternBuilder {
	b.pattern.validator = validator
	return b
}

// Build creates the Pattern
func (b *PatternBuilder) Build() *Pattern {
	return b.pattern
}
