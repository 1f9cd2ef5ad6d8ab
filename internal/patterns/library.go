package patterns

import (
	"fmt"
	"regexp"
	"sync"
)

// MaxDetectionsPerScan caps how many detections a single Match call returns.
const MaxDetectionsPerScan = 50

// Library holds the built-in injection catalogue plus user-supplied custom
// rules. Safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	builtin []*Pattern
	custom  []*Pattern
}

// NewLibrary creates a library preloaded with the built-in injection
// catalogue.
func NewLibrary() *Library {
	return &Library{builtin: InjectionPatterns()}
}

// CustomRule describes a user-supplied detection rule. Exactly one of Regex
// or Keywords must be set. Custom rules always carry medium severity and the
// custom detection type.
type CustomRule struct {
	Name        string
	Regex       string
	Keywords    []string
	Description string
	// Validator optionally confirms each raw match; scripted validators
	// plug in here.
	Validator ValidatorFunc
}

// AddCustom registers a custom rule. The regex is compiled eagerly so
// malformed user input surfaces as an error, not a panic at scan time.
func (l *Library) AddCustom(rule CustomRule) error {
	if rule.Name == "" {
		return fmt.Errorf("custom rule requires a name")
	}
	if (rule.Regex == "") == (len(rule.Keywords) == 0) {
		return fmt.Errorf("custom rule %q: exactly one of regex or keywords must be set", rule.Name)
	}

	p := &Pattern{
		Name:        rule.Name,
		Type:        TypeCustom,
		Severity:    SeverityMedium,
		Description: rule.Description,
		keywords:    rule.Keywords,
		validator:   rule.Validator,
	}
	if rule.Regex != "" {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return fmt.Errorf("custom rule %q: %w", rule.Name, err)
		}
		p.regex = re
	}

	l.mu.Lock()
	l.custom = append(l.custom, p)
	l.mu.Unlock()
	return nil
}

// AddCustomRegex registers bare regex rules with generated names. It is the
// convenience path for policy files that list plain expression strings.
func (l *Library) AddCustomRegex(exprs ...string) error {
	l.mu.RLock()
	base := len(l.custom)
	l.mu.RUnlock()

	for i, expr := range exprs {
		rule := CustomRule{
			Name:  fmt.Sprintf("custom_%d", base+i+1),
			Regex: expr,
		}
		if err := l.AddCustom(rule); err != nil {
			return err
		}
	}
	return nil
}

// Match runs every pattern admitted at the given sensitivity against text
// and returns the detections in catalogue order, capped at
// MaxDetectionsPerScan.
func (l *Library) Match(text string, level Sensitivity) []Detection {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Detection
	for _, p := range l.builtin {
		if len(out) >= MaxDetectionsPerScan {
			return out
		}
		if !level.Admits(p.Severity) {
			continue
		}
		out = appendCapped(out, p.Match(text))
	}
	for _, p := range l.custom {
		if len(out) >= MaxDetectionsPerScan {
			return out
		}
		if !level.Admits(p.Severity) {
			continue
		}
		out = appendCapped(out, p.Match(text))
	}
	return out
}

func appendCapped(dst []Detection, src []Detection) []Detection {
	for _, d := range src {
		if len(dst) >= MaxDetectionsPerScan {
			return dst
		}
		dst = append(dst, d)
	}
	return dst
}

// Patterns returns the patterns admitted at the given sensitivity. Callers
// must not mutate the returned patterns.
func (l *Library) Patterns(level Sensitivity) []*Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Pattern, 0, len(l.builtin)+len(l.custom))
	for _, p := range l.builtin {
		if level.Admits(p.Severity) {
			out = append(out, p)
		}
	}
	for _, p := range l.custom {
		if level.Admits(p.Severity) {
			out = append(out, p)
		}
	}
	return out
}

// MaxMatchLength returns the largest span any admitted pattern needs to
// observe at once.
func (l *Library) MaxMatchLength(level Sensitivity) int {
	return MaxMatchLength(l.Patterns(level))
}
