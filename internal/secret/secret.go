// Package secret resolves ${provider:name} references in configuration
// and wiring values. Two providers ship: env and the OS keyring. Every
// resolved value can be reported to a hook so the log sanitizer learns
// it before the value reaches any sink.
package secret

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownProvider reports a reference whose scheme has no registered
// provider.
var ErrUnknownProvider = errors.New("secret: unknown provider")

// Ref is one parsed ${provider:name} reference.
type Ref struct {
	Provider string // "env", "keyring", or a registered custom scheme
	Name     string // variable name, or service/key for the keyring
	Original string // the placeholder as it appeared
}

// refPattern matches ${provider:name} placeholders.
var refPattern = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// IsRef reports whether s contains at least one secret reference.
func IsRef(s string) bool {
	return refPattern.MatchString(s)
}

// ParseRef parses a single reference. The input must be exactly one
// placeholder.
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Ref{}, fmt.Errorf("secret: malformed reference %q, want ${provider:name}", s)
	}
	return Ref{
		Provider: strings.TrimSpace(m[1]),
		Name:     strings.TrimSpace(m[2]),
		Original: m[0],
	}, nil
}

// FindRefs returns every reference embedded in s, in order.
func FindRefs(s string) []Ref {
	matches := refPattern.FindAllStringSubmatch(s, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Ref{
			Provider: strings.TrimSpace(m[1]),
			Name:     strings.TrimSpace(m[2]),
			Original: m[0],
		})
	}
	return refs
}

// Mask renders a secret value safe for display. Short values vanish
// entirely; longer ones keep enough of the edges to be recognizable.
func Mask(value string) string {
	switch {
	case len(value) <= 4:
		return "****"
	case len(value) <= 8:
		return value[:2] + "****"
	default:
		return value[:3] + "****" + value[len(value)-2:]
	}
}
