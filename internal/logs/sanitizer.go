package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks secret values before
// they are written. It masks two classes of data: values explicitly
// registered after secret resolution, and strings that match common
// credential shapes (API keys, bearer tokens, JWTs).
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
	resolved *sync.Map // resolved secret values to mask
}

// secretPattern pairs a detection regex with a masking function.
type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

var highEntropyRe = regexp.MustCompile(`(["\']|[=:][\s]*)(["'])?([A-Za-z0-9+/]{32,}={0,2})(["'])?`)

// defaultPatterns covers the credential formats most likely to leak
// through scanned text, tool arguments, and upstream API errors.
var defaultPatterns = []*secretPattern{
	{
		name:  "github_token",
		regex: regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		maskFunc: func(token string) string {
			if len(token) <= 7 {
				return "****"
			}
			return token[:7] + "***" + token[len(token)-2:]
		},
	},
	{
		name:  "openai_key",
		regex: regexp.MustCompile(`\b(sk-[A-Za-z0-9]{20,})\b`),
		maskFunc: func(key string) string {
			if len(key) <= 5 {
				return "****"
			}
			return key[:5] + "***" + key[len(key)-2:]
		},
	},
	{
		name:  "anthropic_key",
		regex: regexp.MustCompile(`\b(sk-ant-[A-Za-z0-9\-]{30,})\b`),
		maskFunc: func(key string) string {
			if len(key) <= 10 {
				return "****"
			}
			return key[:10] + "***" + key[len(key)-2:]
		},
	},
	{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 4 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	},
	{
		name:  "aws_key",
		regex: regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
		maskFunc: func(key string) string {
			return key[:8] + "***" + key[len(key)-2:]
		},
	},
	{
		// Long base64-ish runs after = or : or inside quotes. Masked
		// only when the value itself looks high-entropy, so ordinary
		// identifiers survive.
		name:  "high_entropy",
		regex: highEntropyRe,
		maskFunc: func(match string) string {
			parts := highEntropyRe.FindStringSubmatch(match)
			if len(parts) < 4 {
				return match
			}
			prefix, openQuote, value, closeQuote := parts[1], parts[2], parts[3], parts[4]
			if hasHighEntropy(value) {
				return prefix + openQuote + maskValue(value) + closeQuote
			}
			return match
		},
	},
	{
		name:  "jwt",
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 {
				return "****"
			}
			// Keep the header so the token type stays identifiable.
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	},
}

// NewSecretSanitizer creates a sanitizing core that wraps the provided
// core.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
		resolved: &sync.Map{},
	}
}

// RegisterResolvedSecret registers a secret value resolved from the
// environment or keyring so every future log line masks it. Values
// shorter than four characters are ignored; masking them would also
// mangle ordinary words.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 4 {
		return
	}
	s.resolved.Store(value, true)
}

// UnregisterResolvedSecret removes a secret from the mask cache.
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolved.Delete(value)
}

// sanitizeString masks registered values first, then pattern matches.
func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.resolved.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || secretValue == "" {
			return true
		}
		// Very short registered values are left alone; replacing them
		// would corrupt unrelated text.
		if len(secretValue) >= 8 {
			result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		}
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}

	return result
}

// Write sanitizes the entry message and fields before writing.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}

	return s.Core.Write(entry, sanitizedFields)
}

// sanitizeField masks string-bearing field types. Complex reflected
// values are handled best effort through their Stringer form.
func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		original := string(field.Interface.([]byte))
		field.Interface = []byte(s.sanitizeString(original))
	case zapcore.ReflectType:
		if stringer, ok := field.Interface.(interface{ String() string }); ok {
			original := stringer.String()
			sanitized := s.sanitizeString(original)
			if original != sanitized {
				field = zapcore.Field{
					Key:    field.Key,
					Type:   zapcore.StringType,
					String: sanitized,
				}
			}
		}
	}
	return field
}

// With creates a sanitizing child core sharing the resolved-value cache,
// so secrets registered later are masked in pre-scoped loggers too.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitizedFields),
		patterns: s.patterns,
		resolved: s.resolved,
	}
}

// Check routes enabled entries through this core so Write runs.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue keeps the first three and last two characters of a value.
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

// hasHighEntropy reports whether a string looks like random key
// material: mostly unique characters drawn from several character
// classes.
func hasHighEntropy(s string) bool {
	if len(s) < 16 {
		return false
	}

	charCount := make(map[rune]int)
	for _, char := range s {
		charCount[char]++
	}
	uniqueRatio := float64(len(charCount)) / float64(len(s))

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, char := range s {
		switch {
		case char >= 'A' && char <= 'Z':
			hasUpper = true
		case char >= 'a' && char <= 'z':
			hasLower = true
		case char >= '0' && char <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	varietyScore := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			varietyScore++
		}
	}

	return uniqueRatio > 0.6 && varietyScore >= 3
}
