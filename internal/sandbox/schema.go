package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldType enumerates the field kinds the coercer understands.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
)

// Field describes one schema entry.
type Field struct {
	// Type selects the coercion. An empty type means string.
	Type FieldType `json:"type"`

	// Description is embedded in the prompt to tell the model what the
	// field means.
	Description string `json:"description,omitempty"`

	// Default fills the field when the response omits it, and seeds the
	// fail-open record.
	Default any `json:"default,omitempty"`

	// MaxLength caps string values in runes. Zero means unlimited.
	MaxLength int `json:"max_length,omitempty"`

	// Values is the allowed set for enum fields.
	Values []string `json:"values,omitempty"`
}

// Schema maps field names to their definitions.
type Schema map[string]Field

// Defaults builds the fail-open record: explicit defaults where the
// schema has them, zero values elsewhere.
func (s Schema) Defaults() map[string]any {
	out := make(map[string]any, len(s))
	for name, field := range s {
		if field.Default != nil {
			out[name] = field.Default
			continue
		}
		switch field.Type {
		case FieldNumber:
			out[name] = float64(0)
		case FieldBoolean:
			out[name] = false
		default:
			out[name] = ""
		}
	}
	return out
}

// describe renders the schema as prompt text, one field per line in
// stable order.
func (s Schema) describe() string {
	var b strings.Builder
	for _, name := range s.sortedNames() {
		field := s[name]
		fmt.Fprintf(&b, "- %q (%s)", name, field.kind())
		if field.Description != "" {
			fmt.Fprintf(&b, ": %s", field.Description)
		}
		if field.Default != nil {
			fmt.Fprintf(&b, " [default %v]", field.Default)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (s Schema) sortedNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f Field) kind() string {
	switch f.Type {
	case FieldNumber:
		return "number"
	case FieldBoolean:
		return "boolean"
	case FieldEnum:
		return fmt.Sprintf("one of [%s]", strings.Join(f.Values, ", "))
	default:
		if f.MaxLength > 0 {
			return fmt.Sprintf("string, at most %d characters", f.MaxLength)
		}
		return "string"
	}
}

// coerce validates a parsed response against the schema and returns a
// record containing exactly the schema's fields. Extra response keys
// are dropped; a missing field without a default fails the attempt.
func coerce(schema Schema, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(schema))
	for _, name := range schema.sortedNames() {
		field := schema[name]
		value, ok := raw[name]
		if !ok || value == nil {
			if field.Default != nil {
				out[name] = field.Default
				continue
			}
			return nil, fmt.Errorf("field %q missing from response", name)
		}

		coerced, err := coerceValue(field, value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = coerced
	}
	return out, nil
}

func coerceValue(field Field, value any) (any, error) {
	switch field.Type {
	case FieldNumber:
		return coerceNumber(value)
	case FieldBoolean:
		return coerceBoolean(value)
	case FieldEnum:
		return coerceEnum(field.Values, value)
	case FieldString, "":
		return coerceString(field.MaxLength, value), nil
	default:
		return nil, fmt.Errorf("unknown field type %q", field.Type)
	}
}

func coerceNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%v is not numeric", value)
	}
}

func coerceBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("%q is not boolean", v)
	case float64:
		if v == 1 {
			return true, nil
		}
		if v == 0 {
			return false, nil
		}
		return false, fmt.Errorf("%v is not boolean", v)
	default:
		return false, fmt.Errorf("%v is not boolean", value)
	}
}

func coerceString(maxLength int, value any) string {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	if maxLength > 0 {
		if runes := []rune(s); len(runes) > maxLength {
			return string(runes[:maxLength])
		}
	}
	return s
}

func coerceEnum(values []string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%v is not an enum value", value)
	}
	for _, allowed := range values {
		if s == allowed {
			return s, nil
		}
	}
	return "", fmt.Errorf("%q is not one of [%s]", s, strings.Join(values, ", "))
}
