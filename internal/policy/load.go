package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a policy file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Load reads, parses and validates a policy file. The format comes
// from the file extension, falling back to content sniffing.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data, DetectFormat(path, data))
}

// Parse decodes one policy document and validates it.
func Parse(data []byte, format Format) (*Policy, error) {
	var p Policy
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse json policy: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse yaml policy: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse toml policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown policy format %q", format)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var tomlAssignment = regexp.MustCompile(`(?m)^\s*[A-Za-z0-9_.-]+\s*=`)

// DetectFormat picks the encoding by extension first. Without a known
// extension it sniffs the content: a leading brace means JSON, a
// top-level "key = value" line means TOML, anything else is YAML.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}

	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return FormatJSON
	case tomlAssignment.MatchString(trimmed):
		return FormatTOML
	default:
		return FormatYAML
	}
}
