package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		issue  string
	}{
		{
			name:   "version zero",
			policy: Policy{},
			issue:  "Version must equal 1",
		},
		{
			name:   "version two",
			policy: Policy{Version: 2},
			issue:  "Version must equal 1",
		},
		{
			name: "empty capability entry",
			policy: Policy{
				Version:      1,
				Capabilities: Capabilities{Allow: []string{"read_*", ""}},
			},
			issue: "Allow[1] must not be empty",
		},
		{
			name: "limit without max",
			policy: Policy{
				Version: 1,
				Limits:  map[string]Limit{"search": {Window: "1m"}},
			},
			issue: "Max must be greater than 0",
		},
		{
			name: "malformed window",
			policy: Policy{
				Version: 1,
				Limits:  map[string]Limit{"search": {Max: 5, Window: "5 minutes"}},
			},
			issue: "Window must look like 30s, 5m, 1h or 1d",
		},
		{
			name: "unknown sensitivity",
			policy: Policy{
				Version: 1,
				Input:   Input{Sensitivity: "strict"},
			},
			issue: "Sensitivity must be one of",
		},
		{
			name: "unknown scan strategy",
			policy: Policy{
				Version: 1,
				Input:   Input{ScanStrategy: "everything"},
			},
			issue: "ScanStrategy must be one of",
		},
		{
			name: "threshold above one",
			policy: Policy{
				Version:   1,
				Alignment: Alignment{TriggerThreshold: 1.5},
			},
			issue: "TriggerThreshold must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			require.Error(t, err)

			var invalid *InvalidError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, err.Error(), tt.issue)
		})
	}
}

func TestValidateAggregatesAllIssues(t *testing.T) {
	p := Policy{
		Version:      3,
		Capabilities: Capabilities{Deny: []string{""}},
		Limits:       map[string]Limit{"search": {Max: 0, Window: "soon"}},
		Input:        Input{Sensitivity: "maximal"},
	}

	err := p.Validate()
	require.Error(t, err)

	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.GreaterOrEqual(t, len(invalid.Issues), 5,
		"every violation should be reported in one pass: %v", invalid.Issues)
}

const jsonPolicy = `{
  "version": 1,
  "capabilities": {
    "allow": ["read_*", "search"],
    "deny": ["delete_database"],
    "requireApproval": ["send_email"]
  },
  "limits": {
    "search": {"max": 10, "window": "1m"}
  },
  "input": {"sensitivity": "paranoid", "scanStrategy": "all-user"},
  "output": {"streamMonitoring": true, "piiRedaction": true, "canaries": ["CANARY-7f3a"]},
  "alignment": {"judgeEnabled": true, "triggerThreshold": 0.7},
  "dataFlow": {"noExfiltration": true, "exfiltrationToolPatterns": ["send_*"]}
}`

const yamlPolicy = `version: 1
capabilities:
  allow: [read_*, search]
  deny: [delete_database]
  requireApproval: [send_email]
limits:
  search:
    max: 10
    window: 1m
input:
  sensitivity: paranoid
  scanStrategy: all-user
output:
  streamMonitoring: true
  piiRedaction: true
  canaries: [CANARY-7f3a]
alignment:
  judgeEnabled: true
  triggerThreshold: 0.7
dataFlow:
  noExfiltration: true
  exfiltrationToolPatterns: [send_*]
`

const tomlPolicy = `version = 1

[capabilities]
allow = ["read_*", "search"]
deny = ["delete_database"]
requireApproval = ["send_email"]

[limits.search]
max = 10
window = "1m"

[input]
sensitivity = "paranoid"
scanStrategy = "all-user"

[output]
streamMonitoring = true
piiRedaction = true
canaries = ["CANARY-7f3a"]

[alignment]
judgeEnabled = true
triggerThreshold = 0.7

[dataFlow]
noExfiltration = true
exfiltrationToolPatterns = ["send_*"]
`

func TestParseFormatParity(t *testing.T) {
	fromJSON, err := Parse([]byte(jsonPolicy), FormatJSON)
	require.NoError(t, err)

	fromYAML, err := Parse([]byte(yamlPolicy), FormatYAML)
	require.NoError(t, err)

	fromTOML, err := Parse([]byte(tomlPolicy), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML, "yaml document should load identically to json")
	assert.Equal(t, fromJSON, fromTOML, "toml document should load identically to json")

	assert.Equal(t, []string{"read_*", "search"}, fromJSON.Capabilities.Allow)
	assert.Equal(t, Limit{Max: 10, Window: "1m"}, fromJSON.Limits["search"])
	assert.InDelta(t, 0.7, fromJSON.Alignment.TriggerThreshold, 1e-9)
}

func TestParseRejectsMalformedAndInvalid(t *testing.T) {
	_, err := Parse([]byte("{not json"), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse json policy")

	var invalid *InvalidError
	_, err = Parse([]byte(`{"version": 2}`), FormatJSON)
	require.Error(t, err)
	require.True(t, errors.As(err, &invalid))

	_, err = Parse([]byte("version: 1"), Format("ini"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy format")
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want Format
	}{
		{"json extension", "policy.json", "", FormatJSON},
		{"yaml extension", "policy.yaml", "", FormatYAML},
		{"yml extension", "policy.yml", "", FormatYAML},
		{"toml extension", "policy.toml", "", FormatTOML},
		{"uppercase extension", "POLICY.JSON", "", FormatJSON},
		{"sniff json", "policy", `{"version": 1}`, FormatJSON},
		{"sniff toml", "policy", "version = 1\n", FormatTOML},
		{"sniff toml after comment", "policy", "# base policy\nversion = 1\n", FormatTOML},
		{"sniff yaml", "policy", "version: 1\n", FormatYAML},
		{"sniff yaml with equals in value", "policy", "note: a=b\n", FormatYAML},
		{"empty defaults to yaml", "policy", "", FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.path, []byte(tt.data)))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlPolicy), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
	assert.True(t, p.DataFlow.NoExfiltration)

	// Extensionless path falls back to content sniffing.
	bare := filepath.Join(dir, "policy")
	require.NoError(t, os.WriteFile(bare, []byte(yamlPolicy), 0o600))

	sniffed, err := Load(bare)
	require.NoError(t, err)
	assert.Equal(t, p, sniffed)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
