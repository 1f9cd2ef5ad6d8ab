// Package policy defines the operator-written security policy: which
// tools may run, at what rate, and how the guard layers behave.
// Policies load from JSON, YAML or TOML, validate strictly, and can be
// hot-reloaded from disk.
package policy

// Capabilities holds the tool ACL. Globs in the lists: "*" matches
// every tool, "prefix_*" matches by prefix, anything else matches
// exactly. Evaluation order is deny, then requireApproval, then allow,
// with default-deny once the allow list is non-empty.
type Capabilities struct {
	Allow           []string `json:"allow,omitempty" yaml:"allow,omitempty" toml:"allow" validate:"dive,required"`
	Deny            []string `json:"deny,omitempty" yaml:"deny,omitempty" toml:"deny" validate:"dive,required"`
	RequireApproval []string `json:"requireApproval,omitempty" yaml:"requireApproval,omitempty" toml:"requireApproval" validate:"dive,required"`
}

// Limit caps calls to one tool. Window uses the {N}{s|m|h|d} form.
type Limit struct {
	Max    int    `json:"max" yaml:"max" toml:"max" validate:"gt=0"`
	Window string `json:"window" yaml:"window" toml:"window" validate:"required,window"`
}

// Input tunes inbound message scanning.
type Input struct {
	Sensitivity  string `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty" toml:"sensitivity" validate:"omitempty,oneof=permissive balanced paranoid"`
	ScanStrategy string `json:"scanStrategy,omitempty" yaml:"scanStrategy,omitempty" toml:"scanStrategy" validate:"omitempty,oneof=last-user all-user full-history"`
}

// Output tunes the stream monitor.
type Output struct {
	StreamMonitoring bool     `json:"streamMonitoring" yaml:"streamMonitoring" toml:"streamMonitoring"`
	PIIRedaction     bool     `json:"piiRedaction" yaml:"piiRedaction" toml:"piiRedaction"`
	Canaries         []string `json:"canaries,omitempty" yaml:"canaries,omitempty" toml:"canaries" validate:"dive,required"`
}

// Alignment tunes the LLM judge.
type Alignment struct {
	JudgeEnabled     bool    `json:"judgeEnabled" yaml:"judgeEnabled" toml:"judgeEnabled"`
	TriggerThreshold float64 `json:"triggerThreshold,omitempty" yaml:"triggerThreshold,omitempty" toml:"triggerThreshold" validate:"omitempty,gte=0,lte=1"`
}

// DataFlow tunes the exfiltration guard.
type DataFlow struct {
	NoExfiltration           bool     `json:"noExfiltration" yaml:"noExfiltration" toml:"noExfiltration"`
	ExfiltrationToolPatterns []string `json:"exfiltrationToolPatterns,omitempty" yaml:"exfiltrationToolPatterns,omitempty" toml:"exfiltrationToolPatterns" validate:"dive,required"`
}

// Policy is one complete policy document. Version must be 1.
type Policy struct {
	Version      int              `json:"version" yaml:"version" toml:"version" validate:"eq=1"`
	Capabilities Capabilities     `json:"capabilities,omitempty" yaml:"capabilities,omitempty" toml:"capabilities"`
	Limits       map[string]Limit `json:"limits,omitempty" yaml:"limits,omitempty" toml:"limits" validate:"dive"`
	Input        Input            `json:"input,omitempty" yaml:"input,omitempty" toml:"input"`
	Output       Output           `json:"output,omitempty" yaml:"output,omitempty" toml:"output"`
	Alignment    Alignment        `json:"alignment,omitempty" yaml:"alignment,omitempty" toml:"alignment"`
	DataFlow     DataFlow         `json:"dataFlow,omitempty" yaml:"dataFlow,omitempty" toml:"dataFlow"`
}

// Default is the policy in force when no file is given: everything
// allowed, balanced scanning of the last user message, stream
// monitoring with PII redaction, judge gated at 0.5.
func Default() *Policy {
	return &Policy{
		Version: 1,
		Input: Input{
			Sensitivity:  "balanced",
			ScanStrategy: "last-user",
		},
		Output: Output{
			StreamMonitoring: true,
			PIIRedaction:     true,
		},
		Alignment: Alignment{
			TriggerThreshold: 0.5,
		},
	}
}
