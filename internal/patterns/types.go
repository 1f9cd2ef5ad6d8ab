// Package patterns provides the typed detection catalogue used by input
// scanning and stream monitoring: prompt-injection families, secret shapes,
// and PII shapes, each tagged with a detection type and severity.
package patterns

import "fmt"

// DetectionType identifies what kind of threat a detection represents.
type DetectionType string

const (
	TypeInstructionOverride DetectionType = "instruction_override"
	TypeRoleManipulation    DetectionType = "role_manipulation"
	TypeSkeletonKey         DetectionType = "skeleton_key"
	TypeDelimiterEscape     DetectionType = "delimiter_escape"
	TypeEncodingAttack      DetectionType = "encoding_attack"
	TypeAdversarialSuffix   DetectionType = "adversarial_suffix"
	TypeEntropyAnomaly      DetectionType = "entropy_anomaly"
	TypePerplexityAnomaly   DetectionType = "perplexity_anomaly"
	TypeManyShot            DetectionType = "many_shot"
	TypeMultiLanguage       DetectionType = "multi_language"
	TypeVirtualization      DetectionType = "virtualization"
	TypeMarkdownInjection   DetectionType = "markdown_injection"
	TypeIndirectInjection   DetectionType = "indirect_injection"
	TypeToolAbuse           DetectionType = "tool_abuse"
	TypeDataExfiltration    DetectionType = "data_exfiltration"
	TypePrivilegeEscalation DetectionType = "privilege_escalation"
	TypeMemoryPoisoning     DetectionType = "memory_poisoning"
	TypeChainInjection      DetectionType = "chain_injection"
	TypeHistoryManipulation DetectionType = "history_manipulation"
	TypeDenialOfWallet      DetectionType = "denial_of_wallet"
	TypePIIDetected         DetectionType = "pii_detected"
	TypeSecretDetected      DetectionType = "secret_detected"
	TypeCanaryLeak          DetectionType = "canary_leak"
	TypeLLMJudgeRejected    DetectionType = "llm_judge_rejected"
	TypeIntentMisalignment  DetectionType = "intent_misalignment"
	TypeCustom              DetectionType = "custom"
)

// Severity levels for detections
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityWeight feeds the composite score computed by the input scanner.
var severityWeight = map[Severity]float64{
	SeverityLow:      0.2,
	SeverityMedium:   0.4,
	SeverityHigh:     0.6,
	SeverityCritical: 1.0,
}

// severityRank orders severities from least to most severe.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Weight returns the score contribution of a single detection at this
// severity. Unknown severities weigh zero.
func (s Severity) Weight() float64 {
	return severityWeight[s]
}

// AtLeast reports whether s is as severe as other or more so.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// MaxSeverity returns the higher of two severity levels.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// Sensitivity selects how much of the catalogue is active.
type Sensitivity string

const (
	// SensitivityParanoid runs every pattern regardless of severity.
	SensitivityParanoid Sensitivity = "paranoid"
	// SensitivityBalanced drops low-severity patterns.
	SensitivityBalanced Sensitivity = "balanced"
	// SensitivityPermissive runs only critical patterns.
	SensitivityPermissive Sensitivity = "permissive"
)

// Admits reports whether a pattern of the given severity is active at this
// sensitivity level. Unrecognized levels behave as balanced.
func (s Sensitivity) Admits(sev Severity) bool {
	switch s {
	case SensitivityParanoid:
		return true
	case SensitivityPermissive:
		return sev == SeverityCritical
	default:
		return sev != SeverityLow
	}
}

// ParseSensitivity validates a sensitivity name from configuration.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(s) {
	case SensitivityParanoid, SensitivityBalanced, SensitivityPermissive:
		return Sensitivity(s), nil
	default:
		return "", fmt.Errorf("unknown sensitivity %q (want paranoid, balanced or permissive)", s)
	}
}

// Position locates a match inside the scanned text as byte offsets.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Detection is a single pattern hit in scanned text.
type Detection struct {
	Type        DetectionType `json:"type"`
	Pattern     string        `json:"pattern"`
	Matched     string        `json:"matched"`
	Severity    Severity      `json:"severity"`
	Position    Position      `json:"position"`
	Description string        `json:"description,omitempty"`
}
