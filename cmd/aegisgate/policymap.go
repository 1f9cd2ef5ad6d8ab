package main

import (
	"fmt"

	"github.com/aegis-gate/aegisgate-go/internal/action"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/judge"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/policy"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
	"github.com/aegis-gate/aegisgate-go/internal/stream"
)

// guardConfigFromPolicy overlays the active policy's input, output, and
// alignment sections on the configured guard settings. The base config
// is not mutated; sub-configs are cloned before any field changes.
func guardConfigFromPolicy(base *guard.Config, pol *policy.Policy) (*guard.Config, error) {
	if base == nil {
		base = guard.DefaultConfig()
	}
	cfg := *base

	if pol == nil {
		return &cfg, nil
	}

	if pol.Input.ScanStrategy != "" {
		cfg.ScanStrategy = guard.Strategy(pol.Input.ScanStrategy)
	}

	if pol.Input.Sensitivity != "" {
		level, err := patterns.ParseSensitivity(pol.Input.Sensitivity)
		if err != nil {
			return nil, fmt.Errorf("policy input.sensitivity: %w", err)
		}
		sc := scanner.DefaultConfig()
		if cfg.Scanner != nil {
			clone := *cfg.Scanner
			sc = &clone
		}
		sc.Sensitivity = level
		cfg.Scanner = sc
	}

	st := stream.DefaultConfig()
	if cfg.Stream != nil {
		clone := *cfg.Stream
		st = &clone
	}
	st.PIIRedaction = pol.Output.PIIRedaction
	if len(pol.Output.Canaries) > 0 {
		st.Canaries = append(append([]string(nil), st.Canaries...), pol.Output.Canaries...)
	}
	cfg.Stream = st

	jc := judge.DefaultConfig()
	if cfg.Judge != nil {
		clone := *cfg.Judge
		jc = &clone
	}
	jc.Enabled = pol.Alignment.JudgeEnabled
	if pol.Alignment.TriggerThreshold > 0 {
		jc.TriggerThreshold = pol.Alignment.TriggerThreshold
	}
	cfg.Judge = jc

	return &cfg, nil
}

// actionConfigFromPolicy maps the policy's capability, limit, and data
// flow sections onto the action gate configuration. Sections the policy
// leaves empty keep the gate defaults.
func actionConfigFromPolicy(pol *policy.Policy) *action.Config {
	cfg := action.DefaultConfig()
	if pol == nil {
		return cfg
	}

	cfg.ACL = action.ACLConfig{
		Allow:           append([]string(nil), pol.Capabilities.Allow...),
		Deny:            append([]string(nil), pol.Capabilities.Deny...),
		RequireApproval: append([]string(nil), pol.Capabilities.RequireApproval...),
	}

	for tool, limit := range pol.Limits {
		cfg.RateLimits[tool] = action.RateLimit{
			Max:    limit.Max,
			Window: limit.Window,
		}
	}

	cfg.DataFlow.NoExfiltration = pol.DataFlow.NoExfiltration
	if len(pol.DataFlow.ExfiltrationToolPatterns) > 0 {
		cfg.DataFlow.ExfiltrationToolPatterns = append([]string(nil), pol.DataFlow.ExfiltrationToolPatterns...)
	}

	return cfg
}
