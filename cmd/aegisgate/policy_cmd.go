package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/policy"
)

func getPolicyCommand() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and inspect action policies",
	}

	policyCmd.AddCommand(getPolicyValidateCommand())
	policyCmd.AddCommand(getPolicyShowCommand())

	return policyCmd
}

func getPolicyValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a policy file",
		Long:  "Parse and validate a policy file (JSON, YAML, or TOML), reporting every schema violation in one pass.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			pol, err := policy.Load(args[0])
			if err != nil {
				var invalid *policy.InvalidError
				if errors.As(err, &invalid) {
					serr := output.NewStructuredError(output.ErrCodePolicyInvalid, fmt.Sprintf("%s has %d issue(s)", args[0], len(invalid.Issues))).
						WithGuidance("fix the listed fields and validate again")
					for i, issue := range invalid.Issues {
						serr = serr.WithContext(fmt.Sprintf("issue_%d", i+1), issue)
					}
					return serr
				}
				return output.NewStructuredError(output.ErrCodePolicyInvalid, err.Error())
			}

			fmt.Printf("%s is valid (version %d)\n", args[0], pol.Version)
			summarizePolicy(pol)
			return nil
		},
	}
}

func getPolicyShowCommand() *cobra.Command {
	var (
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Show the effective policy",
		Long: "Show the policy that would be enforced: the given file, the configured policy_path, " +
			"or the built-in default when neither exists.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}

			path := ""
			switch {
			case len(args) == 1:
				path = args[0]
			case policyFile != "":
				path = policyFile
			default:
				cfg, err := loadCLIConfig(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				path = cfg.PolicyPath
			}

			pol := policy.Default()
			if path != "" {
				pol, err = policy.Load(path)
				if err != nil {
					return output.NewStructuredError(output.ErrCodePolicyInvalid, err.Error()).
						WithRecoveryCommand(fmt.Sprintf("aegisgate policy validate %s", path))
				}
			}

			if format := output.ResolveFormat(outputFlag, jsonFlag); format == "table" {
				if path == "" {
					fmt.Println("Built-in default policy:")
				} else {
					fmt.Printf("Policy from %s:\n", path)
				}
				summarizePolicy(pol)
				return nil
			}
			return printData(formatter, pol)
		},
	}

	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func summarizePolicy(pol *policy.Policy) {
	fmt.Printf("  capabilities: %d allow, %d deny, %d require approval\n",
		len(pol.Capabilities.Allow), len(pol.Capabilities.Deny), len(pol.Capabilities.RequireApproval))
	fmt.Printf("  limits: %d tool(s)\n", len(pol.Limits))
	fmt.Printf("  input: sensitivity=%s strategy=%s\n", pol.Input.Sensitivity, pol.Input.ScanStrategy)
	fmt.Printf("  output: streamMonitoring=%t piiRedaction=%t canaries=%d\n",
		pol.Output.StreamMonitoring, pol.Output.PIIRedaction, len(pol.Output.Canaries))
	fmt.Printf("  alignment: judgeEnabled=%t threshold=%.2f\n",
		pol.Alignment.JudgeEnabled, pol.Alignment.TriggerThreshold)
	fmt.Printf("  dataFlow: noExfiltration=%t patterns=%d\n",
		pol.DataFlow.NoExfiltration, len(pol.DataFlow.ExfiltrationToolPatterns))
}
