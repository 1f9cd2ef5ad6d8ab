package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/config"
)

func getConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the daemon configuration file",
	}

	configCmd.AddCommand(getConfigInitCommand())
	configCmd.AddCommand(getConfigShowCommand())

	return configCmd
}

func getConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Long: "Write a fully populated sample configuration. Defaults to " +
			"~/.aegisgate/" + config.DefaultConfigFileName + " when no path is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			switch {
			case len(args) == 1:
				path = args[0]
			case configFile != "":
				path = configFile
			default:
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolve home directory: %w", err)
				}
				path = filepath.Join(home, ".aegisgate", config.DefaultConfigFileName)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return output.NewStructuredError(output.ErrCodeOperationFailed, fmt.Sprintf("%s already exists", path)).
					WithGuidance("pass --force to overwrite it")
			}

			if err := config.CreateSampleConfig(path); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}
			fmt.Printf("Sample configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func getConfigShowCommand() *cobra.Command {
	var (
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: "Show the configuration after defaults, file, flags, and environment " +
			"overrides. Secret references are shown unresolved.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}

			// No resolver: ${...} references print as written instead
			// of leaking resolved values to the terminal.
			var cfg *config.Config
			if configFile != "" {
				cfg, err = config.LoadFromFile(configFile)
			} else {
				cfg, err = config.Load(cmd.Context(), nil)
			}
			if err != nil {
				return output.FromError(err, output.ErrCodeConfigNotFound).
					WithRecoveryCommand("aegisgate config init")
			}

			if path := cfg.Path(); path != "" {
				fmt.Printf("Loaded from %s\n", path)
			} else {
				fmt.Println("Running on compiled defaults (no config file found)")
			}
			if output.ResolveFormat(outputFlag, jsonFlag) == "table" {
				return printData(&output.JSONFormatter{Indent: true}, cfg)
			}
			return printData(formatter, cfg)
		},
	}

	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}
