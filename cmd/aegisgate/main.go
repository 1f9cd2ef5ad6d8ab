package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	configFile string
	dataDir    string
	listen     string
	policyFile string
	logLevel   string
	logToFile  bool
	logDir     string

	// Injected by -ldflags at release build time.
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "aegisgate",
		Short:   "AegisGate - defense layer for LLM agents: input scanning, stream monitoring, and action validation",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	// Underscored spellings of the multi-word flags work too, so
	// AEGISGATE_* habits carry over to the command line.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.aegisgate)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Admin API listen address (host:port)")
	rootCmd.PersistentFlags().StringVarP(&policyFile, "policy", "p", "", "Policy file path (JSON, YAML, or TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to file in the standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")

	// The config loader reads these keys through viper, so AEGISGATE_*
	// environment variables layer in without extra plumbing.
	for _, key := range []string{"config", "data-dir", "listen", "policy", "log-level"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: bind flag %s: %v\n", key, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(
		getServeCommand(),
		getScanCommand(),
		getPolicyCommand(),
		getEventsCommand(),
		getSessionsCommand(),
		getAlertsCommand(),
		getSecretsCommand(),
		getConfigCommand(),
		getTUICommand(),
		getVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
