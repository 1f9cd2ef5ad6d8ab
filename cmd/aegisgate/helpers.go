package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/cliclient"
	"github.com/aegis-gate/aegisgate-go/internal/config"
	"github.com/aegis-gate/aegisgate-go/internal/logs"
	"github.com/aegis-gate/aegisgate-go/internal/secret"
)

// loadCLIConfig builds the effective configuration for a one-shot CLI
// command. Secret references resolve through the default providers;
// command loggers get their own sanitizer, so no hook is wired here.
func loadCLIConfig(ctx context.Context) (*config.Config, error) {
	resolver := secret.NewResolver()
	if configFile != "" {
		return config.LoadWithResolver(ctx, configFile, resolver)
	}
	return config.Load(ctx, resolver)
}

// commandLogger sets up the quiet stderr logger used by every command
// except serve.
func commandLogger() (*zap.Logger, error) {
	logger, _, err := logs.SetupCommandLogger(false, logLevel, logToFile, logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, nil
}

// daemonClient connects to the running aegisgate daemon.
func daemonClient(cfg *config.Config, logger *zap.Logger) *cliclient.Client {
	baseURL := fmt.Sprintf("http://%s", cfg.Listen)
	apiKey := ""
	if cfg.API != nil {
		apiKey = cfg.API.APIKey
	}
	return cliclient.New(baseURL, apiKey, logger.Sugar())
}

// requireDaemon pings the daemon and converts a connection failure into
// the structured error agents know how to recover from.
func requireDaemon(ctx context.Context, client *cliclient.Client) error {
	if err := client.Ping(ctx); err != nil {
		return output.NewStructuredError(output.ErrCodeDaemonNotRunning, "cannot reach the aegisgate daemon").
			WithGuidance("the admin API is not answering; is it running on the configured listen address?").
			WithRecoveryCommand("aegisgate serve").
			WithContext("cause", err.Error())
	}
	return nil
}

// newFormatter resolves the output format from the command flags and
// the AEGISGATE_OUTPUT environment variable.
func newFormatter(outputFlag string, jsonFlag bool) (output.OutputFormatter, error) {
	format := output.ResolveFormat(outputFlag, jsonFlag)
	f, err := output.NewFormatter(format)
	if err != nil {
		return nil, output.NewStructuredError(output.ErrCodeInvalidOutputFormat, err.Error()).
			WithGuidance("valid formats are table, json, and yaml")
	}
	return f, nil
}

// printData renders data with the formatter and writes it to stdout.
func printData(f output.OutputFormatter, data interface{}) error {
	out, err := f.Format(data)
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	fmt.Fprintln(os.Stdout, out)
	return nil
}

// printTable renders tabular data and writes it to stdout.
func printTable(f output.OutputFormatter, headers []string, rows [][]string) error {
	out, err := f.FormatTable(headers, rows)
	if err != nil {
		return fmt.Errorf("format table: %w", err)
	}
	fmt.Fprintln(os.Stdout, out)
	return nil
}

func truncateCell(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
