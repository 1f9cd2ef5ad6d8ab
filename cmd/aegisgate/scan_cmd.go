package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/patterns"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
)

func getScanCommand() *cobra.Command {
	var (
		source      string
		sensitivity string
		remote      bool
		outputFlag  string
		jsonFlag    bool
	)

	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "Scan content for prompt injection",
		Long: "Scan a file or stdin for prompt injection, encoded payloads, and other hostile " +
			"content. Runs locally by default; --remote sends the content to the running daemon " +
			"so its configured judge and audit trail apply.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readScanInput(args)
			if err != nil {
				return err
			}

			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}

			var result *scanner.Result
			if remote {
				result, err = scanRemote(cmd, text, source, sensitivity)
			} else {
				result, err = scanLocal(cmd, text, source, sensitivity)
			}
			if err != nil {
				return err
			}

			if err := printScanResult(formatter, outputFlag, jsonFlag, result); err != nil {
				return err
			}
			if !result.Safe {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "user", "Content source (user, tool, web, rag, api, file, email, database, mcp, model)")
	cmd.Flags().StringVar(&sensitivity, "sensitivity", "", "Override sensitivity (permissive, balanced, paranoid)")
	cmd.Flags().BoolVar(&remote, "remote", false, "Scan through the running daemon instead of locally")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

// readScanInput takes the file argument, or stdin when it is piped in.
// An interactive terminal with no file argument is an error rather than
// a silent hang.
func readScanInput(args []string) (string, error) {
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", output.NewStructuredError(output.ErrCodeInvalidInput, fmt.Sprintf("cannot read %s: %v", args[0], err))
		}
		return string(data), nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", output.NewStructuredError(output.ErrCodeInvalidInput, "no input: pass a file argument or pipe content on stdin").
			WithGuidance("example: echo 'ignore previous instructions' | aegisgate scan")
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func scanLocal(cmd *cobra.Command, text, source, sensitivity string) (*scanner.Result, error) {
	ctx := cmd.Context()
	cfg, err := loadCLIConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := commandLogger()
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	var scanCfg *scanner.Config
	if cfg.Guard != nil {
		scanCfg = cfg.Guard.Scanner
	}
	sc := scanner.New(scanCfg, logger)

	req := contracts.ScanRequest{Text: text, Source: source}
	q := req.Quarantined()
	if sensitivity != "" {
		level, err := patterns.ParseSensitivity(sensitivity)
		if err != nil {
			return nil, output.NewStructuredError(output.ErrCodeInvalidInput, err.Error()).
				WithGuidance("valid sensitivities are permissive, balanced, and paranoid")
		}
		return sc.ScanAt(ctx, q, level)
	}
	return sc.Scan(ctx, q)
}

func scanRemote(cmd *cobra.Command, text, source, sensitivity string) (*scanner.Result, error) {
	ctx := cmd.Context()
	cfg, err := loadCLIConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := commandLogger()
	if err != nil {
		return nil, err
	}
	defer func() { _ = logger.Sync() }()

	client := daemonClient(cfg, logger)
	if err := requireDaemon(ctx, client); err != nil {
		return nil, err
	}
	return client.Scan(ctx, contracts.ScanRequest{
		Text:        text,
		Source:      source,
		Sensitivity: sensitivity,
	})
}

func printScanResult(f output.OutputFormatter, outputFlag string, jsonFlag bool, result *scanner.Result) error {
	format := output.ResolveFormat(outputFlag, jsonFlag)
	if format != "table" {
		return printData(f, result)
	}

	verdict := "SAFE"
	if !result.Safe {
		verdict = "UNSAFE"
	}
	fmt.Printf("Verdict: %s (score %.2f)\n", verdict, result.Score)
	if result.Language != "" {
		fmt.Printf("Language: %s\n", result.Language)
	}
	if len(result.Detections) == 0 {
		fmt.Println("No detections.")
		return nil
	}

	rows := make([][]string, 0, len(result.Detections))
	for _, d := range result.Detections {
		rows = append(rows, []string{
			string(d.Type),
			string(d.Severity),
			strconv.Itoa(d.Position.Start),
			truncateCell(strings.ReplaceAll(d.Matched, "\n", " "), 60),
		})
	}
	return printTable(f, []string{"TYPE", "SEVERITY", "POSITION", "MATCHED"}, rows)
}
