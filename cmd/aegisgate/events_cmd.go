package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/cliclient"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

func getEventsCommand() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the audit event trail",
	}

	eventsCmd.AddCommand(getEventsListCommand())
	eventsCmd.AddCommand(getEventsGetCommand())
	eventsCmd.AddCommand(getEventsSearchCommand())
	eventsCmd.AddCommand(getEventsTailCommand())

	return eventsCmd
}

func getEventsListCommand() *cobra.Command {
	var (
		event      string
		decision   string
		sessionID  string
		limit      int
		cursor     string
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			page, err := client.Events(ctx, cliclient.EventsQuery{
				Event:     event,
				Decision:  decision,
				SessionID: sessionID,
				Limit:     limit,
				Cursor:    cursor,
			})
			if err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed)
			}

			if format := output.ResolveFormat(outputFlag, jsonFlag); format != "table" {
				return printData(formatter, page)
			}

			if len(page.Events) == 0 {
				fmt.Println("No events found.")
				return nil
			}
			rows := make([][]string, 0, len(page.Events))
			for _, rec := range page.Events {
				rows = append(rows, eventRowCells(rec))
			}
			if err := printTable(formatter, []string{"TIME", "EVENT", "DECISION", "SESSION", "CONTEXT"}, rows); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Printf("More events: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "Filter by event name (e.g. input_blocked)")
	cmd.Flags().StringVar(&decision, "decision", "", "Filter by decision (allowed, blocked, flagged, info)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Filter by session ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from a previous listing")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func getEventsGetCommand() *cobra.Command {
	var (
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one audit event in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := client.Event(cmd.Context(), args[0])
			if err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed)
			}
			return printData(formatter, rec)
		},
	}

	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func getEventsSearchCommand() *cobra.Command {
	var (
		limit      int
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over audit events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			page, err := client.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed)
			}

			if format := output.ResolveFormat(outputFlag, jsonFlag); format != "table" {
				return printData(formatter, page)
			}

			if len(page.Hits) == 0 {
				fmt.Printf("No events match %q.\n", page.Query)
				return nil
			}
			rows := make([][]string, 0, len(page.Hits))
			for _, hit := range page.Hits {
				rows = append(rows, []string{
					hit.ID,
					hit.Event,
					hit.Decision,
					hit.SessionID,
					fmt.Sprintf("%.2f", hit.Score),
					truncateCell(hit.Fragment, 50),
				})
			}
			return printTable(formatter, []string{"ID", "EVENT", "DECISION", "SESSION", "SCORE", "FRAGMENT"}, rows)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of hits")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func getEventsTailCommand() *cobra.Command {
	var (
		event     string
		decision  string
		sessionID string
		recent    int
		follow    bool
		jsonLines bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream audit events as they happen",
		Long: "Connect to the daemon's event stream and print entries live. " +
			"--follow opens the interactive dashboard instead of line output.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow {
				return runTUI(cmd, 5*time.Second)
			}

			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := client.StreamEvents(cmd.Context(), cliclient.StreamOptions{
				Event:     event,
				Decision:  decision,
				SessionID: sessionID,
				Recent:    recent,
			})
			if err != nil {
				return output.FromError(err, output.ErrCodeConnectionFailed)
			}

			for entry := range entries {
				if jsonLines {
					line, err := json.Marshal(entry)
					if err != nil {
						continue
					}
					fmt.Fprintln(os.Stdout, string(line))
					continue
				}
				fmt.Fprintln(os.Stdout, formatEntryLine(entry))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", "", "Only stream this event name")
	cmd.Flags().StringVar(&decision, "decision", "", "Only stream this decision")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only stream this session")
	cmd.Flags().IntVar(&recent, "recent", 0, "Replay this many recent events before going live")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Open the interactive dashboard")
	cmd.Flags().BoolVar(&jsonLines, "json", false, "Print one JSON object per line")

	return cmd
}

// connect builds a daemon client for a one-shot command and verifies
// the daemon answers. The cleanup function flushes the logger.
func connect(cmd *cobra.Command) (*cliclient.Client, func(), error) {
	ctx := cmd.Context()
	cfg, err := loadCLIConfig(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := commandLogger()
	if err != nil {
		return nil, nil, err
	}
	client := daemonClient(cfg, logger)
	if err := requireDaemon(ctx, client); err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return client, func() { _ = logger.Sync() }, nil
}

func eventRowCells(rec *storage.EventRecord) []string {
	return []string{
		rec.Timestamp.Local().Format("15:04:05"),
		rec.Event,
		rec.Decision,
		rec.SessionID,
		truncateCell(contextSummary(rec.Context), 50),
	}
}

func formatEntryLine(entry audit.Entry) string {
	line := fmt.Sprintf("%s  %-22s %-8s %s",
		entry.Timestamp.Local().Format("15:04:05"),
		entry.Event,
		entry.Decision,
		entry.SessionID)
	if summary := contextSummary(entry.Context); summary != "" {
		line += "  " + summary
	}
	return strings.TrimRight(line, " ")
}

// contextSummary picks the most telling context fields for one-line
// rendering; full payloads are a `events get` away.
func contextSummary(ctx map[string]interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, key := range []string{"reason", "gate", "tool", "rule_name", "violation_type", "score"} {
		if v, ok := ctx[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, " ")
}
