package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
)

func getSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and release guard sessions",
	}

	sessionsCmd.AddCommand(getSessionsListCommand())
	sessionsCmd.AddCommand(getSessionsReleaseCommand())

	return sessionsCmd
}

func getSessionsListCommand() *cobra.Command {
	var (
		quarantinedOnly bool
		outputFlag      string
		jsonFlag        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter, err := newFormatter(outputFlag, jsonFlag)
			if err != nil {
				return err
			}
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sessions, err := client.Sessions(cmd.Context())
			if err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed)
			}

			if quarantinedOnly {
				filtered := sessions[:0]
				for _, s := range sessions {
					if s.Quarantined {
						filtered = append(filtered, s)
					}
				}
				sessions = filtered
			}

			if format := output.ResolveFormat(outputFlag, jsonFlag); format != "table" {
				return printData(formatter, sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions tracked.")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				state := "active"
				if s.Quarantined {
					state = "quarantined"
				}
				rows = append(rows, []string{
					s.ID,
					state,
					strconv.Itoa(s.Blocks),
					strconv.Itoa(s.Retries),
					s.LastSeen.Local().Format("15:04:05"),
				})
			}
			return printTable(formatter, []string{"SESSION", "STATE", "BLOCKS", "RETRIES", "LAST SEEN"}, rows)
		},
	}

	cmd.Flags().BoolVar(&quarantinedOnly, "quarantined", false, "Show quarantined sessions only")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func getSessionsReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Release a session, lifting any quarantine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.ReleaseSession(cmd.Context(), args[0]); err != nil {
				return output.FromError(err, output.ErrCodeSessionNotFound).
					WithGuidance("list tracked sessions with: aegisgate sessions list")
			}
			fmt.Printf("Session %s released\n", args[0])
			return nil
		},
	}
}
