package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
)

func getAlertsCommand() *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and resolve fired alerts",
	}

	alertsCmd.AddCommand(getAlertsListCommand())
	alertsCmd.AddCommand(getAlertsResolveCommand())

	return alertsCmd
}

func getAlertsListCommand() *cobra.Command {
	var (
		all        bool
		outputFlag string
		jsonFlag   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts (active by default)",
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

			alerts, err := client.Alerts(cmd.Context(), !all)
			if err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed)
			}

			if format := output.ResolveFormat(outputFlag, jsonFlag); format != "table" {
				return printData(formatter, alerts)
			}

			if len(alerts) == 0 {
				fmt.Println("No alerts.")
				return nil
			}
			rows := make([][]string, 0, len(alerts))
			for _, a := range alerts {
				state := "active"
				if a.Resolved {
					state = "resolved"
				}
				rows = append(rows, []string{
					a.ID,
					a.RuleID,
					state,
					a.TriggeredAt.Local().Format("15:04:05"),
					truncateCell(a.Message, 50),
				})
			}
			return printTable(formatter, []string{"ID", "RULE", "STATE", "TRIGGERED", "MESSAGE"}, rows)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include resolved alerts")
	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Output in JSON format (shorthand for -o json)")

	return cmd
}

func getAlertsResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cleanup, err := connect(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.ResolveAlert(cmd.Context(), args[0]); err != nil {
				return output.FromError(err, output.ErrCodeOperationFailed).
					WithGuidance("list active alerts with: aegisgate alerts list")
			}
			fmt.Printf("Alert %s resolved\n", args[0])
			return nil
		},
	}
}
