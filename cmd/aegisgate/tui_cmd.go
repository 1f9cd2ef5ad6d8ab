package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/tui"
)

func getTUICommand() *cobra.Command {
	var refreshSeconds int

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the terminal dashboard",
		Long:  "Launch an interactive terminal dashboard for monitoring audit events, alerts, and guard sessions.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if refreshSeconds < 1 {
				return fmt.Errorf("--refresh must be at least 1 (got %d)", refreshSeconds)
			}
			return runTUI(cmd, time.Duration(refreshSeconds)*time.Second)
		},
	}

	cmd.Flags().IntVar(&refreshSeconds, "refresh", 5, "Refresh interval in seconds")

	return cmd
}

// runTUI connects to the daemon and runs the dashboard until quit. Also
// reached through `events tail --follow`.
func runTUI(cmd *cobra.Command, refreshInterval time.Duration) error {
	client, cleanup, err := connect(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m := tui.NewModel(ctx, client, refreshInterval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
