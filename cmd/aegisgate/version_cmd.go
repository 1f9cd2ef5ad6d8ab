package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/updatecheck"
)

func getVersionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Printf("aegisgate %s\n", version)
			if commit != "" {
				fmt.Printf("  commit: %s\n", commit)
			}
			if date != "" {
				fmt.Printf("  built:  %s\n", date)
			}
			fmt.Printf("  go:     %s\n", runtime.Version())

			if !check {
				return nil
			}

			status := updatecheck.New(zap.NewNop(), version).CheckNow(cmd.Context())
			switch {
			case status.CheckError != "":
				fmt.Printf("update check failed: %s\n", status.CheckError)
			case status.UpdateAvailable:
				fmt.Printf("update available: %s (%s)\n", status.LatestVersion, status.ReleaseURL)
			default:
				fmt.Println("up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check for a newer release")

	return cmd
}
