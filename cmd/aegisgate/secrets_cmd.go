package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-gate/aegisgate-go/internal/prompt"
	"github.com/aegis-gate/aegisgate-go/internal/secret"
)

const secretsTimeout = 30 * time.Second

func getSecretsCommand() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store, retrieve, and delete secrets in the operating system's keyring " +
			"(Keychain on macOS, Secret Service on Linux, Credential Manager on Windows). " +
			"Reference stored secrets in configuration as ${keyring:name}.",
	}

	secretsCmd.AddCommand(getSecretsSetCommand())
	secretsCmd.AddCommand(getSecretsGetCommand())
	secretsCmd.AddCommand(getSecretsDeleteCommand())

	return secretsCmd
}

func getSecretsSetCommand() *cobra.Command {
	var fromEnv string

	cmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret in the keyring",
		Long:  "Store a secret in the OS keyring. With no value argument, prompts without echoing.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			var value string
			switch {
			case len(args) == 2:
				value = args[1]
			case fromEnv != "":
				value = os.Getenv(fromEnv)
				if value == "" {
					return fmt.Errorf("environment variable %s is not set or empty", fromEnv)
				}
			default:
				var err error
				value, err = prompt.New().Secret("Enter secret value: ")
				if err != nil {
					return fmt.Errorf("read secret value: %w", err)
				}
			}

			if value == "" {
				return fmt.Errorf("secret value cannot be empty")
			}

			ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
			defer cancel()

			if err := secret.NewKeyringProvider().Store(ctx, name, value); err != nil {
				return fmt.Errorf("failed to store secret: %w", err)
			}

			fmt.Printf("Secret %q stored in keyring\n", name)
			fmt.Printf("Use in config: ${keyring:%s}\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the value from an environment variable")

	return cmd
}

func getSecretsGetCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Retrieve a secret from the keyring",
		Long:  "Retrieve a secret from the OS keyring. Output is masked unless --show is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
			defer cancel()

			value, err := secret.NewKeyringProvider().Resolve(ctx, secret.Ref{Provider: "keyring", Name: name})
			if err != nil {
				return fmt.Errorf("failed to retrieve secret: %w", err)
			}

			if show {
				fmt.Printf("%s: %s\n", name, value)
			} else {
				fmt.Printf("%s: %s\n", name, secret.Mask(value))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the secret value unmasked")

	return cmd
}

func getSecretsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "del <name>",
		Aliases: []string{"delete", "rm"},
		Short:   "Delete a secret from the keyring",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
			defer cancel()

			if err := secret.NewKeyringProvider().Delete(ctx, name); err != nil {
				return fmt.Errorf("failed to delete secret: %w", err)
			}

			fmt.Printf("Secret %q deleted from keyring\n", name)
			return nil
		},
	}
}
