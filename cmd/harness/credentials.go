package main

import (
	"context"
	"fmt"

	"github.com/flanksource/clicky"
	"github.com/flanksource/harness/credential"
	"github.com/spf13/cobra"
)

var credentialSecretKey string

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage the test credentials store",
}

func withStore(fn func(ctx context.Context, store *credential.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := credential.Open(cfg.CredentialStore)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		return fn(cmd.Context(), store, args)
	}
}

func init() {
	list := &cobra.Command{
		Use:   "list [pattern]",
		Short: "List credentials whose username matches a glob",
		Args:  cobra.MaximumNArgs(1),
		RunE: withStore(func(ctx context.Context, store *credential.Store, args []string) error {
			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}
			creds, err := store.Find(ctx, pattern)
			if err != nil {
				return err
			}
			out, err := clicky.Format(creds)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Register a username; its password or certificate is read from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store *credential.Store, args []string) error {
			return store.Save(ctx, credential.Credential{Username: args[0], SecretKey: credentialSecretKey})
		}),
	}
	add.Flags().StringVar(&credentialSecretKey, "secret-key", "", "Vault key (default: derived from the username)")

	remove := &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a credential",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, store *credential.Store, args []string) error {
			return store.Delete(ctx, args[0])
		}),
	}

	credentialsCmd.AddCommand(list, add, remove)
	rootCmd.AddCommand(credentialsCmd)
}
