// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/provider"
	"github.com/sigil-dev/warden/internal/secrets"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// keyValidator checks an API key against the provider. Tests replace it.
var keyValidator = func(ctx context.Context, name provider.Name, key string) error {
	return provider.ValidateKey(ctx, &http.Client{Timeout: 15 * time.Second}, name, key)
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys in the OS keyring",
		Long:  "Store, list and delete provider API keys kept under the warden service in the operating system keyring.",
	}
	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)
	return cmd
}

func parseProvider(arg string) (provider.Name, error) {
	name := provider.Name(strings.ToLower(arg))
	if !slices.Contains(provider.Names, name) {
		names := make([]string, len(provider.Names))
		for i, n := range provider.Names {
			names[i] = string(n)
		}
		return "", inputError("unknown provider %q (want one of %s)", arg, strings.Join(names, ", "))
	}
	return name, nil
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider API key, read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseProvider(args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Paste the %s API key and press Enter: ", name)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			key := strings.TrimSpace(line)
			if key == "" {
				if err != nil {
					return inputError("reading API key: %v", err)
				}
				return inputError("API key must not be empty")
			}

			if check, _ := cmd.Flags().GetBool("check"); check {
				if err := keyValidator(cmd.Context(), name, key); err != nil {
					return wardenerr.Wrapf(err, wardenerr.CodeCLIInputInvalid, "%s rejected the key", name)
				}
			}

			if err := secretStoreFactory().Store(secrets.DefaultService, secrets.KeyFor(string(name)), key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s; config reference: %s\n",
				secrets.KeyFor(string(name)), secrets.URIFor(string(name)))
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "validate the key against the provider before storing it")
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := secretStoreFactory().List(secrets.DefaultService)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(out, "No secrets stored.")
				return nil
			}
			slices.Sort(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete a provider's stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			key := secrets.KeyFor(string(name))
			if err := secretStoreFactory().Delete(secrets.DefaultService, key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", key)
			return nil
		},
	}
}
