// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/config"
	"github.com/sigil-dev/warden/internal/secrets"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// secretStoreFactory creates the secrets.Store used for keyring:// API keys
// and the secret subcommands. Tests substitute an in-memory store.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// NewRootCmd creates the root warden command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "warden",
		Short:         "warden: a tool-using coding agent with guard rails",
		Long:          "warden runs an LLM agent in a workspace. Every tool call passes security and permission checks and is recorded in a tamper-evident audit log.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			setupLogging(cmd, level)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ~/.config/warden/warden.yaml)")
	root.PersistentFlags().String("data-dir", "", "directory for sessions and audit logs (default ~/.local/share/warden)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newChatCmd(),
		newAuditCmd(),
		newCheckpointCmd(),
		newInstructionsCmd(),
		newSessionCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

func setupLogging(cmd *cobra.Command, level slog.Level) {
	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// loadConfig resolves the config file, bootstrapping the default one on
// first run, and fills unset data paths. The --verbose flag wins over
// log.level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		def, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		config.BootstrapConfig(def)
		path = def
	}
	config.WarnInsecurePermissions(path)

	cfg, err := config.Load(path, secretStoreFactory())
	if err != nil {
		return nil, err
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		if dataDir, err = config.DefaultDataDir(); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDataDir(dataDir)

	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		setupLogging(cmd, cfg.SlogLevel())
	}
	return cfg, nil
}

func inputError(format string, args ...any) error {
	return wardenerr.Errorf(wardenerr.CodeCLIInputInvalid, format, args...)
}
