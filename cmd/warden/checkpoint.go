// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/contextmon"
	"github.com/sigil-dev/warden/internal/security"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Show or clear a workspace's context checkpoint",
	}
	cmd.PersistentFlags().StringP("workspace", "w", ".", "workspace root directory")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the saved checkpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cs, err := checkpointStore(cmd)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cs.FormatSummary())
				return err
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the saved checkpoint",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cs, err := checkpointStore(cmd)
				if err != nil {
					return err
				}
				if !cs.Exists() {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "No checkpoint found.")
					return err
				}
				if err := cs.Delete(); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", cs.Path())
				return err
			},
		},
	)
	return cmd
}

func checkpointStore(cmd *cobra.Command) (*contextmon.CheckpointStore, error) {
	root, _ := cmd.Flags().GetString("workspace")
	canonical, err := security.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	return contextmon.NewCheckpointStore(canonical), nil
}
