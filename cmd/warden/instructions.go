// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/security"
	"github.com/sigil-dev/warden/internal/workspace"
)

func newInstructionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Manage a workspace's project instruction file",
	}
	cmd.PersistentFlags().StringP("workspace", "w", ".", "workspace root directory")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write an instruction file template",
		Long: "Write a project instruction template into the workspace. The file is\n" +
			"added to the system prompt of every chat in that workspace.\n" +
			"Existing files are never overwritten.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := cmd.Flags().GetString("workspace")
			name, _ := cmd.Flags().GetString("file")
			path, err := workspace.CreateTemplate(root, name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return err
		},
	}
	initCmd.Flags().String("file", workspace.InstructionFiles[0],
		"file to create: "+strings.Join(workspace.InstructionFiles, ", "))

	cmd.AddCommand(
		initCmd,
		&cobra.Command{
			Use:   "show",
			Short: "Print the instructions a chat in this workspace would load",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				root, _ := cmd.Flags().GetString("workspace")
				ws, err := workspace.NewManager(security.Config{}).Open(cmd.Context(), root)
				if err != nil {
					return err
				}
				text, file := ws.Instructions()
				out := cmd.OutOrStdout()
				if file == "" {
					_, err = fmt.Fprintf(out, "No instruction file found (looked for %s)\n",
						strings.Join(workspace.InstructionFiles, ", "))
					return err
				}
				_, err = fmt.Fprintf(out, "From %s:\n\n%s\n", file, strings.TrimSpace(text))
				return err
			},
		},
	)
	return cmd
}
