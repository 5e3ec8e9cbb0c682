// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/audit"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the tool-call audit log",
	}
	cmd.AddCommand(
		newAuditVerifyCmd(),
		newAuditSummaryCmd(),
		newAuditExportCmd(),
	)
	return cmd
}

func openAuditLog(cmd *cobra.Command) (*audit.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return audit.NewLogger(cfg.Audit.Dir)
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [session-id]",
		Short: "Recompute entry hashes and report tampering",
		Long:  "Verify one session's audit log, or every session's when no ID is given. Exits non-zero if any entry fails.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := openAuditLog(cmd)
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 {
				if ids, err = log.Sessions(); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				_, _ = fmt.Fprintln(out, "No audit logs found.")
				return nil
			}

			var tampered []string
			for _, id := range ids {
				report, err := log.Verify(id)
				if err != nil {
					return err
				}
				if report.Valid {
					_, _ = fmt.Fprintf(out, "%s: OK (%d entries)\n", id, report.Entries)
					continue
				}
				tampered = append(tampered, id)
				_, _ = fmt.Fprintf(out, "%s: TAMPERED entries %v of %d\n", id, report.Invalid, report.Entries)
				for _, issue := range report.Issues {
					_, _ = fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if len(tampered) > 0 {
				return wardenerr.Errorf(wardenerr.CodeAuditVerifyTampered,
					"audit verification failed for %d session(s)", len(tampered))
			}
			return nil
		},
	}
}

func newAuditSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Count actions, tools and denials for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := openAuditLog(cmd)
			if err != nil {
				return err
			}
			sum, err := log.Summary(args[0])
			if err != nil {
				return err
			}
			if sum.TotalActions == 0 {
				return wardenerr.Errorf(wardenerr.CodeAuditLogNotFound, "no audit entries for session %s", args[0])
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "session\t%s\n", sum.SessionID)
			_, _ = fmt.Fprintf(tw, "actions\t%d\n", sum.TotalActions)
			_, _ = fmt.Fprintf(tw, "denied\t%d\n", sum.DeniedActions)
			_, _ = fmt.Fprintf(tw, "first\t%s\n", sum.FirstAction)
			_, _ = fmt.Fprintf(tw, "last\t%s\n", sum.LastAction)
			for _, tool := range sortedKeys(sum.ToolCounts) {
				_, _ = fmt.Fprintf(tw, "tool %s\t%d\n", tool, sum.ToolCounts[tool])
			}
			return tw.Flush()
		},
	}
}

func newAuditExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session's audit entries, summary and integrity report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := openAuditLog(cmd)
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("output")
			if path == "" || path == "-" {
				return log.Export(args[0], cmd.OutOrStdout())
			}

			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return wardenerr.Errorf(wardenerr.CodeAuditExportFailure, "creating %s: %w", path, err)
			}
			if err := log.Export(args[0], f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return wardenerr.Errorf(wardenerr.CodeAuditExportFailure, "writing %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported audit log to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
