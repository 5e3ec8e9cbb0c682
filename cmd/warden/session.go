// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/agent"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage saved chat sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(),
		newSessionShowCmd(),
		newSessionSearchCmd(),
		newSessionExportCmd(),
		newSessionDeleteCmd(),
	)
	return cmd
}

// withSessions opens the session store for the duration of fn.
func withSessions(cmd *cobra.Command, fn func(*agent.SessionManager) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sm, ss, err := openSessions(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ss.Close() }()
	return fn(sm)
}

func newSessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withSessions(cmd, func(sm *agent.SessionManager) error {
				sessions, err := sm.List(cmd.Context(), store.ListOpts{Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					_, _ = fmt.Fprintln(out, "No sessions found")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tSTATUS\tTITLE")
				for _, s := range sessions {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Status, s.Title)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum sessions to list")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd, func(sm *agent.SessionManager) error {
				rec, err := sm.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				msgs, err := sm.Messages(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Session %s (%s)\nWorkspace: %s\nCreated:   %s\n\n",
					rec.ID, rec.Status, rec.WorkspaceRoot, rec.CreatedAt.Local().Format(time.DateTime))
				for _, m := range msgs {
					printMessage(out, m)
				}
				return nil
			})
		},
	}
}

func printMessage(out io.Writer, m *store.Message) {
	for _, b := range m.Blocks {
		switch b.Type {
		case store.BlockText:
			_, _ = fmt.Fprintf(out, "[%s] %s\n", m.Role, b.Text)
		case store.BlockToolUse:
			_, _ = fmt.Fprintf(out, "[%s] -> %s %s\n", m.Role, b.ToolName, compact(string(b.Arguments), 200))
		case store.BlockToolResult:
			marker := "<-"
			if b.IsError {
				marker = "<!"
			}
			_, _ = fmt.Fprintf(out, "[tool] %s %s\n", marker, compact(b.Text, 200))
		case store.BlockImage:
			_, _ = fmt.Fprintf(out, "[tool] <- image (%s, %d bytes)\n", b.MediaType, len(b.Data))
		}
	}
}

func newSessionSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find sessions by title or message text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			query := strings.Join(args, " ")
			return withSessions(cmd, func(sm *agent.SessionManager) error {
				hits, err := sm.Search(cmd.Context(), query, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					_, _ = fmt.Fprintf(out, "No sessions match %q\n", query)
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tUPDATED\tMATCH\tTITLE")
				for _, h := range hits {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						h.Session.ID, h.Session.UpdatedAt.Local().Format(time.DateTime), h.Match, h.Session.Title)
					if h.Snippet != "" {
						_, _ = fmt.Fprintf(tw, "\t\t\t  %s\n", h.Snippet)
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum matches to list (0 for all)")
	return cmd
}

const (
	exportJSON     = "json"
	exportMarkdown = "markdown"
)

func newSessionExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session's full transcript as JSON or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			if format != exportJSON && format != exportMarkdown {
				return wardenerr.Errorf(wardenerr.CodeCLIInputInvalid,
					"unknown export format %q (want %s or %s)", format, exportJSON, exportMarkdown)
			}

			return withSessions(cmd, func(sm *agent.SessionManager) error {
				tr, err := sm.Export(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				var data []byte
				if format == exportJSON {
					data, err = json.MarshalIndent(tr, "", "  ")
					if err != nil {
						return wardenerr.Wrapf(err, wardenerr.CodeInternalFailure, "encoding session %s", args[0])
					}
					data = append(data, '\n')
				} else {
					var b strings.Builder
					writeMarkdownTranscript(&b, tr)
					data = []byte(b.String())
				}

				if output == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				// Transcripts carry tool output; keep them private.
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return wardenerr.Wrapf(err, wardenerr.CodeCLIInputInvalid, "writing %s", output)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Exported session %s to %s\n", tr.Session.ID, output)
				return err
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringP("format", "f", exportJSON, "transcript format: json or markdown")
	return cmd
}

func writeMarkdownTranscript(w io.Writer, tr *agent.Transcript) {
	rec := tr.Session
	title := rec.Title
	if title == "" {
		title = "Session " + rec.ID
	}
	_, _ = fmt.Fprintf(w, "# %s\n\n", title)
	_, _ = fmt.Fprintf(w, "- **ID:** %s\n- **Workspace:** %s\n- **Status:** %s\n- **Created:** %s\n- **Updated:** %s\n",
		rec.ID, rec.WorkspaceRoot, rec.Status,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))

	for _, m := range tr.Messages {
		_, _ = fmt.Fprintf(w, "\n## %s\n\n", m.Role)
		for _, b := range m.Blocks {
			switch b.Type {
			case store.BlockText:
				_, _ = fmt.Fprintf(w, "%s\n", b.Text)
			case store.BlockToolUse:
				_, _ = fmt.Fprintf(w, "Tool call `%s`:\n\n```json\n%s\n```\n", b.ToolName, b.Arguments)
			case store.BlockToolResult:
				label := "Tool result"
				if b.IsError {
					label = "Tool error"
				}
				_, _ = fmt.Fprintf(w, "%s:\n\n```\n%s\n```\n", label, b.Text)
			case store.BlockImage:
				_, _ = fmt.Fprintf(w, "_image (%s, %d bytes)_\n", b.MediaType, len(b.Data))
			}
		}
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd, func(sm *agent.SessionManager) error {
				if err := sm.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
				return err
			})
		},
	}
}
