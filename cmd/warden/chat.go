// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/warden/internal/agent"
	"github.com/sigil-dev/warden/internal/permission"
	"github.com/sigil-dev/warden/internal/tool"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent in a workspace",
		Long: `Run the agent in a workspace. With a message argument warden answers it and exits;
otherwise it reads one request per line until EOF or "/exit".`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("workspace", "w", ".", "workspace root directory")
	cmd.Flags().StringP("model", "m", "", "model override as provider/model")
	cmd.Flags().StringP("session", "s", "", "resume an existing session by ID")

	return cmd
}

// terminal serialises prompts and answers on one reader. Approvals may be
// requested from several tool goroutines at once.
type terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func (t *terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// approve asks the user about one tool call. "a" and "d" remember the
// answer for the rest of the session; so does "y" for ask_once tools.
func (t *terminal) approve(ctx context.Context, req permission.ApprovalRequest) (permission.Approval, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return permission.Approval{}, err
	}

	_, _ = fmt.Fprintf(t.out, "\n[permission] %s %s (risk: %s)\n", req.Tool, req.Target, req.Risk)
	prompt := "  allow? [y]es / [n]o / [a]lways this session / [d]eny this session: "
	for {
		_, _ = fmt.Fprint(t.out, prompt)
		answer, err := t.readLine()
		if err != nil {
			return permission.Approval{Allowed: false, Reason: "no answer from terminal"}, nil
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return permission.Approval{Allowed: true, Remember: req.Level == permission.LevelAskOnce}, nil
		case "a", "always":
			return permission.Approval{Allowed: true, Remember: true}, nil
		case "n", "no", "":
			return permission.Approval{Allowed: false, Reason: "denied by user"}, nil
		case "d", "deny":
			return permission.Approval{Allowed: false, Reason: "denied by user", Remember: true}, nil
		}
	}
}

func chatHooks(out io.Writer) *agent.LoopHooks {
	var mu sync.Mutex
	write := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintf(out, format, args...)
	}
	return &agent.LoopHooks{
		OnText: func(text string) { write("%s", text) },
		OnToolCall: func(call tool.Call) {
			write("\n> %s %s\n", call.Name, compact(string(call.Arguments), 120))
		},
		OnToolResult: func(res tool.Result) {
			if res.IsError {
				write("  ! %s: %s\n", res.Status, compact(res.Content, 200))
			}
		},
		OnWarning: func(w string) { write("\n%s\n", w) },
	}
}

func compact(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	root, _ := cmd.Flags().GetString("workspace")
	model, _ := cmd.Flags().GetString("model")
	resume, _ := cmd.Flags().GetString("session")

	out := cmd.OutOrStdout()
	term := &terminal{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.ErrOrStderr()}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := WireRuntime(ctx, cfg, WireOptions{
		WorkspaceRoot: root,
		Approver:      term.approve,
		Hooks:         chatHooks(out),
		Model:         model,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	s, err := rt.StartSession(ctx, resume)
	if err != nil {
		return err
	}
	defer rt.EndSession(ctx, s)

	if cp, err := rt.Workspace.Checkpoints.Load(); err == nil && resume == "" {
		_, _ = fmt.Fprintf(term.out, "A context checkpoint from %s exists; see `warden checkpoint show`.\n",
			cp.Timestamp.Format("2006-01-02 15:04"))
	}

	if len(args) == 1 {
		return runTurn(ctx, rt, s, args[0], out)
	}

	_, _ = fmt.Fprintf(term.out, "warden session %s in %s. Type /exit to quit.\n", s.ID, rt.Workspace.Root)
	for {
		_, _ = fmt.Fprint(term.out, "\n>>> ")
		line, err := term.readLine()
		if err != nil {
			return nil
		}
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		// Each request gets its own interrupt scope so Ctrl-C stops the
		// turn rather than the session.
		turnCtx, turnStop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		err = runTurn(turnCtx, rt, s, line, out)
		turnStop()
		if err != nil && !wardenerr.HasCode(err, wardenerr.CodeAgentLoopCanceled) {
			return err
		}
	}
}

func runTurn(ctx context.Context, rt *Runtime, s *agent.Session, input string, out io.Writer) error {
	res, err := rt.Turn(ctx, s, input)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		if wardenerr.HasCode(err, wardenerr.CodeAgentLoopCanceled) {
			_, _ = fmt.Fprintln(out, "[interrupted]")
		}
		return err
	}
	if res.StopReason != agent.StopReasonDone {
		_, _ = fmt.Fprintf(out, "[stopped: %s after %d turns]\n", res.StopReason, res.Turns)
	}
	return nil
}
