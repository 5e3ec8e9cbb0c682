// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sigil-dev/warden/internal/tool"
)

const (
	maxCommandOutput = 1024 * 1024
	killGrace        = 2 * time.Second
)

// Bash runs a shell command in the workspace root. The whole process group
// is killed when the call's context ends.
type Bash struct{}

func (Bash) Definition() tool.Definition {
	return tool.Definition{
		Name:        "bash",
		Description: "Execute shell command. Use for git, build and test commands. NOT for file reading (use read_file) or searching (use glob/grep).",
		InputSchema: objectSchema(map[string]any{
			"command": map[string]any{"type": "string", "minLength": 1, "description": "Shell command to execute"},
			"timeout": map[string]any{"type": "integer", "minimum": 1, "description": "Timeout in seconds (default: 120, max: 600)"},
		}, "command"),
		Capability: tool.CapabilityExec,
		TargetArg:  "command",
	}
}

type bashArgs struct {
	Command string `json:"command"`
}

func (Bash) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args bashArgs
	if err := decode("bash", raw, &args); err != nil {
		return tool.Output{}, err
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	cmd.Dir = ec.Root
	cmd.Env = append(os.Environ(), "TERM=dumb", "NO_COLOR=1")
	cmd.WaitDelay = killGrace
	configureProcess(cmd)

	stdout := &capped{max: maxCommandOutput}
	stderr := &capped{max: maxCommandOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return tool.Output{}, ctxErr
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return tool.Output{}, failf("running command: %v", err)
	}

	var b strings.Builder
	b.WriteString(stdout.String())
	if stderr.buf.Len() > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[stderr]\n")
		b.WriteString(stderr.String())
	}
	if exitErr != nil {
		fmt.Fprintf(&b, "\n[exit code: %d]", exitErr.ExitCode())
	}
	if b.Len() == 0 {
		return tool.Output{Text: "(no output)"}, nil
	}
	return tool.Output{Text: b.String()}, nil
}

// capped is an io.Writer that keeps the first max bytes.
type capped struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capped) String() string {
	if c.truncated {
		return c.buf.String() + "\n... (output truncated)"
	}
	return c.buf.String()
}
