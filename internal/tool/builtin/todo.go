// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package builtin

import (
	"context"
	"encoding/json"

	"github.com/sigil-dev/warden/internal/tool"
)

// TodoWrite replaces the session's task list.
type TodoWrite struct{}

func (TodoWrite) Definition() tool.Definition {
	return tool.Definition{
		Name: "todo_write",
		Description: "Create or update task list. Use for tracking multi-step work. Each todo needs: " +
			"content (imperative form), activeForm (present continuous), status (pending/in_progress/completed).",
		InputSchema: objectSchema(map[string]any{
			"todos": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"content":    prop("string", "Task description (imperative form, e.g., 'Fix the bug')"),
					"activeForm": prop("string", "Present continuous form (e.g., 'Fixing the bug')"),
					"status": map[string]any{
						"type":        "string",
						"enum":        []any{"pending", "in_progress", "completed"},
						"description": "Task status",
					},
				}, "content", "activeForm", "status"),
			},
		}, "todos"),
		Capability: tool.CapabilityMeta,
	}
}

type todoWriteArgs struct {
	Todos []tool.Task `json:"todos"`
}

func (TodoWrite) Execute(_ context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args todoWriteArgs
	if err := decode("todo_write", raw, &args); err != nil {
		return tool.Output{}, err
	}
	ec.Tasks.Replace(args.Todos)
	return tool.Output{Text: ec.Tasks.Summary()}, nil
}

// TodoRead renders the session's task list.
type TodoRead struct{}

func (TodoRead) Definition() tool.Definition {
	return tool.Definition{
		Name:        "todo_read",
		Description: "Read current todo list to check task status.",
		InputSchema: objectSchema(map[string]any{}),
		Capability:  tool.CapabilityMeta,
	}
}

func (TodoRead) Execute(_ context.Context, ec tool.ExecContext, _ json.RawMessage) (tool.Output, error) {
	return tool.Output{Text: ec.Tasks.Render()}, nil
}
