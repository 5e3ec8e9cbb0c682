// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package builtin provides the minimal tool set: file reading and editing,
// directory listing, glob and grep search, shell execution and the
// per-session todo list.
package builtin

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/sigil-dev/warden/internal/tool"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// All returns one instance of every built-in tool.
func All() []tool.Tool {
	return []tool.Tool{
		ReadFile{},
		WriteFile{},
		EditFile{},
		ListDir{},
		Glob{},
		Grep{},
		Bash{},
		TodoRead{},
		TodoWrite{},
	}
}

// Register adds every built-in tool to r.
func Register(r *tool.Registry) error {
	return r.Register(All()...)
}

func decode(name string, args json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	if err := dec.Decode(v); err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeAgentToolInvalidInput, "decoding %s arguments", name)
	}
	return nil
}

func failf(format string, args ...any) error {
	return wardenerr.Errorf(wardenerr.CodeAgentToolExecFailure, format, args...)
}

// display renders an absolute path relative to the workspace root when it
// lies inside it.
func display(ec tool.ExecContext, p string) string {
	if ec.Root == "" {
		return p
	}
	rel, err := filepath.Rel(ec.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
