// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package workspace opens the project directory an agent works in: its
// canonical root, the security validator bound to it, its checkpoint store
// and any project instruction file.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sigil-dev/warden/internal/contextmon"
	"github.com/sigil-dev/warden/internal/security"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// InstructionFiles are searched in order; the first readable one wins.
var InstructionFiles = []string{
	"AGENTS.md",
	"CLAUDE.md",
	filepath.Join(".agents", "AGENTS.md"),
	filepath.Join(".claude", "CLAUDE.md"),
	"PROJECT.md",
	"AI_INSTRUCTIONS.md",
}

// maxInstructionBytes caps how much of an instruction file enters the
// system prompt.
const maxInstructionBytes = 64 * 1024

// Workspace is one opened project directory.
type Workspace struct {
	Root        string
	Validator   *security.Validator
	Checkpoints *contextmon.CheckpointStore

	mu              sync.RWMutex
	instructions    string
	instructionFile string
}

// Instructions returns the loaded project instructions and the file they
// came from, relative to Root. Both are empty when no file was found.
func (w *Workspace) Instructions() (text, file string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.instructions, w.instructionFile
}

// Reload re-reads the project instruction file.
func (w *Workspace) Reload() {
	text, file := loadInstructions(w.Root)
	w.mu.Lock()
	w.instructions, w.instructionFile = text, file
	w.mu.Unlock()
}

// SystemPrompt appends the project instructions, if any, to base.
func (w *Workspace) SystemPrompt(base string) string {
	text, file := w.Instructions()
	if text == "" {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	if base != "" {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "## Project Instructions (from %s)\n\n%s\n", file, strings.TrimSpace(text))
	return b.String()
}

// Manager opens workspaces and caches them by canonical root.
type Manager struct {
	security   security.Config
	opts       []security.Option
	workspaces map[string]*Workspace
	mu         sync.RWMutex
}

// NewManager creates a Manager. cfg.WorkspaceRoot is ignored; each Open
// supplies its own root. opts are passed to every validator.
func NewManager(cfg security.Config, opts ...security.Option) *Manager {
	return &Manager{
		security:   cfg,
		opts:       opts,
		workspaces: make(map[string]*Workspace),
	}
}

// Open returns the Workspace for root, creating and caching it on first use.
// root must be an existing directory; symlinks are resolved so two spellings
// of the same directory share one Workspace.
func (m *Manager) Open(_ context.Context, root string) (*Workspace, error) {
	canonical, err := security.CanonicalRoot(root)
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeWorkspaceOpenFailure, "opening workspace %s", root)
	}

	m.mu.RLock()
	if ws, ok := m.workspaces[canonical]; ok {
		m.mu.RUnlock()
		return ws, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.workspaces[canonical]; ok {
		return ws, nil
	}

	cfg := m.security
	cfg.WorkspaceRoot = canonical
	v, err := security.NewValidator(cfg, m.opts...)
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeWorkspaceOpenFailure, "opening workspace %s", root)
	}

	ws := &Workspace{
		Root:        canonical,
		Validator:   v,
		Checkpoints: contextmon.NewCheckpointStore(canonical),
	}
	ws.Reload()
	if _, file := ws.Instructions(); file != "" {
		slog.Debug("loaded project instructions", "root", canonical, "file", file)
	}

	m.workspaces[canonical] = ws
	return ws, nil
}

// Roots lists the canonical roots of the open workspaces.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roots := make([]string, 0, len(m.workspaces))
	for r := range m.workspaces {
		roots = append(roots, r)
	}
	return roots
}

// InstructionTemplate is the skeleton CreateTemplate writes.
const InstructionTemplate = `# Project Instructions

## Code Style
- Use descriptive variable names
- Add comments for complex logic
- Follow existing patterns in the codebase

## Conventions
- [Add your project conventions here]

## Important Files
- [List files the agent should know about]

## Testing
- [Describe how to run tests]

## Important Notes
- [Add context the agent needs here]
`

// CreateTemplate writes InstructionTemplate to name under root and returns
// the file's path. name must be one of InstructionFiles; empty means
// AGENTS.md. An existing file is never overwritten.
func CreateTemplate(root, name string) (string, error) {
	if name == "" {
		name = InstructionFiles[0]
	}
	if !slices.Contains(InstructionFiles, filepath.Clean(name)) {
		return "", wardenerr.Errorf(wardenerr.CodeWorkspaceTemplateInvalid,
			"%s is not an instruction file (want one of %s)", name, strings.Join(InstructionFiles, ", "))
	}
	canonical, err := security.CanonicalRoot(root)
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeWorkspaceOpenFailure, "opening workspace %s", root)
	}

	path := filepath.Join(canonical, filepath.Clean(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeWorkspaceTemplateFailure, "creating %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", wardenerr.Errorf(wardenerr.CodeWorkspaceTemplateExists, "%s already exists", path)
	}
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeWorkspaceTemplateFailure, "creating %s", path)
	}
	_, werr := f.WriteString(InstructionTemplate)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", wardenerr.Wrapf(werr, wardenerr.CodeWorkspaceTemplateFailure, "writing %s", path)
	}
	return path, nil
}

func loadInstructions(root string) (text, file string) {
	for _, name := range InstructionFiles {
		data, err := readCapped(filepath.Join(root, name), maxInstructionBytes)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("skipping unreadable instruction file", "path", filepath.Join(root, name), "error", err)
			}
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		return string(data), name
	}
	return "", ""
}

func readCapped(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	return io.ReadAll(io.LimitReader(f, limit))
}
