// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package contextmon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const (
	// StateDir is the per-workspace directory holding warden state.
	StateDir       = ".warden"
	checkpointFile = "context_checkpoint.json"

	summaryPreviewChars = 100
)

// Checkpoint is the snapshot saved when context usage first crosses the
// 80% threshold, so work can resume after the history is compacted.
type Checkpoint struct {
	Timestamp             time.Time      `json:"timestamp"`
	TokensUsed            int            `json:"tokens_used"`
	UsagePercent          float64        `json:"context_usage_percent"`
	CurrentTask           string         `json:"current_task"`
	ImportantData         map[string]any `json:"important_data"`
	LastUserMessages      []string       `json:"last_user_messages"`
	LastAssistantMessages []string       `json:"last_assistant_messages"`
	NextSteps             []string       `json:"next_steps"`
}

// CheckpointStore reads and writes the single checkpoint of a workspace.
// Saving overwrites the previous checkpoint.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore keeps the checkpoint under <workspaceRoot>/.warden.
func NewCheckpointStore(workspaceRoot string) *CheckpointStore {
	return &CheckpointStore{path: filepath.Join(workspaceRoot, StateDir, checkpointFile)}
}

// Path returns the checkpoint file location.
func (s *CheckpointStore) Path() string { return s.path }

// Save writes cp, replacing any earlier checkpoint.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	if cp.ImportantData == nil {
		cp.ImportantData = map[string]any{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeContextCheckpointWriteFailure, "encoding checkpoint")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeContextCheckpointWriteFailure, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeContextCheckpointWriteFailure, "writing checkpoint")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return wardenerr.Wrap(err, wardenerr.CodeContextCheckpointWriteFailure, "writing checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return wardenerr.Wrap(err, wardenerr.CodeContextCheckpointWriteFailure, "writing checkpoint")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return wardenerr.Wrap(err, wardenerr.CodeContextCheckpointWriteFailure, "replacing checkpoint")
	}
	return nil
}

// Load returns the saved checkpoint. A missing file is reported with a
// not_found code.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, wardenerr.New(wardenerr.CodeContextCheckpointNotFound, "no checkpoint found",
			wardenerr.FieldPath(s.path))
	}
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeContextCheckpointReadFailure, "reading %s", s.path)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeContextCheckpointReadFailure, "decoding %s", s.path)
	}
	return &cp, nil
}

// Exists reports whether a checkpoint file is present.
func (s *CheckpointStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Delete removes the checkpoint. Deleting a missing checkpoint is not an
// error.
func (s *CheckpointStore) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wardenerr.Wrapf(err, wardenerr.CodeContextCheckpointWriteFailure, "deleting %s", s.path)
	}
	return nil
}

// FormatSummary renders the saved checkpoint as Markdown for the user.
func (s *CheckpointStore) FormatSummary() string {
	cp, err := s.Load()
	if err != nil {
		return "No checkpoint found."
	}
	return cp.Format()
}

// Format renders cp as Markdown.
func (cp *Checkpoint) Format() string {
	var b strings.Builder
	b.WriteString("## Context Checkpoint Loaded\n")
	fmt.Fprintf(&b, "**Saved:** %s\n", cp.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Usage:** %.1f%%\n", cp.UsagePercent*100)
	b.WriteString("\n### Last User Messages:\n")
	for i, msg := range cp.LastUserMessages {
		fmt.Fprintf(&b, "%d. %s...\n", i+1, truncateRunes(msg, summaryPreviewChars))
	}

	b.WriteString("\n### Current Task:\n")
	if cp.CurrentTask != "" {
		b.WriteString(cp.CurrentTask)
	} else {
		b.WriteString("Not specified")
	}

	b.WriteString("\n\n### Next Steps:\n")
	if len(cp.NextSteps) == 0 {
		b.WriteString("None specified")
	}
	for i, step := range cp.NextSteps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + step)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
