// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package contextmon estimates how much of the model's context window a
// conversation uses, warns as it fills, and saves a checkpoint the first
// time usage crosses 80%.
package contextmon

import (
	"log/slog"
	"maps"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sigil-dev/warden/internal/store"
)

const (
	// DefaultBudget is the context window size in tokens.
	DefaultBudget = 200_000
	// CharsPerToken is the estimation ratio.
	CharsPerToken = 4

	recentPerRole     = 3
	recentMessageChar = 500
)

// Threshold levels in percent.
const (
	levelNone     = 0
	levelCheck    = 80
	levelHigh     = 90
	levelCritical = 95
)

// Level summarises usage for display.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var printer = message.NewPrinter(language.English)

// Status is a point-in-time usage report.
type Status struct {
	Tokens        int     `json:"tokens"`
	Budget        int     `json:"max_tokens"`
	Usage         float64 `json:"usage_percent"`
	Level         Level   `json:"warning_level"`
	HasCheckpoint bool    `json:"has_checkpoint"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBudget overrides DefaultBudget. Non-positive values are ignored.
func WithBudget(tokens int) Option {
	return func(m *Monitor) {
		if tokens > 0 {
			m.budget = tokens
		}
	}
}

// WithCheckpointStore enables checkpoint saving at the 80% threshold.
func WithCheckpointStore(s *CheckpointStore) Option {
	return func(m *Monitor) { m.checkpoints = s }
}

// WithClock replaces time.Now for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor tracks one session. Each warning level fires once; falling back
// under 80% re-arms all levels.
type Monitor struct {
	budget      int
	checkpoints *CheckpointStore
	now         func() time.Time

	mu        sync.Mutex
	lastLevel int
	task      string
	nextSteps []string
	important map[string]any
}

// New returns a Monitor with the default budget and no checkpoint store.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		budget:    DefaultBudget,
		now:       time.Now,
		important: make(map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Budget returns the token budget.
func (m *Monitor) Budget() int { return m.budget }

// EstimateTokens counts characters of text, tool calls and tool results and
// divides by CharsPerToken.
func EstimateTokens(history []store.Message) int {
	chars := 0
	for _, msg := range history {
		for _, b := range msg.Blocks {
			chars += utf8.RuneCountInString(b.Text)
			chars += utf8.RuneCountInString(b.ToolName)
			chars += utf8.RuneCount(b.Arguments)
		}
	}
	return chars / CharsPerToken
}

// Usage returns the estimated fraction of the budget in use.
func (m *Monitor) Usage(history []store.Message) float64 {
	return float64(EstimateTokens(history)) / float64(m.budget)
}

// CheckWarnings returns the warning for the highest threshold newly crossed,
// or "" when no new threshold was crossed. Crossing 80% saves a checkpoint
// when a CheckpointStore is configured.
func (m *Monitor) CheckWarnings(history []store.Message) string {
	tokens := EstimateTokens(history)
	usage := float64(tokens) / float64(m.budget)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case usage >= 0.95:
		if m.lastLevel >= levelCritical {
			return ""
		}
		m.skippedCheckpointLocked(history, tokens, usage)
		m.lastLevel = levelCritical
		return printer.Sprintf("[!] Context at 95%% (%d/%d tokens). Compaction imminent!", tokens, m.budget)
	case usage >= 0.90:
		if m.lastLevel >= levelHigh {
			return ""
		}
		m.skippedCheckpointLocked(history, tokens, usage)
		m.lastLevel = levelHigh
		return printer.Sprintf("[!] Context at 90%% (%d/%d tokens). Approaching limit.", tokens, m.budget)
	case usage >= 0.80:
		if m.lastLevel >= levelCheck {
			return ""
		}
		m.lastLevel = levelCheck
		if m.checkpoints == nil {
			return printer.Sprintf("[i] Context at 80%% (%d/%d tokens).", tokens, m.budget)
		}
		if err := m.saveLocked(history, tokens, usage); err != nil {
			slog.Warn("saving context checkpoint failed", "error", err)
			return printer.Sprintf("[i] Context at 80%% (%d/%d tokens). Checkpoint could not be saved.", tokens, m.budget)
		}
		return printer.Sprintf("[i] Context at 80%% (%d/%d tokens). Checkpoint saved.", tokens, m.budget)
	default:
		m.lastLevel = levelNone
		return ""
	}
}

// skippedCheckpointLocked saves the checkpoint when usage jumped past 80%
// without stopping there, so a higher warning still leaves one behind.
func (m *Monitor) skippedCheckpointLocked(history []store.Message, tokens int, usage float64) {
	if m.lastLevel >= levelCheck {
		return
	}
	if err := m.saveLocked(history, tokens, usage); err != nil {
		slog.Warn("saving context checkpoint failed", "error", err)
	}
}

// SaveCheckpoint writes a checkpoint now, whatever the usage.
func (m *Monitor) SaveCheckpoint(history []store.Message) error {
	tokens := EstimateTokens(history)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(history, tokens, float64(tokens)/float64(m.budget))
}

func (m *Monitor) saveLocked(history []store.Message, tokens int, usage float64) error {
	if m.checkpoints == nil {
		return nil
	}
	users, assistants := recentTexts(history)
	return m.checkpoints.Save(Checkpoint{
		Timestamp:             m.now().UTC(),
		TokensUsed:            tokens,
		UsagePercent:          usage,
		CurrentTask:           m.task,
		ImportantData:         maps.Clone(m.important),
		LastUserMessages:      users,
		LastAssistantMessages: assistants,
		NextSteps:             append([]string{}, m.nextSteps...),
	})
}

// recentTexts returns the text of the last user and assistant messages,
// at most recentPerRole of each, each cut to recentMessageChar characters.
func recentTexts(history []store.Message) (users, assistants []string) {
	users, assistants = []string{}, []string{}
	for _, msg := range history {
		text := truncateRunes(msg.Text(), recentMessageChar)
		switch msg.Role {
		case store.MessageRoleUser:
			users = append(users, text)
		case store.MessageRoleAssistant:
			assistants = append(assistants, text)
		}
	}
	return tail(users, recentPerRole), tail(assistants, recentPerRole)
}

func tail(s []string, n int) []string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// SetTask records the task in progress for the next checkpoint.
func (m *Monitor) SetTask(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.task = task
}

// AddNextStep appends a planned step.
func (m *Monitor) AddNextStep(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSteps = append(m.nextSteps, step)
}

// SetNextSteps replaces the planned steps.
func (m *Monitor) SetNextSteps(steps []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSteps = append([]string(nil), steps...)
}

// SetImportant stores a value to carry into the next checkpoint.
func (m *Monitor) SetImportant(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.important[key] = value
}

// Status reports usage and the display level for history.
func (m *Monitor) Status(history []store.Message) Status {
	tokens := EstimateTokens(history)
	usage := float64(tokens) / float64(m.budget)

	level := LevelNormal
	switch {
	case usage >= 0.95:
		level = LevelCritical
	case usage >= 0.90:
		level = LevelHigh
	case usage >= 0.80:
		level = LevelMedium
	}

	return Status{
		Tokens:        tokens,
		Budget:        m.budget,
		Usage:         usage,
		Level:         level,
		HasCheckpoint: m.checkpoints != nil && m.checkpoints.Exists(),
	}
}
