// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sigil-dev/warden/internal/contextmon"
	"github.com/sigil-dev/warden/internal/store"
	"github.com/sigil-dev/warden/internal/tool"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const maxTitleRunes = 60

// Session is the runtime state of one conversation: its history, the task
// list and read-file set its tools share, and the doom window. A Session
// runs at most one Loop.Run at a time.
type Session struct {
	ID     string
	Record *store.Session

	Tasks *tool.TaskList
	Files *tool.FileTracker
	// Monitor is optional. When set, the loop feeds it the task list and
	// checks context usage after every tool batch.
	Monitor *contextmon.Monitor

	running sync.Mutex

	mu      sync.Mutex
	history []store.Message
	saved   int
	doom    *doomWindow
}

// NewSession wraps rec with fresh runtime state. A nil rec creates an
// unpersisted session record.
func NewSession(rec *store.Session, history ...store.Message) *Session {
	if rec == nil {
		rec = store.NewSession("")
	}
	return &Session{
		ID:      rec.ID,
		Record:  rec,
		Tasks:   tool.NewTaskList(),
		Files:   tool.NewFileTracker(),
		history: slices.Clone(history),
		saved:   len(history),
	}
}

// History returns a copy of the conversation.
func (s *Session) History() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) append(msgs ...store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// ApplyPolicy replaces the history with p's result. Callers run it between
// turns; the loop itself never drops messages.
func (s *Session) ApplyPolicy(p HistoryPolicy) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.history)
	s.history = p.Apply(s.history)
	s.saved = max(0, s.saved-(before-len(s.history)))
}

// unsaved returns messages appended since the last markSaved.
func (s *Session) unsaved() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[s.saved:])
}

func (s *Session) markSaved(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = min(len(s.history), s.saved+n)
}

func (s *Session) window(size int) *doomWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doom == nil {
		s.doom = newDoomWindow(size)
	}
	return s.doom
}

func (s *Session) execContext() tool.ExecContext {
	return tool.ExecContext{
		SessionID: s.ID,
		Tasks:     s.Tasks,
		Files:     s.Files,
	}
}

// HistoryPolicy decides which messages survive between turns.
type HistoryPolicy interface {
	Apply(history []store.Message) []store.Message
}

// KeepLast keeps roughly the last n messages. The kept suffix always starts
// at a user message so no tool result loses the call that produced it; it
// may therefore hold more than n messages.
type KeepLast int

func (k KeepLast) Apply(history []store.Message) []store.Message {
	n := int(k)
	if n <= 0 || len(history) <= n {
		return history
	}
	start := len(history) - n
	for i := start; i >= 0; i-- {
		if history[i].Role == store.MessageRoleUser {
			return slices.Clone(history[i:])
		}
	}
	return history
}

// SessionManager loads and persists Sessions through a store.SessionStore.
type SessionManager struct {
	ss store.SessionStore
}

// NewSessionManager returns a SessionManager backed by the given SessionStore.
func NewSessionManager(ss store.SessionStore) *SessionManager {
	return &SessionManager{ss: ss}
}

// Create persists a new active session rooted at workspaceRoot.
func (m *SessionManager) Create(ctx context.Context, workspaceRoot string) (*Session, error) {
	rec := store.NewSession(workspaceRoot)
	if err := m.ss.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	return NewSession(rec), nil
}

// Open loads a stored session and its full history.
func (m *SessionManager) Open(ctx context.Context, id string) (*Session, error) {
	rec, err := m.ss.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.ss.GetActiveWindow(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	history := make([]store.Message, 0, len(msgs))
	for _, msg := range msgs {
		history = append(history, *msg)
	}
	return NewSession(rec, history...), nil
}

// Save appends the messages added since the last Save and refreshes the
// record's title and timestamp. Messages dropped by a HistoryPolicy stay in
// the store.
func (m *SessionManager) Save(ctx context.Context, s *Session) error {
	pending := s.unsaved()
	for i := range pending {
		if err := m.ss.AppendMessage(ctx, s.ID, &pending[i]); err != nil {
			s.markSaved(i)
			return err
		}
	}
	s.markSaved(len(pending))

	if s.Record.Title == "" {
		s.Record.Title = titleFrom(s.History())
	}
	s.Record.UpdatedAt = time.Now().UTC()
	return m.ss.UpdateSession(ctx, s.Record)
}

// Get returns a stored session record.
func (m *SessionManager) Get(ctx context.Context, id string) (*store.Session, error) {
	return m.ss.GetSession(ctx, id)
}

// Messages returns a stored session's full history.
func (m *SessionManager) Messages(ctx context.Context, id string) ([]*store.Message, error) {
	return m.ss.GetActiveWindow(ctx, id, 0)
}

// List returns stored sessions, newest first.
func (m *SessionManager) List(ctx context.Context, opts store.ListOpts) ([]*store.Session, error) {
	return m.ss.ListSessions(ctx, opts)
}

// Archive marks a session as archived and updates its timestamp.
func (m *SessionManager) Archive(ctx context.Context, id string) error {
	session, err := m.ss.GetSession(ctx, id)
	if err != nil {
		return err
	}

	session.Status = store.SessionStatusArchived
	session.UpdatedAt = time.Now().UTC()

	return m.ss.UpdateSession(ctx, session)
}

// Delete removes a session and its messages.
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "session id is required")
	}
	return m.ss.DeleteSession(ctx, id)
}

// titleFrom derives a title from the first user message.
func titleFrom(history []store.Message) string {
	for _, msg := range history {
		if msg.Role != store.MessageRoleUser {
			continue
		}
		title := strings.Join(strings.Fields(msg.Text()), " ")
		if utf8.RuneCountInString(title) > maxTitleRunes {
			title = string([]rune(title)[:maxTitleRunes]) + "..."
		}
		return title
	}
	return ""
}
