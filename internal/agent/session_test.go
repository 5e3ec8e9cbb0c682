// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/warden/internal/agent"
	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func toolTurn(id string) []store.Message {
	return []store.Message{
		store.AssistantMessage("", store.ToolUse(id, "echo", json.RawMessage(`{"text":"x"}`))),
		store.ToolResultMessage(id, "echo: x", false),
	}
}

func roles(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteByte(string(m.Role)[0])
	}
	return b.String()
}

func TestKeepLast(t *testing.T) {
	var history []store.Message
	history = append(history, store.UserMessage("one"))
	history = append(history, toolTurn("a")...)
	history = append(history, store.AssistantMessage("done one"))
	history = append(history, store.UserMessage("two"))
	history = append(history, toolTurn("b")...)
	history = append(history, toolTurn("c")...)
	history = append(history, store.AssistantMessage("done two"))
	require.Equal(t, "uatauatata", roles(history))

	tests := []struct {
		name string
		keep agent.KeepLast
		want string
	}{
		{"zero keeps everything", 0, "uatauatata"},
		{"larger than history", 50, "uatauatata"},
		{"cut lands on a user message", 6, "uatata"},
		{"cut inside a turn widens to its user message", 4, "uatata"},
		{"cut inside the first turn keeps it whole", 8, "uatauatata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, roles(tt.keep.Apply(history)))
		})
	}
}

func TestSession_ApplyPolicy(t *testing.T) {
	history := append([]store.Message{store.UserMessage("one")}, toolTurn("a")...)
	history = append(history, store.UserMessage("two"), store.AssistantMessage("ok"))
	s := agent.NewSession(nil, history...)

	s.ApplyPolicy(nil)
	assert.Equal(t, 5, s.Len())

	s.ApplyPolicy(agent.KeepLast(2))
	assert.Equal(t, "ua", roles(s.History()))
}

func TestTitleFrom(t *testing.T) {
	assert.Empty(t, agent.TitleFrom(nil))
	assert.Equal(t, "fix the build", agent.TitleFrom([]store.Message{
		store.AssistantMessage("ignored"),
		store.UserMessage("fix the\n build"),
	}))

	long := strings.Repeat("word ", 30)
	title := agent.TitleFrom([]store.Message{store.UserMessage(long)})
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.Equal(t, 63, len([]rune(title)))
}

func newManager(t *testing.T) *agent.SessionManager {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return agent.NewSessionManager(fs)
}

func TestSessionManager_SaveAndOpen(t *testing.T) {
	ctx := context.Background()
	sm := newManager(t)

	s, err := sm.Create(ctx, "/work")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "/work", s.Record.WorkspaceRoot)

	p := &scriptedProvider{script: turns(
		batch(toolCall("c1", "echo", `{"text":"hi"}`)),
		batch(text("said hi")),
	)}
	h := newHarness(t, p, nil)
	_, err = h.loop.Run(ctx, s, "please echo hi")
	require.NoError(t, err)
	require.NoError(t, sm.Save(ctx, s))

	reopened, err := sm.Open(ctx, s.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(s.History(), reopened.History()); diff != "" {
		t.Errorf("reopened history mismatch (-saved +loaded):\n%s", diff)
	}
	assert.Equal(t, "please echo hi", reopened.Record.Title)

	// Saving again appends nothing.
	require.NoError(t, sm.Save(ctx, s))
	msgs, err := sm.Messages(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestSessionManager_PolicyDoesNotDeleteStoredMessages(t *testing.T) {
	ctx := context.Background()
	sm := newManager(t)
	s, err := sm.Create(ctx, "/work")
	require.NoError(t, err)

	p := &scriptedProvider{script: always(batch(text("ok"))...)}
	h := newHarness(t, p, nil)
	for _, in := range []string{"one", "two", "three"} {
		_, err = h.loop.Run(ctx, s, in)
		require.NoError(t, err)
		require.NoError(t, sm.Save(ctx, s))
		s.ApplyPolicy(agent.KeepLast(2))
	}

	assert.Equal(t, 2, s.Len())
	msgs, err := sm.Messages(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 6)
}

func TestSessionManager_ListArchiveDelete(t *testing.T) {
	ctx := context.Background()
	sm := newManager(t)

	a, err := sm.Create(ctx, "/a")
	require.NoError(t, err)
	_, err = sm.Create(ctx, "/b")
	require.NoError(t, err)

	list, err := sm.List(ctx, store.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, sm.Archive(ctx, a.ID))
	got, err := sm.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusArchived, got.Status)

	require.NoError(t, sm.Delete(ctx, a.ID))
	_, err = sm.Open(ctx, a.ID)
	assert.True(t, wardenerr.IsNotFound(err))

	assert.True(t, wardenerr.IsInvalidInput(sm.Delete(ctx, "")))
}
