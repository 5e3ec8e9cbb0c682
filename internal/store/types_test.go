// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"encoding/json"
	"testing"

	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	user := store.UserMessage("hello")
	assert.Equal(t, store.MessageRoleUser, user.Role)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "hello", user.Text())

	asst := store.AssistantMessage("", store.ToolUse("c1", "grep", json.RawMessage(`{"pattern":"x"}`)))
	require.Len(t, asst.Blocks, 1, "empty text is omitted")
	assert.Equal(t, store.BlockToolUse, asst.Blocks[0].Type)
	assert.Len(t, asst.ToolUses(), 1)
	assert.Empty(t, asst.Text())

	res := store.ToolResultMessage("c1", "no matches", true)
	assert.Equal(t, store.MessageRoleTool, res.Role)
	require.Len(t, res.Blocks, 1)
	assert.True(t, res.Blocks[0].IsError)
	assert.Equal(t, "c1", res.Blocks[0].ToolCallID)
	assert.Equal(t, "no matches", res.Text())

	assert.NotEqual(t, user.ID, asst.ID)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     store.Message
		wantErr bool
	}{
		{"user text", store.UserMessage("x"), false},
		{"tool result", store.ToolResultMessage("c1", "ok", false), false},
		{"missing id", store.Message{Role: store.MessageRoleUser}, true},
		{"bad role", store.Message{ID: "m", Role: "system"}, true},
		{"tool_use without name", store.Message{ID: "m", Role: store.MessageRoleAssistant, Blocks: []store.ContentBlock{{Type: store.BlockToolUse, ToolCallID: "c"}}}, true},
		{"tool_result without id", store.Message{ID: "m", Role: store.MessageRoleTool, Blocks: []store.ContentBlock{{Type: store.BlockToolResult}}}, true},
		{"image without media type", store.Message{ID: "m", Role: store.MessageRoleTool, Blocks: []store.ContentBlock{{Type: store.BlockImage}}}, true},
		{"unknown block", store.Message{ID: "m", Role: store.MessageRoleUser, Blocks: []store.ContentBlock{{Type: "video"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, wardenerr.IsInvalidInput(err), "got %v", err)
		})
	}
}

func TestSessionValidate(t *testing.T) {
	assert.NoError(t, store.NewSession("/w").Validate())

	s := store.NewSession("/w")
	s.Status = "paused"
	assert.Error(t, s.Validate())

	s = store.NewSession("/w")
	s.ID = ""
	assert.Error(t, s.Validate())
}
