// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Session types ---

// SessionStatus represents the lifecycle state of a session record.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// Session is the persisted form of a conversation.
type Session struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	WorkspaceRoot string            `json:"workspace_root"`
	Status        SessionStatus     `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewSession returns an active session with a fresh id.
func NewSession(workspaceRoot string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:            uuid.NewString(),
		WorkspaceRoot: workspaceRoot,
		Status:        SessionStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ListOpts pages ListSessions.
type ListOpts struct {
	Limit  int
	Offset int
}

// --- Message types ---

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockImage      BlockType = "image"
)

// ContentBlock is one typed part of a message. Which fields are set depends
// on Type: tool_use carries ToolCallID, ToolName and Arguments; tool_result
// carries ToolCallID, Text and IsError; image carries MediaType and Data.
type ContentBlock struct {
	Type       BlockType       `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	MediaType  string          `json:"media_type,omitempty"`
	Data       []byte          `json:"data,omitempty"`
}

// Message is one entry of a conversation history. Histories are
// append-only.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Blocks    []ContentBlock `json:"blocks"`
	CreatedAt time.Time      `json:"created_at"`
}

func newMessage(role MessageRole, blocks ...ContentBlock) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Blocks:    blocks,
		CreatedAt: time.Now().UTC(),
	}
}

// UserMessage returns a user message holding text.
func UserMessage(text string) Message {
	return newMessage(MessageRoleUser, ContentBlock{Type: BlockText, Text: text})
}

// AssistantMessage returns an assistant message. Empty text is omitted so a
// pure tool-call turn carries only tool_use blocks.
func AssistantMessage(text string, toolUses ...ContentBlock) Message {
	var blocks []ContentBlock
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: text})
	}
	return newMessage(MessageRoleAssistant, append(blocks, toolUses...)...)
}

// ToolUse builds a tool_use block.
func ToolUse(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolCallID: id, ToolName: name, Arguments: args}
}

// ToolResultMessage returns a tool message holding a single tool_result
// block, followed by an image block when media is attached.
func ToolResultMessage(callID, content string, isError bool, media ...ContentBlock) Message {
	blocks := []ContentBlock{{Type: BlockToolResult, ToolCallID: callID, Text: content, IsError: isError}}
	return newMessage(MessageRoleTool, append(blocks, media...)...)
}

// Text concatenates the text of text and tool_result blocks.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Blocks {
		if (b.Type == BlockText || b.Type == BlockToolResult) && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// ToolUses returns the tool_use blocks in order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
