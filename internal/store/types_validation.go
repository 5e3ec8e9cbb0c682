// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Valid reports whether the status is a known session lifecycle state.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusArchived:
		return true
	default:
		return false
	}
}

// Valid reports whether the role is a known message role.
func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleTool:
		return true
	default:
		return false
	}
}

// Validate checks that the Session has all required fields set correctly.
func (s Session) Validate() error {
	if s.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "session: ID is required")
	}
	if !s.Status.Valid() {
		return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "session: invalid status %q", s.Status)
	}
	if s.CreatedAt.IsZero() {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "session: CreatedAt is required")
	}
	return nil
}

// Validate checks the message's role and that every block is well formed
// for its type.
func (m Message) Validate() error {
	if m.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "message: ID is required")
	}
	if !m.Role.Valid() {
		return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "message: invalid role %q", m.Role)
	}
	for i, b := range m.Blocks {
		switch b.Type {
		case BlockText:
		case BlockToolUse:
			if b.ToolCallID == "" || b.ToolName == "" {
				return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "message: block %d: tool_use needs an id and a name", i)
			}
		case BlockToolResult:
			if b.ToolCallID == "" {
				return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "message: block %d: tool_result needs a call id", i)
			}
		case BlockImage:
			if b.MediaType == "" {
				return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "message: block %d: image needs a media type", i)
			}
		default:
			return wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "message: block %d: unknown type %q", i, b.Type)
		}
	}
	return nil
}
