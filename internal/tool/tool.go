// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package tool defines the contract between the agent loop and tool
// implementations, and the Dispatcher that gates every call through
// security, permission and audit before running it.
package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sigil-dev/warden/internal/security"
)

// Capability classifies what a tool touches; the security gate is chosen
// from it.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
	CapabilityExec  Capability = "exec"
	CapabilityMeta  Capability = "meta"
)

// Operation is the verb shown in approval prompts.
func (c Capability) Operation() string {
	switch c {
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	case CapabilityExec:
		return "execute"
	default:
		return "update"
	}
}

// Definition describes a tool to the model and to the pipeline.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Capability  Capability
	// TargetArg names the argument holding the path or command the gates
	// inspect. Empty for tools without a target.
	TargetArg string
	// DefaultTarget is used when TargetArg is optional and absent.
	DefaultTarget string
	// ContentArgs are scanned for secrets before a write.
	ContentArgs []string
}

// Media is a tagged binary payload such as an image.
type Media struct {
	MediaType string
	Data      []byte
}

// Output is what a tool returns.
type Output struct {
	Text  string
	Media *Media
}

// Tool is implemented by every callable tool.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, ec ExecContext, args json.RawMessage) (Output, error)
}

// ExecContext is handed to a single tool invocation. The Dispatcher builds a
// fresh copy per call; Tasks and Files belong to the session and are safe
// for concurrent use.
type ExecContext struct {
	SessionID string
	// Root is the canonical workspace root.
	Root     string
	Security *security.Validator
	Tasks    *TaskList
	Files    *FileTracker
	// Target is the resolved TargetArg: a canonical path for read and write
	// tools, the command for exec tools.
	Target string
	// Timeout is the deadline applied to this call.
	Timeout time.Duration
}

// Call is one model-issued request.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Status records which pipeline step produced a Result.
type Status string

const (
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusUnknownTool Status = "unknown_tool"
	StatusInvalidArgs Status = "invalid_arguments"
	StatusBlocked     Status = "security_blocked"
	StatusDenied      Status = "permission_denied"
	StatusTimeout     Status = "timeout"
	StatusCancelled   Status = "cancelled"
)

// Result is the pipeline's answer for one Call. Content is always set and is
// what the model sees.
type Result struct {
	CallID    string
	Tool      string
	Content   string
	Media     *Media
	Status    Status
	IsError   bool
	Truncated bool
	Duration  time.Duration
}
