// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Action names the kind of event an Entry records.
type Action string

const (
	ActionSessionStart      Action = "session_start"
	ActionSessionEnd        Action = "session_end"
	ActionToolExecuted      Action = "tool_executed"
	ActionToolFailed        Action = "tool_failed"
	ActionToolRejected      Action = "tool_rejected"
	ActionSecurityBlocked   Action = "security_blocked"
	ActionSecretDetected    Action = "secret_detected"
	ActionPermissionGranted Action = "permission_granted"
	ActionPermissionDenied  Action = "permission_denied"
	ActionLoopAborted       Action = "loop_aborted"
)

// MaxResultSummary caps Entry.ResultSummary in bytes.
const MaxResultSummary = 500

// Entry is one line of a session's audit log. Entries are written once and
// never rewritten; Hash covers every other field so any later edit is
// detectable by Verify.
type Entry struct {
	Timestamp     string         `json:"timestamp"`
	SessionID     string         `json:"session_id"`
	Action        Action         `json:"action"`
	Tool          string         `json:"tool_name,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ResultSummary string         `json:"result_summary"`
	Approved      bool           `json:"approved"`
	Hash          string         `json:"hash"`
}

// ComputeHash returns the first 32 hex characters of the SHA-256 of the
// entry's fields joined with "|". Parameters are included as canonical JSON
// (encoding/json sorts map keys).
func (e Entry) ComputeHash() string {
	params := "{}"
	if len(e.Parameters) > 0 {
		if b, err := json.Marshal(e.Parameters); err == nil {
			params = string(b)
		}
	}

	content := strings.Join([]string{
		e.Timestamp,
		e.SessionID,
		string(e.Action),
		e.Tool,
		e.ResultSummary,
		strconv.FormatBool(e.Approved),
		params,
	}, "|")
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:32]
}

// Record is the caller-supplied part of an Entry.
type Record struct {
	SessionID  string
	Action     Action
	Tool       string
	Parameters map[string]any
	Result     string
	Approved   bool
}
