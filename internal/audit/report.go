// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package audit

import (
	"encoding/json"
	"io"
	"time"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Summary aggregates a session's entries.
type Summary struct {
	SessionID     string         `json:"session_id"`
	TotalActions  int            `json:"total_actions"`
	ActionCounts  map[Action]int `json:"action_counts,omitempty"`
	ToolCounts    map[string]int `json:"tool_counts,omitempty"`
	DeniedActions int            `json:"denied_actions"`
	FirstAction   string         `json:"first_action,omitempty"`
	LastAction    string         `json:"last_action,omitempty"`
}

// Summary counts actions, tools and denials for a session.
func (l *Logger) Summary(sessionID string) (Summary, error) {
	entries, err := l.SessionLog(sessionID)
	if err != nil {
		return Summary{}, err
	}
	return summarizeEntries(sessionID, entries), nil
}

func summarizeEntries(sessionID string, entries []Entry) Summary {
	s := Summary{SessionID: sessionID, TotalActions: len(entries)}
	if len(entries) == 0 {
		return s
	}

	s.ActionCounts = make(map[Action]int)
	s.ToolCounts = make(map[string]int)
	for _, e := range entries {
		s.ActionCounts[e.Action]++
		if e.Tool != "" {
			s.ToolCounts[e.Tool]++
		}
		if !e.Approved {
			s.DeniedActions++
		}
	}
	s.FirstAction = entries[0].Timestamp
	s.LastAction = entries[len(entries)-1].Timestamp
	return s
}

// Export is the document written by Logger.Export.
type Export struct {
	SessionID  string  `json:"session_id"`
	ExportedAt string  `json:"exported_at"`
	Integrity  Report  `json:"integrity"`
	Summary    Summary `json:"summary"`
	Entries    []Entry `json:"entries"`
}

// Export writes the session's entries, summary and integrity report to w as
// indented JSON.
func (l *Logger) Export(sessionID string, w io.Writer) error {
	entries, err := l.SessionLog(sessionID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return wardenerr.Errorf(wardenerr.CodeAuditLogNotFound, "no audit entries for session %s", sessionID)
	}
	report, err := l.Verify(sessionID)
	if err != nil {
		return err
	}

	doc := Export{
		SessionID:  sessionID,
		ExportedAt: l.now().UTC().Format(time.RFC3339Nano),
		Integrity:  report,
		Summary:    summarizeEntries(sessionID, entries),
		Entries:    entries,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeAuditExportFailure, "writing audit export",
			wardenerr.FieldSessionID(sessionID))
	}
	return nil
}
