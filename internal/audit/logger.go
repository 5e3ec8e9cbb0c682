// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package audit keeps an append-only, hash-verifiable JSONL trail of every
// agent action, one file per session per UTC day.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// LogEscalationThreshold is the number of consecutive append failures after
// which failures are logged at Error instead of Warn.
const LogEscalationThreshold = 3

const fileSuffix = ".jsonl"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Logger appends entries to <dir>/<YYYY-MM-DD>_<session>.jsonl.
//
// Writes for one session are serialised by a per-session mutex; different
// sessions write independently.
type Logger struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	consecutiveFailures atomic.Int64
}

// NewLogger creates dir if needed.
func NewLogger(dir string) (*Logger, error) {
	if dir == "" {
		return nil, wardenerr.New(wardenerr.CodeAuditInvalidInput, "audit directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeAuditAppendFailure, "creating audit directory %s", dir)
	}
	return &Logger{dir: dir, now: time.Now, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the directory holding the log files.
func (l *Logger) Dir() string { return l.dir }

func (l *Logger) sessionLock(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	return m
}

func validateSessionID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) || strings.Contains(sessionID, "..") {
		return wardenerr.Errorf(wardenerr.CodeAuditInvalidInput, "invalid session id %q", sessionID)
	}
	return nil
}

// Append sanitises rec, stamps and hashes it, and appends it to the
// session's log for the current day. The context is only used for logging;
// an append that has started always completes.
func (l *Logger) Append(ctx context.Context, rec Record) (Entry, error) {
	if err := validateSessionID(rec.SessionID); err != nil {
		return Entry{}, err
	}
	if rec.Action == "" {
		return Entry{}, wardenerr.New(wardenerr.CodeAuditInvalidInput, "audit action must not be empty")
	}

	params, err := normalizeParams(Sanitize(rec.Parameters))
	if err != nil {
		return Entry{}, wardenerr.Wrap(err, wardenerr.CodeAuditInvalidInput, "encoding audit parameters",
			wardenerr.FieldSessionID(rec.SessionID))
	}

	now := l.now().UTC()
	entry := Entry{
		Timestamp:     now.Format(time.RFC3339Nano),
		SessionID:     rec.SessionID,
		Action:        rec.Action,
		Tool:          validUTF8(rec.Tool),
		Parameters:    params,
		ResultSummary: summarize(validUTF8(rec.Result)),
		Approved:      rec.Approved,
	}
	entry.Hash = entry.ComputeHash()

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, wardenerr.Wrap(err, wardenerr.CodeAuditAppendFailure, "encoding audit entry",
			wardenerr.FieldSessionID(rec.SessionID))
	}
	line = append(line, '\n')

	lock := l.sessionLock(rec.SessionID)
	lock.Lock()
	err = appendLine(l.pathFor(now, rec.SessionID), line)
	lock.Unlock()

	if err != nil {
		n := l.consecutiveFailures.Add(1)
		level := slog.LevelWarn
		if n >= LogEscalationThreshold {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "audit append failed",
			"session_id", rec.SessionID,
			"action", rec.Action,
			"tool", rec.Tool,
			"consecutive_failures", n,
			"error", err,
		)
		return Entry{}, wardenerr.Wrap(err, wardenerr.CodeAuditAppendFailure, "appending audit entry",
			wardenerr.FieldSessionID(rec.SessionID))
	}
	l.consecutiveFailures.Store(0)

	return entry, nil
}

func (l *Logger) pathFor(t time.Time, sessionID string) string {
	return filepath.Join(l.dir, t.Format("2006-01-02")+"_"+sessionID+fileSuffix)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// normalizeParams round-trips params through JSON so the in-memory entry
// hashes exactly like the decoded one will.
func normalizeParams(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// sessionFiles returns the session's log files in day order.
func (l *Logger) sessionFiles(sessionID string) ([]string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, "????-??-??_"+sessionID+fileSuffix))
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeAuditReadFailure, "listing audit files for %s", sessionID)
	}
	sort.Strings(matches)
	return matches, nil
}

// rawLine is one line as stored, kept for verification.
type rawLine struct {
	entry Entry
	err   error
}

func (l *Logger) readLines(sessionID string) ([]rawLine, error) {
	files, err := l.sessionFiles(sessionID)
	if err != nil {
		return nil, err
	}

	var lines []rawLine
	for _, path := range files {
		if err := readFile(path, &lines); err != nil {
			return nil, wardenerr.Wrapf(err, wardenerr.CodeAuditReadFailure, "reading %s", path)
		}
	}
	return lines, nil
}

func readFile(path string, lines *[]rawLine) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&e); err != nil {
			*lines = append(*lines, rawLine{err: err})
			continue
		}
		*lines = append(*lines, rawLine{entry: e})
	}
	return sc.Err()
}

// SessionLog returns every well-formed entry of the session across all days,
// in write order.
func (l *Logger) SessionLog(sessionID string) ([]Entry, error) {
	lines, err := l.readLines(sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for _, ln := range lines {
		if ln.err == nil {
			entries = append(entries, ln.entry)
		}
	}
	return entries, nil
}

// Report is the outcome of Verify.
type Report struct {
	SessionID string   `json:"session_id"`
	Entries   int      `json:"entries"`
	Valid     bool     `json:"valid"`
	Invalid   []int    `json:"invalid,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

// Verify recomputes every entry's hash and lists the indices whose stored
// hash disagrees or whose line no longer parses. Indices count lines across
// the session's files in day order.
func (l *Logger) Verify(sessionID string) (Report, error) {
	lines, err := l.readLines(sessionID)
	if err != nil {
		return Report{}, err
	}

	r := Report{SessionID: sessionID, Entries: len(lines)}
	for i, ln := range lines {
		switch {
		case ln.err != nil:
			r.Invalid = append(r.Invalid, i)
			r.Issues = append(r.Issues, fmt.Sprintf("Entry %d: Malformed record (%v)", i, ln.err))
		case ln.entry.SessionID != sessionID:
			r.Invalid = append(r.Invalid, i)
			r.Issues = append(r.Issues, fmt.Sprintf("Entry %d: Session mismatch (possible tampering)", i))
		case ln.entry.Hash != ln.entry.ComputeHash():
			r.Invalid = append(r.Invalid, i)
			r.Issues = append(r.Issues, fmt.Sprintf("Entry %d: Hash mismatch (possible tampering)", i))
		}
	}
	r.Valid = len(r.Invalid) == 0

	if !r.Valid {
		slog.Warn("audit integrity check failed",
			"session_id", sessionID,
			"invalid_entries", len(r.Invalid),
		)
	}
	return r, nil
}

// Sessions lists session ids that have at least one log file.
func (l *Logger) Sessions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "????-??-??_*"+fileSuffix))
	if err != nil {
		return nil, wardenerr.Wrapf(err, wardenerr.CodeAuditReadFailure, "listing audit files")
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), fileSuffix)
		id := name[len("2006-01-02_"):]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
