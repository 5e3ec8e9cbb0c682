// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package sqlite is the SQLite SessionStore backend. Importing it registers
// the "sqlite" backend with the store factory.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Compile-time interface check.
var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore backed by SQLite.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens (or creates) a SQLite database at dbPath and
// initialises the sessions and messages tables.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, store.DatabaseError(err, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.DatabaseError(err, "pinging sqlite db")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, store.DatabaseError(err, "migrating sqlite db")
	}

	return &SessionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	workspace_root TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT 'active',
	metadata       TEXT NOT NULL DEFAULT '{}',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	blocks      TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func (s *SessionStore) CreateSession(ctx context.Context, session *store.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return store.DatabaseError(err, "marshalling session metadata")
	}

	const q = `INSERT INTO sessions (id, title, workspace_root, status, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		session.ID,
		session.Title,
		session.WorkspaceRoot,
		string(session.Status),
		string(metadata),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if isConstraint(err) {
		return store.SessionExists(session.ID)
	}
	if err != nil {
		return store.DatabaseError(err, "creating session %s", session.ID)
	}
	return nil
}

const sessionColumns = `id, title, workspace_root, status, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.Session, error) {
	var sess store.Session
	var metaJSON, createdAt, updatedAt string
	if err := row.Scan(
		&sess.ID,
		&sess.Title,
		&sess.WorkspaceRoot,
		&sess.Status,
		&metaJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
			return nil, store.DatabaseError(err, "unmarshalling session metadata")
		}
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.SessionNotFound(id)
	}
	if err != nil {
		return nil, store.DatabaseError(err, "getting session %s", id)
	}
	return sess, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session *store.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return store.DatabaseError(err, "marshalling session metadata")
	}

	const q = `UPDATE sessions SET title = ?, workspace_root = ?, status = ?, metadata = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q,
		session.Title,
		session.WorkspaceRoot,
		string(session.Status),
		string(metadata),
		formatTime(time.Now()),
		session.ID,
	)
	if err != nil {
		return store.DatabaseError(err, "updating session %s", session.ID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return store.DatabaseError(err, "checking rows affected for session %s", session.ID)
	}
	if rows == 0 {
		return store.SessionNotFound(session.ID)
	}
	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context, opts store.ListOpts) ([]*store.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, store.DatabaseError(err, "listing sessions")
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, store.DatabaseError(err, "scanning session row")
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError(err, "listing sessions")
	}
	return sessions, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return store.DatabaseError(err, "deleting session %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return store.DatabaseError(err, "checking rows affected for session %s", id)
	}
	if rows == 0 {
		return store.SessionNotFound(id)
	}
	return nil
}

func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg *store.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	blocks, err := json.Marshal(msg.Blocks)
	if err != nil {
		return store.DatabaseError(err, "marshalling message blocks")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.DatabaseError(err, "appending message to session %s", sessionID)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `INSERT INTO messages (id, session_id, role, blocks, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		msg.ID,
		sessionID,
		string(msg.Role),
		string(blocks),
		formatTime(msg.CreatedAt),
	)
	if isConstraint(err) {
		// Either the session is missing (foreign key) or the id is reused.
		if _, getErr := s.GetSession(ctx, sessionID); getErr != nil {
			return getErr
		}
		return wardenerr.Errorf(wardenerr.CodeStoreSessionConflict, "message %s already exists", msg.ID)
	}
	if err != nil {
		return store.DatabaseError(err, "appending message %s to session %s", msg.ID, sessionID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(time.Now()), sessionID); err != nil {
		return store.DatabaseError(err, "touching session %s", sessionID)
	}
	if err := tx.Commit(); err != nil {
		return store.DatabaseError(err, "committing message %s", msg.ID)
	}
	return nil
}

func (s *SessionStore) GetActiveWindow(ctx context.Context, sessionID string, limit int) ([]*store.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	// Sub-select the N most recent, then re-order chronologically.
	const q = `SELECT id, role, blocks, created_at
FROM (
	SELECT seq, id, role, blocks, created_at
	FROM messages WHERE session_id = ?
	ORDER BY seq DESC LIMIT ?
) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, store.DatabaseError(err, "getting active window for session %s", sessionID)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var msg store.Message
		var blocksJSON, createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &blocksJSON, &createdAt); err != nil {
			return nil, store.DatabaseError(err, "scanning message row")
		}
		if err := json.Unmarshal([]byte(blocksJSON), &msg.Blocks); err != nil {
			return nil, store.DatabaseError(err, "unmarshalling message blocks")
		}
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.DatabaseError(err, "getting active window for session %s", sessionID)
	}
	return msgs, nil
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
