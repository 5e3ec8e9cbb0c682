// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

func init() {
	RegisterBackend("json", func(dir string) (SessionStore, error) {
		return NewFileStore(dir)
	})
}

// Compile-time interface check.
var _ SessionStore = (*FileStore)(nil)

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// fileRecord is the on-disk document of one session.
type fileRecord struct {
	Session  *Session   `json:"session"`
	Messages []*Message `json:"messages"`
}

// FileStore keeps one JSON document per session in a directory. Every
// write replaces the document through a rename, so a crash leaves either
// the old or the new version.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, DatabaseError(err, "creating session directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) (string, error) {
	if !fileIDPattern.MatchString(id) {
		return "", wardenerr.Errorf(wardenerr.CodeStoreInvalidInput, "invalid session id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) read(id string) (*fileRecord, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, SessionNotFound(id)
	}
	if err != nil {
		return nil, DatabaseError(err, "reading session %s", id)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, DatabaseError(err, "decoding session %s", id)
	}
	if rec.Session == nil {
		return nil, wardenerr.Errorf(wardenerr.CodeStoreDatabaseFailure, "session file %s has no session", id)
	}
	return &rec, nil
}

func (s *FileStore) write(rec *fileRecord) error {
	p, err := s.path(rec.Session.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return DatabaseError(err, "encoding session %s", rec.Session.ID)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return DatabaseError(err, "writing session %s", rec.Session.ID)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return DatabaseError(err, "writing session %s", rec.Session.ID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return DatabaseError(err, "writing session %s", rec.Session.ID)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return DatabaseError(err, "replacing session %s", rec.Session.ID)
	}
	return nil
}

func (s *FileStore) CreateSession(_ context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(session.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return SessionExists(session.ID)
	}
	cp := *session
	return s.write(&fileRecord{Session: &cp, Messages: []*Message{}})
}

func (s *FileStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return rec.Session, nil
}

func (s *FileStore) UpdateSession(_ context.Context, session *Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(session.ID)
	if err != nil {
		return err
	}
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	rec.Session = &cp
	return s.write(rec)
}

func (s *FileStore) ListSessions(_ context.Context, opts ListOpts) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, DatabaseError(err, "listing sessions in %s", s.dir)
	}

	var sessions []*Session
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		sessions = append(sessions, rec.Session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return page(sessions, opts), nil
}

func page(sessions []*Session, opts ListOpts) []*Session {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(sessions) {
		return nil
	}
	sessions = sessions[max(opts.Offset, 0):]
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions
}

func (s *FileStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return SessionNotFound(id)
	}
	if err != nil {
		return DatabaseError(err, "deleting session %s", id)
	}
	return nil
}

func (s *FileStore) AppendMessage(_ context.Context, sessionID string, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(sessionID)
	if err != nil {
		return err
	}
	rec.Messages = append(rec.Messages, msg)
	rec.Session.UpdatedAt = time.Now().UTC()
	return s.write(rec)
}

func (s *FileStore) GetActiveWindow(_ context.Context, sessionID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(sessionID)
	if err != nil {
		return nil, err
	}
	msgs := rec.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
