// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/warden/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newSessionStore)
}

func newSessionStore(dir string) (store.SessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, store.DatabaseError(err, "creating storage directory %s", dir)
	}
	return NewSessionStore(filepath.Join(dir, "sessions.db"))
}
