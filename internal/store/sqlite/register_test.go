// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/warden/internal/store"
	_ "github.com/sigil-dev/warden/internal/store/sqlite"
)

func TestRegister_SqliteBackend(t *testing.T) {
	assert.Contains(t, store.Backends(), "sqlite")

	dir := filepath.Join(testDir(t), "nested", "sessions")
	ss, err := store.NewSessionStore(&store.StorageConfig{Backend: "sqlite", Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	info, err := os.Stat(filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestRegister_DatabasePathIsDirectory(t *testing.T) {
	dir := testDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sessions.db"), 0o755))

	_, err := store.NewSessionStore(&store.StorageConfig{Backend: "sqlite", Path: dir})
	assert.Error(t, err)
}
