// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

//go:embed warden.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/warden/warden.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "resolving config directory: %w", err)
	}
	return filepath.Join(dir, "warden", "warden.yaml"), nil
}

// DefaultDataDir returns the directory sessions and audit logs default to,
// ~/.local/share/warden on Unix.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "warden"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", wardenerr.Errorf(wardenerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "warden"), nil
}

// ApplyDataDir fills empty storage and audit paths beneath dataDir.
func (c *Config) ApplyDataDir(dataDir string) {
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(dataDir, "sessions")
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = filepath.Join(dataDir, "audit")
	}
}

// BootstrapConfig writes the commented default config to path unless a file
// is already there. It returns true when it wrote one. Failures are logged
// and skipped; warden runs on defaults without a file.
func BootstrapConfig(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return false
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return false
	}

	if err := os.WriteFile(path, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", path, "error", err)
		return false
	}

	slog.Info("created default config", "path", path)
	return true
}
