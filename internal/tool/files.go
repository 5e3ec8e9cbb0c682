// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package tool

import "sync"

// FileTracker remembers which canonical paths a session has read, so that
// write and edit tools can refuse to clobber files the model never saw.
type FileTracker struct {
	mu   sync.RWMutex
	read map[string]bool
}

// NewFileTracker returns an empty tracker.
func NewFileTracker() *FileTracker {
	return &FileTracker{read: make(map[string]bool)}
}

// MarkRead records path as read.
func (f *FileTracker) MarkRead(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read[path] = true
}

// WasRead reports whether path was read in this session.
func (f *FileTracker) WasRead(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.read[path]
}

// Len returns the number of distinct files read.
func (f *FileTracker) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.read)
}
