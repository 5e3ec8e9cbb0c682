// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package store persists sessions and their message histories.
package store

import "context"

// SessionStore manages conversation sessions and their messages.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessions(ctx context.Context, opts ListOpts) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage adds msg to the end of the session's history.
	AppendMessage(ctx context.Context, sessionID string, msg *Message) error
	// GetActiveWindow returns the last limit messages in chronological
	// order. A non-positive limit returns the whole history.
	GetActiveWindow(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	Close() error
}
