// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// SessionNotFound is returned by every backend for an unknown session id.
// Check it with wardenerr.IsNotFound.
func SessionNotFound(id string) error {
	return wardenerr.Errorf(wardenerr.CodeStoreSessionGetNotFound, "session %s not found", id)
}

// SessionExists is returned by CreateSession for a duplicate id.
func SessionExists(id string) error {
	return wardenerr.Errorf(wardenerr.CodeStoreSessionConflict, "session %s already exists", id)
}

// DatabaseError wraps a backend failure.
func DatabaseError(err error, format string, args ...any) error {
	return wardenerr.Wrapf(err, wardenerr.CodeStoreDatabaseFailure, format, args...)
}
