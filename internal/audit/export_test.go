// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package audit

import "time"

// SetNowFunc overrides the logger clock.
func SetNowFunc(l *Logger, fn func() time.Time) {
	l.now = fn
}
