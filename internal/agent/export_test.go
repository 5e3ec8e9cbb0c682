// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

// Signature exposes signature for white-box testing.
var Signature = signature

// TitleFrom exposes titleFrom for white-box testing.
var TitleFrom = titleFrom

// NewDoomWindow exposes newDoomWindow for white-box testing.
var NewDoomWindow = newDoomWindow

func (w *doomWindow) Push(sig string) { w.push(sig) }

func (w *doomWindow) Len() int { return w.len() }

func (w *doomWindow) Repeated(sigs []string, threshold int) bool {
	_, ok := w.repeated(sigs, threshold)
	return ok
}

// DoomWindowLen reports how many signatures s's window holds.
func DoomWindowLen(s *Session) int {
	if s.doom == nil {
		return 0
	}
	return s.doom.len()
}
