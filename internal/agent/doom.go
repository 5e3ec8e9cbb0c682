// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

import (
	"bytes"
	"encoding/json"
)

const (
	DefaultDoomThreshold = 3
	DefaultDoomWindow    = 10
)

// doomWindow holds the signatures of the most recent tool calls, oldest
// first. Only exact signature matches count as repetition.
type doomWindow struct {
	size int
	sigs []string
}

func newDoomWindow(size int) *doomWindow {
	if size <= 0 {
		size = DefaultDoomWindow
	}
	return &doomWindow{size: size}
}

func (w *doomWindow) push(sig string) {
	w.sigs = append(w.sigs, sig)
	if n := len(w.sigs) - w.size; n > 0 {
		w.sigs = append(w.sigs[:0], w.sigs[n:]...)
	}
}

func (w *doomWindow) count(sig string) int {
	n := 0
	for _, s := range w.sigs {
		if s == sig {
			n++
		}
	}
	return n
}

// repeated reports the first signature in sigs that already appears at least
// threshold times in the window. Nothing is reported until the window holds
// threshold entries.
func (w *doomWindow) repeated(sigs []string, threshold int) (string, bool) {
	if len(w.sigs) < threshold {
		return "", false
	}
	for _, sig := range sigs {
		if w.count(sig) >= threshold {
			return sig, true
		}
	}
	return "", false
}

func (w *doomWindow) len() int { return len(w.sigs) }

func (w *doomWindow) reset() { w.sigs = nil }

// signature identifies a call by tool name and canonical arguments: object
// keys sorted, no insignificant whitespace. Arguments that are not valid
// JSON are compared as trimmed text.
func signature(name string, args json.RawMessage) string {
	return name + "\x00" + canonicalJSON(args)
}

func canonicalJSON(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "{}"
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(trimmed)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(trimmed)
	}
	return string(out)
}
