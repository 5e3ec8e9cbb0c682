// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package security

import (
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultMaxOutputBytes bounds a single tool result fed back to the model.
const DefaultMaxOutputBytes = 50 * 1024

var countPrinter = message.NewPrinter(language.English)

// TruncationMarker is appended to cut output. The omitted count uses
// thousands separators, e.g. "1,024".
func TruncationMarker(omitted int) string {
	return countPrinter.Sprintf("\n\n... [OUTPUT TRUNCATED - %d bytes omitted]", omitted)
}

// Truncate returns output unchanged and false when it fits in maxBytes.
// Otherwise it returns the longest prefix that fits and ends on a rune
// boundary, followed by TruncationMarker, and true. A non-positive maxBytes
// uses DefaultMaxOutputBytes.
func Truncate(output string, maxBytes int) (string, bool) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	if len(output) <= maxBytes {
		return output, false
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + TruncationMarker(len(output)-cut), true
}
