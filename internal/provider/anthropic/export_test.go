// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

// Exported for white-box testing.
var (
	ConvertMessages = convertMessages
	ExtractSchema   = extractSchema
	BuildParams     = buildParams
	Categorize      = categorize
)
