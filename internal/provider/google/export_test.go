// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

// Exported for white-box testing.
var (
	ConvertMessages = convertMessages
	BuildConfig     = buildConfig
	Categorize      = categorize
)
