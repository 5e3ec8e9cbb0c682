// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package permission

import "strings"

// Risk is advisory metadata shown to the approver. It never gates a call on
// its own.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

var (
	highRiskTools   = map[string]bool{"bash": true, "python_exec": true}
	mediumRiskTools = map[string]bool{"write_file": true, "edit_file": true}

	sensitiveTargetParts = []string{".env", "secret", "password", "credential", "key", "token", "auth"}
)

// AssessRisk grades a call from the tool name and its target alone.
func AssessRisk(tool, target string) Risk {
	if highRiskTools[tool] {
		return RiskHigh
	}

	lower := strings.ToLower(target)
	for _, s := range sensitiveTargetParts {
		if strings.Contains(lower, s) {
			return RiskHigh
		}
	}

	if mediumRiskTools[tool] {
		return RiskMedium
	}
	return RiskLow
}
