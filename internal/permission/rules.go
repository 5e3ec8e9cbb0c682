// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package permission

import (
	_ "embed"
	"sort"
	"strings"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Level is the permission rule attached to a tool.
type Level string

const (
	LevelAllow   Level = "allow"
	LevelDeny    Level = "deny"
	LevelAsk     Level = "ask"
	LevelAskOnce Level = "ask_once"
)

// ParseLevel accepts the four rule names, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelAllow, LevelDeny, LevelAsk, LevelAskOnce:
		return l, nil
	default:
		return "", wardenerr.Errorf(wardenerr.CodePermissionRuleInvalid,
			"unknown permission level %q (want allow, deny, ask or ask_once)", s)
	}
}

// Asks reports whether the level requires an approval decision.
func (l Level) Asks() bool {
	return l == LevelAsk || l == LevelAskOnce
}

//go:embed rules/defaults.yml
var defaultRulesYAML []byte

var defaultRules = mustParseRules(defaultRulesYAML)

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() map[string]Level {
	out := make(map[string]Level, len(defaultRules))
	for k, v := range defaultRules {
		out[k] = v
	}
	return out
}

type rulesFile struct {
	Rules map[string]string `yaml:"rules"`
}

// ParseRules decodes a YAML document of the form
//
//	rules:
//	  write_file: ask
//	  "mcp_*": deny
//
// Keys are tool names or patterns where "*" matches any run of characters.
func ParseRules(data []byte) (map[string]Level, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodePermissionRuleInvalid, "parsing permission rules")
	}
	return ConvertRules(f.Rules)
}

// ConvertRules validates a tool→level string map, as found in configuration.
func ConvertRules(raw map[string]string) (map[string]Level, error) {
	out := make(map[string]Level, len(raw))
	var errs []error
	for tool, s := range raw {
		if strings.TrimSpace(tool) == "" {
			errs = append(errs, wardenerr.New(wardenerr.CodePermissionRuleInvalid, "permission rule with empty tool name"))
			continue
		}
		l, err := ParseLevel(s)
		if err != nil {
			errs = append(errs, wardenerr.With(err, wardenerr.FieldTool(tool)))
			continue
		}
		out[tool] = l
	}
	if len(errs) > 0 {
		return nil, wardenerr.Join(errs...)
	}
	return out, nil
}

func mustParseRules(data []byte) map[string]Level {
	rules, err := ParseRules(data)
	if err != nil {
		panic(err)
	}
	return rules
}

// ruleTable resolves a tool name: exact names win, then the longest matching
// glob pattern, then LevelAsk.
type ruleTable struct {
	exact    map[string]Level
	patterns []string
}

func newRuleTable(rules map[string]Level) *ruleTable {
	t := &ruleTable{exact: make(map[string]Level, len(rules))}
	for k, v := range rules {
		t.set(k, v)
	}
	return t
}

func (t *ruleTable) set(tool string, l Level) {
	_, existed := t.exact[tool]
	t.exact[tool] = l
	if existed || !strings.Contains(tool, "*") {
		return
	}
	t.patterns = append(t.patterns, tool)
	sort.SliceStable(t.patterns, func(i, j int) bool {
		if len(t.patterns[i]) != len(t.patterns[j]) {
			return len(t.patterns[i]) > len(t.patterns[j])
		}
		return t.patterns[i] < t.patterns[j]
	})
}

func (t *ruleTable) lookup(tool string) Level {
	if l, ok := t.exact[tool]; ok {
		return l
	}
	for _, p := range t.patterns {
		if matchGlob(p, tool) {
			return t.exact[p]
		}
	}
	return LevelAsk
}

// matchGlob matches text against pattern where '*' matches zero or more
// characters.
func matchGlob(pattern, text string) bool {
	pi, ti := 0, 0
	star := -1
	match := 0

	for ti < len(text) {
		if pi < len(pattern) && pattern[pi] == text[ti] {
			pi++
			ti++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			star = pi
			match = ti
			pi++
			continue
		}
		if star != -1 {
			pi = star + 1
			match++
			ti = match
			continue
		}
		return false
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
