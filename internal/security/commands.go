// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package security

import (
	_ "embed"
	"regexp"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CommandCheck inspects a shell command before it runs and returns a
// blocking finding when it should not. Like SecretDetector this is a
// denylist heuristic layered in front of the permission gate, not a
// sandbox: obfuscated commands can get past it.
type CommandCheck interface {
	Name() string
	Check(command string, networkAllowed bool) *Finding
}

//go:embed rules/commands.yml
var commandsYAML []byte

type commandRulesFile struct {
	Destructive []struct {
		Name    string `yaml:"name"`
		Reason  string `yaml:"reason"`
		Pattern string `yaml:"pattern"`
	} `yaml:"destructive"`
	Network []string `yaml:"network"`
}

// CommandRule is one denylisted command shape.
type CommandRule struct {
	Name    string
	Reason  string
	Pattern *regexp.Regexp
}

// ParseCommandRules decodes a command rules document and returns the
// destructive rules and the network tool names.
func ParseCommandRules(data []byte) ([]CommandRule, []string, error) {
	var f commandRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "parsing command rules: %w", err)
	}

	rules := make([]CommandRule, 0, len(f.Destructive))
	for i, r := range f.Destructive {
		if r.Name == "" {
			return nil, nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "command rule %d has empty name", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "command rule %s: %w", r.Name, err)
		}
		rules = append(rules, CommandRule{Name: r.Name, Reason: r.Reason, Pattern: re})
	}
	return rules, f.Network, nil
}

var defaultCommandRules, defaultNetworkCommands = mustCommandRules(commandsYAML)

func mustCommandRules(data []byte) ([]CommandRule, []string) {
	rules, network, err := ParseCommandRules(data)
	if err != nil {
		panic(err)
	}
	return rules, network
}

// PatternCheck blocks commands matching any destructive rule.
type PatternCheck struct {
	rules []CommandRule
}

// NewPatternCheck uses the built-in rules when none are given.
func NewPatternCheck(rules ...CommandRule) *PatternCheck {
	if len(rules) == 0 {
		rules = defaultCommandRules
	}
	return &PatternCheck{rules: rules}
}

func (c *PatternCheck) Name() string { return "destructive_patterns" }

func (c *PatternCheck) Check(command string, _ bool) *Finding {
	for _, r := range c.rules {
		if r.Pattern.MatchString(command) {
			return &Finding{
				Category: CategoryCommand,
				Rule:     r.Name,
				Reason:   "Blocked: destructive command (" + r.Reason + ")",
				Blocking: true,
			}
		}
	}
	return nil
}

// NetworkCheck blocks network-capable tools unless network access is on.
type NetworkCheck struct {
	names    []string
	patterns []*regexp.Regexp
}

// NewNetworkCheck uses the built-in tool names when none are given.
func NewNetworkCheck(names ...string) *NetworkCheck {
	if len(names) == 0 {
		names = defaultNetworkCommands
	}
	patterns := make([]*regexp.Regexp, len(names))
	for i, n := range names {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(n) + `\b`)
	}
	return &NetworkCheck{names: names, patterns: patterns}
}

func (c *NetworkCheck) Name() string { return "network_commands" }

func (c *NetworkCheck) Check(command string, networkAllowed bool) *Finding {
	if networkAllowed {
		return nil
	}
	for i, re := range c.patterns {
		if re.MatchString(command) {
			return &Finding{
				Category: CategoryNetwork,
				Rule:     c.names[i],
				Reason:   "Network command blocked: " + c.names[i],
				Blocking: true,
			}
		}
	}
	return nil
}

// DefaultCommandChecks returns the destructive pattern and network checks.
func DefaultCommandChecks() []CommandCheck {
	return []CommandCheck{NewPatternCheck(), NewNetworkCheck()}
}

// ValidateCommand runs the default checks and returns the first blocking
// finding, or nil when the command may run.
func ValidateCommand(command string, networkAllowed bool) *Finding {
	return runCommandChecks(DefaultCommandChecks(), command, networkAllowed)
}

func runCommandChecks(checks []CommandCheck, command string, networkAllowed bool) *Finding {
	for _, c := range checks {
		if f := c.Check(command, networkAllowed); f != nil {
			return f
		}
	}
	return nil
}
