// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package security

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// SecretDetector finds credential-shaped substrings in text.
//
// Detectors are heuristics. A clean result does not prove the text is free
// of secrets, and a finding does not prove one is present; callers decide
// whether a finding blocks or only warns.
type SecretDetector interface {
	Name() string
	Detect(text string) []Finding
}

// Redactor is implemented by detectors that can mask what they detect.
type Redactor interface {
	Redact(text string) string
}

//go:embed rules/secrets.yml
var secretsYAML []byte

type secretRulesFile struct {
	Rules []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Pattern     string `yaml:"pattern"`
	} `yaml:"rules"`
}

// SecretRule is a single named pattern.
type SecretRule struct {
	Name        string
	Description string
	Pattern     *regexp.Regexp
}

// ParseSecretRules decodes a rules document in the embedded format.
func ParseSecretRules(data []byte) ([]SecretRule, error) {
	var f secretRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "parsing secret rules: %w", err)
	}

	rules := make([]SecretRule, 0, len(f.Rules))
	for i, r := range f.Rules {
		if r.Name == "" {
			return nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "secret rule %d has empty name", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, wardenerr.Errorf(wardenerr.CodeSecurityRulesInvalid, "secret rule %s: %w", r.Name, err)
		}
		rules = append(rules, SecretRule{Name: r.Name, Description: r.Description, Pattern: re})
	}
	return rules, nil
}

var defaultSecretRules = mustSecretRules(secretsYAML)

func mustSecretRules(data []byte) []SecretRule {
	rules, err := ParseSecretRules(data)
	if err != nil {
		panic(err)
	}
	return rules
}

// RegexDetector matches text against a list of SecretRules after Unicode
// normalisation.
type RegexDetector struct {
	rules []SecretRule
}

var (
	_ SecretDetector = (*RegexDetector)(nil)
	_ Redactor       = (*RegexDetector)(nil)
)

// NewRegexDetector returns a detector for rules, or for the built-in rule
// set when rules is empty.
func NewRegexDetector(rules ...SecretRule) *RegexDetector {
	if len(rules) == 0 {
		rules = defaultSecretRules
	}
	return &RegexDetector{rules: rules}
}

func (d *RegexDetector) Name() string { return "regex" }

// Detect reports one finding per rule that matched, with the match count.
func (d *RegexDetector) Detect(text string) []Finding {
	text = normalize(text)

	var findings []Finding
	for _, r := range d.rules {
		matches := r.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Category: CategorySecret,
			Rule:     r.Name,
			Reason:   fmt.Sprintf("Found %d potential %s(s)", len(matches), r.Description),
			Count:    len(matches),
		})
	}
	return findings
}

// Redact replaces every match with [REDACTED]. The returned text is the
// normalised form of the input.
func (d *RegexDetector) Redact(text string) string {
	text = normalize(text)
	for _, r := range d.rules {
		text = r.Pattern.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}

// invisibleCharReplacer strips zero-width and other invisible characters
// that would otherwise split a credential and dodge the patterns.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u2060", "", // word joiner
	"\u2061", "",
	"\u2062", "",
	"\u2063", "",
	"\u2064", "",
)

func normalize(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// ScanForSecrets runs the built-in detector over text.
func ScanForSecrets(text string) []Finding {
	return NewRegexDetector().Detect(text)
}
