// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package security holds the stateless checks that sit in front of every
// tool call: workspace containment, sensitive file names, command
// denylisting, secret scanning and output truncation.
//
// The command and secret checks are pattern heuristics. They are a
// defense-in-depth layer in front of the permission gate and the audit
// trail, not an isolation boundary.
package security

import (
	"fmt"
	"os"
)

// DefaultMaxFileBytes is the largest file a tool may read or write.
const DefaultMaxFileBytes int64 = 10 * 1024 * 1024

// Config configures a Validator.
type Config struct {
	WorkspaceRoot  string
	MaxOutputBytes int
	MaxFileBytes   int64
	AllowNetwork   bool
}

// Option customises a Validator.
type Option func(*Validator)

// WithSecretDetectors replaces the default secret detector set.
func WithSecretDetectors(d ...SecretDetector) Option {
	return func(v *Validator) { v.detectors = d }
}

// WithCommandChecks replaces the default command check set.
func WithCommandChecks(c ...CommandCheck) Option {
	return func(v *Validator) { v.checks = c }
}

// Validator binds the package checks to one workspace. It holds no
// mutable state after construction and is safe for concurrent use.
type Validator struct {
	root      string
	cfg       Config
	detectors []SecretDetector
	checks    []CommandCheck
}

// NewValidator canonicalises the workspace root and applies defaults.
func NewValidator(cfg Config, opts ...Option) (*Validator, error) {
	root, err := CanonicalRoot(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}

	v := &Validator{
		root:      root,
		cfg:       cfg,
		detectors: []SecretDetector{NewRegexDetector()},
		checks:    DefaultCommandChecks(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Root returns the canonical workspace root.
func (v *Validator) Root() string { return v.root }

// NetworkAllowed reports whether network-capable commands may run.
func (v *Validator) NetworkAllowed() bool { return v.cfg.AllowNetwork }

// CheckPath resolves p against the workspace and applies ContainsPath.
func (v *Validator) CheckPath(p string) (string, *Finding) {
	return containsPath(p, v.root)
}

// ValidateCommand runs every configured CommandCheck.
func (v *Validator) ValidateCommand(command string) *Finding {
	return runCommandChecks(v.checks, command, v.cfg.AllowNetwork)
}

// ScanForSecrets runs every configured SecretDetector.
func (v *Validator) ScanForSecrets(text string) []Finding {
	var findings []Finding
	for _, d := range v.detectors {
		findings = append(findings, d.Detect(text)...)
	}
	return findings
}

// Redact masks secrets using every detector that supports it.
func (v *Validator) Redact(text string) string {
	for _, d := range v.detectors {
		if r, ok := d.(Redactor); ok {
			text = r.Redact(text)
		}
	}
	return text
}

// Truncate applies the configured output budget.
func (v *Validator) Truncate(output string) (string, bool) {
	return Truncate(output, v.cfg.MaxOutputBytes)
}

// CheckFileSize rejects existing files above the configured limit. Missing
// files pass.
func (v *Validator) CheckFileSize(resolved string) *Finding {
	info, err := os.Stat(resolved)
	if err != nil {
		return nil
	}
	if info.Size() > v.cfg.MaxFileBytes {
		return &Finding{
			Category: CategorySize,
			Rule:     "file_too_large",
			Reason:   countPrinter.Sprintf("File too large: %d bytes (max: %d)", info.Size(), v.cfg.MaxFileBytes),
			Blocking: true,
		}
	}
	return nil
}

// CheckContentSize rejects content that would exceed the file limit.
func (v *Validator) CheckContentSize(n int) *Finding {
	if int64(n) > v.cfg.MaxFileBytes {
		return &Finding{
			Category: CategorySize,
			Rule:     "content_too_large",
			Reason:   fmt.Sprintf("Content too large: %d bytes (max: %d)", n, v.cfg.MaxFileBytes),
			Blocking: true,
		}
	}
	return nil
}
