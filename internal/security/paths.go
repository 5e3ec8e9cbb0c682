// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const (
	RuleOutsideWorkspace = "outside_workspace"
	RuleSensitiveFile    = "sensitive_file"
	RuleInvalidPath      = "invalid_path"
)

// sensitiveNames are exact final segments that are never readable or
// writable through tools.
var sensitiveNames = map[string]bool{
	"credentials.json":   true,
	"secrets.json":       true,
	"config.secret.json": true,
	"id_rsa":             true,
	"id_ed25519":         true,
	"id_dsa":             true,
	"id_ecdsa":           true,
	".netrc":             true,
	".npmrc":             true,
	".pypirc":            true,
}

// credentialDirs block everything beneath them.
var credentialDirs = map[string]bool{
	".aws": true,
	".ssh": true,
}

// IsSensitivePath reports whether any segment of p names a credential
// file, an environment file, or lives under a credential directory.
func IsSensitivePath(p string) (bool, string) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(p)), "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".env") {
			return true, "Access to .env file blocked: " + p
		}
		if credentialDirs[part] && i < len(parts)-1 {
			return true, "Access to credentials directory blocked: " + p
		}
	}
	if name := parts[len(parts)-1]; sensitiveNames[name] {
		return true, "Access to sensitive file blocked: " + name
	}
	return false, ""
}

// CanonicalRoot resolves root to an absolute, symlink-free directory path.
func CanonicalRoot(root string) (string, error) {
	if root == "" {
		return "", wardenerr.New(wardenerr.CodeSecurityWorkspaceInvalid, "workspace root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeSecurityWorkspaceInvalid, "resolving workspace root %q", root)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeSecurityWorkspaceInvalid, "resolving workspace root %q", root)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", wardenerr.Wrapf(err, wardenerr.CodeSecurityWorkspaceInvalid, "stat workspace root %q", root)
	}
	if !info.IsDir() {
		return "", wardenerr.Errorf(wardenerr.CodeSecurityWorkspaceInvalid, "workspace root %q is not a directory", root)
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of p so
// that a not-yet-created file under a symlinked directory still resolves to
// its real location.
func resolveExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	base, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.Base(p)), nil
}

// ContainsPath checks that candidate resolves to workspaceRoot or one of its
// descendants and does not name a sensitive file. Relative candidates are
// interpreted against workspaceRoot. On success it returns the canonical
// absolute path and a nil finding.
func ContainsPath(candidate, workspaceRoot string) (string, *Finding) {
	root, err := CanonicalRoot(workspaceRoot)
	if err != nil {
		return "", &Finding{Category: CategoryPath, Rule: RuleInvalidPath, Reason: err.Error(), Blocking: true}
	}
	return containsPath(candidate, root)
}

// containsPath assumes root is already canonical.
func containsPath(candidate, root string) (string, *Finding) {
	if strings.TrimSpace(candidate) == "" {
		return "", &Finding{Category: CategoryPath, Rule: RuleInvalidPath, Reason: "Invalid path: empty", Blocking: true}
	}
	if strings.ContainsRune(candidate, 0) {
		return "", &Finding{Category: CategoryPath, Rule: RuleInvalidPath, Reason: "Invalid path: contains NUL byte", Blocking: true}
	}

	p := candidate
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	resolved, err := resolveExisting(filepath.Clean(p))
	if err != nil {
		return "", &Finding{Category: CategoryPath, Rule: RuleInvalidPath, Reason: fmt.Sprintf("Invalid path: %v", err), Blocking: true}
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", &Finding{
			Category: CategoryPath,
			Rule:     RuleOutsideWorkspace,
			Reason:   "Path outside workspace: " + candidate,
			Blocking: true,
		}
	}

	if sensitive, reason := IsSensitivePath(rel); sensitive {
		return "", &Finding{Category: CategoryPath, Rule: RuleSensitiveFile, Reason: reason, Blocking: true}
	}

	return resolved, nil
}
