// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package security

import (
	"fmt"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

// Category groups findings by the kind of check that produced them.
type Category string

const (
	CategorySecret  Category = "secret"
	CategoryPath    Category = "path"
	CategoryCommand Category = "command"
	CategoryNetwork Category = "network"
	CategorySize    Category = "size"
)

// Finding is the outcome of a single security check that did not pass.
// Secret findings are advisory; the other categories block.
type Finding struct {
	Category Category `json:"category"`
	Rule     string   `json:"rule"`
	Reason   string   `json:"reason"`
	Blocking bool     `json:"blocking"`
	Count    int      `json:"count,omitempty"`
}

func (f Finding) String() string {
	if f.Count > 1 {
		return fmt.Sprintf("%s: %s (%d matches)", f.Category, f.Reason, f.Count)
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Reason)
}

// Err converts a blocking finding into a coded error. Advisory findings
// return nil.
func (f *Finding) Err() error {
	if f == nil || !f.Blocking {
		return nil
	}

	code := wardenerr.CodeSecurityCommandDenied
	switch f.Category {
	case CategoryPath:
		code = wardenerr.CodeSecurityPathOutsideRoot
		if f.Rule == RuleSensitiveFile {
			code = wardenerr.CodeSecurityPathSensitive
		}
	case CategoryNetwork:
		code = wardenerr.CodeSecurityNetworkDenied
	case CategorySize:
		code = wardenerr.CodeSecurityFileTooLarge
	}
	return wardenerr.New(code, f.Reason, wardenerr.Field("rule", f.Rule))
}
