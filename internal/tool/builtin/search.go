// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package builtin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sigil-dev/warden/internal/security"
	"github.com/sigil-dev/warden/internal/tool"
)

const (
	maxGlobResults   = 100
	defaultGrepLimit = 100
	binarySniffBytes = 8000
)

// Glob finds files by doublestar pattern, newest first.
type Glob struct{}

func (Glob) Definition() tool.Definition {
	return tool.Definition{
		Name:        "glob",
		Description: "Find files by glob pattern (e.g., '**/*.py', 'src/**/*.ts'). Returns up to 100 matches.",
		InputSchema: objectSchema(map[string]any{
			"pattern": map[string]any{"type": "string", "minLength": 1, "description": "Glob pattern"},
			"path":    prop("string", "Directory to search (default: working dir)"),
		}, "pattern"),
		Capability:    tool.CapabilityRead,
		TargetArg:     "path",
		DefaultTarget: ".",
	}
}

type globArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

type match struct {
	path    string
	modTime int64
}

func (Glob) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args globArgs
	if err := decode("glob", raw, &args); err != nil {
		return tool.Output{}, err
	}
	if !doublestar.ValidatePattern(args.Pattern) {
		return tool.Output{}, failf("Invalid glob pattern: %s", args.Pattern)
	}
	base := ec.Target

	names, err := doublestar.Glob(os.DirFS(base), args.Pattern, doublestar.WithNoFollow())
	if err != nil {
		return tool.Output{}, failf("glob %s: %v", args.Pattern, err)
	}

	var matches []match
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return tool.Output{}, err
		}
		full := filepath.Join(base, filepath.FromSlash(name))
		info, err := os.Lstat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if hidden, _ := security.IsSensitivePath(name); hidden {
			continue
		}
		// A symlinked directory in a literal pattern prefix is still followed.
		if ec.Security != nil {
			if _, f := ec.Security.CheckPath(full); f != nil {
				continue
			}
		}
		matches = append(matches, match{path: display(ec, full), modTime: info.ModTime().UnixNano()})
	}
	if len(matches) == 0 {
		return tool.Output{Text: "No files found matching pattern"}, nil
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].modTime > matches[j].modTime })
	truncated := len(matches) > maxGlobResults
	if truncated {
		matches = matches[:maxGlobResults]
	}

	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = m.path
	}
	out := strings.Join(lines, "\n")
	if truncated {
		out += fmt.Sprintf("\n\n[Showing first %d of many matches]", maxGlobResults)
	}
	return tool.Output{Text: out}, nil
}

// Grep searches file contents with a regular expression.
type Grep struct{}

func (Grep) Definition() tool.Definition {
	return tool.Definition{
		Name:        "grep",
		Description: "Search file contents with regex. Supports context lines, case-insensitive search, and glob filtering.",
		InputSchema: objectSchema(map[string]any{
			"pattern": map[string]any{"type": "string", "minLength": 1, "description": "Regex pattern to search for"},
			"path":    prop("string", "File or directory to search"),
			"glob":    prop("string", "Glob pattern to filter files (e.g., '*.py')"),
			"output_mode": map[string]any{
				"type":        "string",
				"enum":        []any{"files_with_matches", "content", "count"},
				"description": "Output format (default: files_with_matches)",
			},
			"case_insensitive": prop("boolean", "Case insensitive search"),
			"context":          map[string]any{"type": "integer", "minimum": 0, "description": "Lines of context around matches"},
			"limit":            map[string]any{"type": "integer", "minimum": 1, "description": "Maximum results (default: 100)"},
		}, "pattern"),
		Capability:    tool.CapabilityRead,
		TargetArg:     "path",
		DefaultTarget: ".",
	}
}

type grepArgs struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path"`
	Glob            string `json:"glob"`
	OutputMode      string `json:"output_mode"`
	CaseInsensitive bool   `json:"case_insensitive"`
	Context         int    `json:"context"`
	Limit           int    `json:"limit"`
}

func (Grep) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args grepArgs
	if err := decode("grep", raw, &args); err != nil {
		return tool.Output{}, err
	}
	if args.OutputMode == "" {
		args.OutputMode = "files_with_matches"
	}
	if args.Limit <= 0 {
		args.Limit = defaultGrepLimit
	}
	if args.Glob != "" && !doublestar.ValidatePattern(args.Glob) {
		return tool.Output{}, failf("Invalid glob pattern: %s", args.Glob)
	}

	expr := args.Pattern
	if args.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return tool.Output{}, failf("Invalid regex pattern: %v", err)
	}

	files, err := grepFiles(ctx, ec, ec.Target, args.Glob)
	if err != nil {
		return tool.Output{}, err
	}

	var (
		results []string
		counts  = make(map[string]int)
		order   []string
		hits    int
	)
	for _, path := range files {
		if hits >= args.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return tool.Output{}, err
		}
		lines, ok := readTextLines(path)
		if !ok {
			continue
		}
		name := display(ec, path)
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			hits++
			switch args.OutputMode {
			case "files_with_matches":
				results = append(results, name)
			case "count":
				if counts[name] == 0 {
					order = append(order, name)
				}
				counts[name]++
			default:
				lo := max(0, i-args.Context)
				hi := min(len(lines), i+args.Context+1)
				for j := lo; j < hi; j++ {
					marker := " "
					if j == i {
						marker = ">"
					}
					results = append(results, fmt.Sprintf("%s:%d%s %s", name, j+1, marker, lines[j]))
				}
			}
			if args.OutputMode == "files_with_matches" || hits >= args.Limit {
				break
			}
		}
	}

	if args.OutputMode == "count" {
		if len(order) == 0 {
			return tool.Output{Text: "No matches found"}, nil
		}
		sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
		lines := make([]string, len(order))
		for i, name := range order {
			lines[i] = fmt.Sprintf("%s: %d", name, counts[name])
		}
		return tool.Output{Text: strings.Join(lines, "\n")}, nil
	}

	if len(results) == 0 {
		return tool.Output{Text: "No matches found"}, nil
	}
	out := strings.Join(results, "\n")
	if hits >= args.Limit {
		out += fmt.Sprintf("\n\n[Results limited to %d matches]", args.Limit)
	}
	return tool.Output{Text: out}, nil
}

// grepFiles lists candidate files under base. Hidden entries, symlinks and
// sensitive files are skipped.
func grepFiles(ctx context.Context, ec tool.ExecContext, base, glob string) ([]string, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, failf("Path not found: %s", display(ec, base))
	}
	if !info.IsDir() {
		return []string{base}, nil
	}

	var files []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if path != base && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		rel = filepath.ToSlash(rel)
		if sensitive, _ := security.IsSensitivePath(rel); sensitive {
			return nil
		}
		if glob != "" && !matchGlob(glob, rel) {
			return nil
		}
		if ec.Security != nil && ec.Security.CheckFileSize(path) != nil {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// matchGlob matches patterns without a slash against the base name, the way
// '*.py' is usually meant.
func matchGlob(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, filepath.Base(rel))
		return ok
	}
	ok, _ := doublestar.Match(pattern, rel)
	return ok
}

// readTextLines returns the file's lines, or false for unreadable or binary
// files.
func readTextLines(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(binarySniffBytes)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, false
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return nil, false
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, true
	}
	return strings.Split(text, "\n"), true
}
