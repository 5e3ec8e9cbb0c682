// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sigil-dev/warden/internal/tool"
)

const (
	defaultReadLimit = 2000
	maxLineChars     = 2000
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ReadFile returns numbered lines of a file, or an image payload for image
// files.
type ReadFile struct{}

func (ReadFile) Definition() tool.Definition {
	return tool.Definition{
		Name:        "read_file",
		Description: "Read file contents. Returns lines with line numbers. Use offset/limit for large files.",
		InputSchema: objectSchema(map[string]any{
			"file_path": prop("string", "Path to the file"),
			"offset":    map[string]any{"type": "integer", "minimum": 0, "description": "Starting line number (0-indexed, default: 0)"},
			"limit":     map[string]any{"type": "integer", "minimum": 1, "description": "Maximum lines to read (default: 2000)"},
		}, "file_path"),
		Capability: tool.CapabilityRead,
		TargetArg:  "file_path",
	}
}

type readArgs struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (ReadFile) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args readArgs
	if err := decode("read_file", raw, &args); err != nil {
		return tool.Output{}, err
	}
	if args.Limit <= 0 {
		args.Limit = defaultReadLimit
	}
	path := ec.Target

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return tool.Output{}, failf("File not found: %s", display(ec, path))
	case err != nil:
		return tool.Output{}, failf("reading %s: %v", display(ec, path), err)
	case info.IsDir():
		return tool.Output{}, failf("Path is a directory, not a file: %s", display(ec, path))
	}

	if mediaType, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return tool.Output{}, failf("reading %s: %v", display(ec, path), err)
		}
		ec.Files.MarkRead(path)
		return tool.Output{
			Text:  fmt.Sprintf("[image: %s (%d bytes)]", display(ec, path), len(data)),
			Media: &tool.Media{MediaType: mediaType, Data: data},
		}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return tool.Output{}, failf("reading %s: %v", display(ec, path), err)
	}
	defer f.Close()

	var b strings.Builder
	total, shown := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		total++
		if total <= args.Offset || shown >= args.Limit {
			continue
		}
		if err := ctx.Err(); err != nil {
			return tool.Output{}, err
		}
		line := strings.TrimRight(sc.Text(), " \t\r")
		if runes := []rune(line); len(runes) > maxLineChars {
			line = string(runes[:maxLineChars]) + "..."
		}
		if shown > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%6d\t%s", total, line)
		shown++
	}
	if err := sc.Err(); err != nil {
		return tool.Output{}, failf("reading %s: %v", display(ec, path), err)
	}
	ec.Files.MarkRead(path)

	if shown == 0 {
		if total == 0 {
			return tool.Output{Text: "(empty file)"}, nil
		}
		return tool.Output{Text: fmt.Sprintf("[No lines after offset %d; file has %d lines]", args.Offset, total)}, nil
	}
	if total > args.Offset+shown {
		fmt.Fprintf(&b, "\n\n[Showing lines %d-%d of %d total]", args.Offset+1, args.Offset+shown, total)
	}
	return tool.Output{Text: b.String()}, nil
}

// WriteFile creates or overwrites a file. Existing files must have been read
// in the session first.
type WriteFile struct{}

func (WriteFile) Definition() tool.Definition {
	return tool.Definition{
		Name:        "write_file",
		Description: "Write content to a file. Creates file if doesn't exist. MUST read file first if it exists.",
		InputSchema: objectSchema(map[string]any{
			"file_path": prop("string", "Path to the file"),
			"content":   prop("string", "Content to write"),
		}, "file_path", "content"),
		Capability:  tool.CapabilityWrite,
		TargetArg:   "file_path",
		ContentArgs: []string{"content"},
	}
}

type writeArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func (WriteFile) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args writeArgs
	if err := decode("write_file", raw, &args); err != nil {
		return tool.Output{}, err
	}
	path := ec.Target

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return tool.Output{}, failf("Path is a directory, not a file: %s", display(ec, path))
	case err == nil && !ec.Files.WasRead(path):
		return tool.Output{}, failf("Must read file before overwriting. Use read_file first.")
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return tool.Output{}, failf("writing %s: %v", display(ec, path), err)
	}
	if err := ctx.Err(); err != nil {
		return tool.Output{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tool.Output{}, failf("creating directory for %s: %v", display(ec, path), err)
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return tool.Output{}, failf("writing %s: %v", display(ec, path), err)
	}
	ec.Files.MarkRead(path)

	return tool.Output{Text: fmt.Sprintf("Successfully wrote %d bytes to %s", len(args.Content), display(ec, path))}, nil
}

// EditFile replaces an exact string in a file already read this session.
type EditFile struct{}

func (EditFile) Definition() tool.Definition {
	return tool.Definition{
		Name:        "edit_file",
		Description: "Edit file by replacing exact string match. MUST read file first. old_string must be EXACT.",
		InputSchema: objectSchema(map[string]any{
			"file_path":   prop("string", "Path to the file"),
			"old_string":  map[string]any{"type": "string", "minLength": 1, "description": "Exact text to replace"},
			"new_string":  prop("string", "Replacement text"),
			"replace_all": prop("boolean", "Replace all occurrences (default: false)"),
		}, "file_path", "old_string", "new_string"),
		Capability:  tool.CapabilityWrite,
		TargetArg:   "file_path",
		ContentArgs: []string{"new_string"},
	}
}

type editArgs struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all"`
}

func (EditFile) Execute(ctx context.Context, ec tool.ExecContext, raw json.RawMessage) (tool.Output, error) {
	var args editArgs
	if err := decode("edit_file", raw, &args); err != nil {
		return tool.Output{}, err
	}
	path := ec.Target

	if !ec.Files.WasRead(path) {
		return tool.Output{}, failf("Must read file before editing. Use read_file first.")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return tool.Output{}, failf("File not found: %s", display(ec, path))
	}
	if err != nil {
		return tool.Output{}, failf("reading %s: %v", display(ec, path), err)
	}
	content := string(data)

	count := strings.Count(content, args.OldString)
	if count == 0 {
		preview := args.OldString
		if runes := []rune(preview); len(runes) > 50 {
			preview = string(runes[:50]) + "..."
		}
		return tool.Output{}, failf("old_string not found in file. Looking for: '%s'", preview)
	}
	if count > 1 && !args.ReplaceAll {
		return tool.Output{}, failf("old_string appears %d times. Use replace_all=true or provide more context to make it unique.", count)
	}

	replaced := 1
	if args.ReplaceAll {
		content = strings.ReplaceAll(content, args.OldString, args.NewString)
		replaced = count
	} else {
		content = strings.Replace(content, args.OldString, args.NewString, 1)
	}
	if ec.Security != nil {
		if f := ec.Security.CheckContentSize(len(content)); f != nil {
			return tool.Output{}, f.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return tool.Output{}, err
	}

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return tool.Output{}, failf("writing %s: %v", display(ec, path), err)
	}

	plural := ""
	if replaced > 1 {
		plural = "s"
	}
	return tool.Output{Text: fmt.Sprintf("Successfully edited %s (%d replacement%s)", display(ec, path), replaced, plural)}, nil
}

// ListDir lists a directory with entry kinds and sizes.
type ListDir struct{}

func (ListDir) Definition() tool.Definition {
	return tool.Definition{
		Name:        "list_dir",
		Description: "List directory contents with file types and sizes.",
		InputSchema: objectSchema(map[string]any{
			"path": prop("string", "Directory path (default: working dir)"),
		}),
		Capability:    tool.CapabilityRead,
		TargetArg:     "path",
		DefaultTarget: ".",
	}
}

func (ListDir) Execute(_ context.Context, ec tool.ExecContext, _ json.RawMessage) (tool.Output, error) {
	path := ec.Target

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return tool.Output{}, failf("Path not found: %s", display(ec, path))
	case err != nil:
		return tool.Output{}, failf("listing %s: %v", display(ec, path), err)
	case !info.IsDir():
		return tool.Output{}, failf("Not a directory: %s", display(ec, path))
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tool.Output{}, failf("listing %s: %v", display(ec, path), err)
	}
	if len(entries) == 0 {
		return tool.Output{Text: "(empty directory)"}, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, fmt.Sprintf("[DIR]  %s/", e.Name()))
			continue
		}
		fi, err := e.Info()
		if err != nil {
			lines = append(lines, fmt.Sprintf("[FILE] %s", e.Name()))
			continue
		}
		lines = append(lines, fmt.Sprintf("[FILE] %s (%s)", e.Name(), humanSize(fi.Size())))
	}
	return tool.Output{Text: strings.Join(lines, "\n")}, nil
}

func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
