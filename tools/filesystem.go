package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/croftlabs/croft/schema"
)

// ReadTool returns file content as numbered lines, with optional offset and
// limit for large files.
type ReadTool struct {
	sandbox  *Sandbox
	maxBytes int64
}

// NewReadTool creates a read tool. maxBytes guards against feeding an
// enormous file into the model's context; zero means the default ceiling.
func NewReadTool(sandbox *Sandbox, maxBytes int64) *ReadTool {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &ReadTool{sandbox: sandbox, maxBytes: maxBytes}
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read file contents with line numbers. Args: path (string), optional offset (1-based line) and limit (line count)."
}

var readSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"path":   schema.String("Path to the file, relative to the working directory or absolute within it"),
	"offset": schema.Integer("1-based line number to start reading from").Min(1),
	"limit":  schema.Integer("Maximum number of lines to return").Min(1),
}, "path"))

func (t *ReadTool) Schema() *schema.Schema { return readSchema }

func (t *ReadTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q is a directory", ErrInvalidArgs, path)
	}
	if info.Size() > t.maxBytes {
		return "", fmt.Errorf("%w: %q is %d bytes, ceiling is %d", ErrTooLarge, path, info.Size(), t.maxBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset := optionalIntArg(args, "offset", 0); offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit := optionalIntArg(args, "limit", 0); limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteTool creates or replaces a file. The write goes to a temp file in the
// target directory and is renamed into place, so a crash mid-write never
// leaves a torn file under the original name.
type WriteTool struct {
	sandbox *Sandbox
}

// NewWriteTool creates a write tool.
func NewWriteTool(sandbox *Sandbox) *WriteTool {
	return &WriteTool{sandbox: sandbox}
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating parent directories and replacing any existing content. Args: path (string), content (string)."
}

var writeSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"path":    schema.String("Path of the file to create or overwrite"),
	"content": schema.String("Full content to write"),
}, "path", "content"))

func (t *WriteTool) Schema() *schema.Schema { return writeSchema }

func (t *WriteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	resolved, err := t.sandbox.ResolveForWrite(path)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".croft-write-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %q: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditTool replaces one exact occurrence of old_string with new_string. A
// missing match and an ambiguous match are distinct failures so the model
// can tell "didn't find it" from "too many candidates".
type EditTool struct {
	sandbox *Sandbox
}

// NewEditTool creates an edit tool.
func NewEditTool(sandbox *Sandbox) *EditTool {
	return &EditTool{sandbox: sandbox}
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Edit a file by replacing old_string with new_string. old_string must match the file content exactly once. Args: path, old_string, new_string."
}

var editSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"path":       schema.String("Path of the file to edit"),
	"old_string": schema.String("Exact text to find; must occur exactly once"),
	"new_string": schema.String("Replacement text"),
}, "path", "old_string", "new_string"))

func (t *EditTool) Schema() *schema.Schema { return editSchema }

func (t *EditTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	oldString, err := stringArg(args, "old_string")
	if err != nil {
		return "", err
	}
	newString, err := stringArg(args, "new_string")
	if err != nil {
		return "", err
	}
	if oldString == "" {
		return "", fmt.Errorf("%w: old_string must not be empty", ErrInvalidArgs)
	}
	resolved, err := t.sandbox.ResolveForWrite(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", path, err)
	}
	content := string(data)

	switch count := strings.Count(content, oldString); {
	case count == 0:
		return "", fmt.Errorf("%w in %q", ErrNoMatch, path)
	case count > 1:
		return "", fmt.Errorf("%w in %q (%d occurrences); add surrounding context to make it unique", ErrAmbiguousMatch, path, count)
	}

	updated := strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("writing %q: %w", path, err)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(content),
		B:        difflib.SplitLines(updated),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		diff = ""
	}
	return fmt.Sprintf("Edited %s\n%s", path, diff), nil
}
