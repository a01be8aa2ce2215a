package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/croftlabs/croft/schema"
)

const (
	maxGlobMatches = 200
	maxGrepMatches = 100
)

// GlobTool finds files matching a doublestar pattern. Matches come back
// sorted by modification time, newest first, so "the most recent one" is the
// first line the model reads.
type GlobTool struct {
	sandbox *Sandbox
}

// NewGlobTool creates a glob tool.
func NewGlobTool(sandbox *Sandbox) *GlobTool {
	return &GlobTool{sandbox: sandbox}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. '**/*.go'), newest first. Args: pattern (string), optional path (base directory)."
}

var globSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"pattern": schema.String("Glob pattern, ** matches across directories"),
	"path":    schema.String("Base directory to search from, defaults to the working directory"),
}, "pattern"))

func (t *GlobTool) Schema() *schema.Schema { return globSchema }

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	base := t.sandbox.Root()
	if p := optionalStringArg(args, "path"); p != "" {
		base, err = t.sandbox.Resolve(p)
		if err != nil {
			return "", err
		}
	}

	names, err := doublestar.Glob(os.DirFS(base), pattern)
	if err != nil {
		return "", fmt.Errorf("%w: bad glob pattern %q: %v", ErrInvalidArgs, pattern, err)
	}

	type match struct {
		path  string
		mtime int64
	}
	var matches []match
	for _, name := range names {
		full := filepath.Join(base, name)
		if t.sandbox.Hidden(full) {
			continue
		}
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		matches = append(matches, match{path: name, mtime: info.ModTime().UnixNano()})
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No files match pattern: %s", pattern), nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].mtime > matches[j].mtime })

	var sb strings.Builder
	limit := len(matches)
	if limit > maxGlobMatches {
		limit = maxGlobMatches
	}
	for _, m := range matches[:limit] {
		sb.WriteString(m.path)
		sb.WriteByte('\n')
	}
	if len(matches) > limit {
		fmt.Fprintf(&sb, "... and %d more files\n", len(matches)-limit)
	}
	return sb.String(), nil
}

// GrepTool searches file contents with a regular expression and returns
// match locations with surrounding context, bounded so a broad pattern
// cannot flood the model's context window.
type GrepTool struct {
	sandbox *Sandbox
}

// NewGrepTool creates a grep tool.
func NewGrepTool(sandbox *Sandbox) *GrepTool {
	return &GrepTool{sandbox: sandbox}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regex. Args: pattern (regex), optional path (file or directory), optional context_lines."
}

var grepSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"pattern":       schema.String("Regular expression to search for"),
	"path":          schema.String("File or directory to search, defaults to the working directory"),
	"context_lines": schema.Integer("Lines of context around each match").Min(0),
}, "pattern"))

func (t *GrepTool) Schema() *schema.Schema { return grepSchema }

func (t *GrepTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: bad regex %q: %v", ErrInvalidArgs, pattern, err)
	}
	contextLines := optionalIntArg(args, "context_lines", 0)

	base := t.sandbox.Root()
	if p := optionalStringArg(args, "path"); p != "" {
		base, err = t.sandbox.Resolve(p)
		if err != nil {
			return "", err
		}
	}

	var files []string
	info, err := os.Stat(base)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, base)
	}
	if info.IsDir() {
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == ".git" || t.sandbox.Hidden(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if t.sandbox.Hidden(path) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walking %q: %w", base, err)
		}
	} else {
		files = []string{base}
	}

	var sb strings.Builder
	total := 0
	for _, file := range files {
		if total >= maxGrepMatches {
			break
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := os.ReadFile(file)
		if err != nil || isBinary(data) {
			continue
		}
		rel, relErr := filepath.Rel(t.sandbox.Root(), file)
		if relErr != nil {
			rel = file
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			writeGrepMatch(&sb, rel, lines, i, contextLines)
			total++
			if total >= maxGrepMatches {
				break
			}
		}
	}

	if total == 0 {
		return fmt.Sprintf("No matches for pattern: %s", pattern), nil
	}
	if total >= maxGrepMatches {
		fmt.Fprintf(&sb, "... (limited to %d matches)\n", maxGrepMatches)
	}
	return sb.String(), nil
}

func writeGrepMatch(sb *strings.Builder, file string, lines []string, idx, contextLines int) {
	start := idx - contextLines
	if start < 0 {
		start = 0
	}
	end := idx + contextLines
	if end > len(lines)-1 {
		end = len(lines) - 1
	}
	for i := start; i <= end; i++ {
		sep := "-"
		if i == idx {
			sep = ":"
		}
		fmt.Fprintf(sb, "%s%s%d%s%s\n", file, sep, i+1, sep, lines[i])
	}
	if contextLines > 0 {
		sb.WriteString("--\n")
	}
}

// isBinary applies the classic NUL-byte sniff to the head of the file.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
