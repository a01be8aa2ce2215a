package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/croftlabs/croft/config"
)

// Sandbox confines file-tool paths to a working-directory root. Containment
// is checked after symlink resolution, so a link pointing outside the root
// cannot be used as an escape hatch. On top of containment, configured
// doublestar patterns can hide paths entirely or mark them read-only.
type Sandbox struct {
	root     string
	hidden   []string
	readOnly []string
}

// NewSandbox resolves the root and builds a sandbox over it.
func NewSandbox(root string, access config.FilesystemAccess) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root %q: %w", root, err)
	}
	return &Sandbox{
		root:     resolved,
		hidden:   access.Hidden,
		readOnly: access.ReadOnly,
	}, nil
}

// Root returns the absolute, symlink-resolved sandbox root.
func (s *Sandbox) Root() string { return s.root }

// Resolve turns a tool-supplied path into an absolute path and verifies it
// stays inside the root. The path itself need not exist; its nearest
// existing ancestor is symlink-resolved so a dangling target still gets a
// meaningful containment check.
func (s *Sandbox) Resolve(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolveExistingPrefix(p)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	if !s.contains(resolved) {
		return "", fmt.Errorf("%w: %q resolves outside %q", ErrPathEscape, path, s.root)
	}
	if s.matchesAny(resolved, s.hidden) {
		return "", fmt.Errorf("%w: %q", ErrHidden, path)
	}
	return resolved, nil
}

// ResolveForWrite is Resolve plus the read-only pattern check.
func (s *Sandbox) ResolveForWrite(path string) (string, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return "", err
	}
	if s.matchesAny(resolved, s.readOnly) {
		return "", fmt.Errorf("%w: %q", ErrReadOnly, path)
	}
	return resolved, nil
}

// Hidden reports whether a resolved path matches a hidden pattern. Tools
// that enumerate the tree themselves use it to filter what they find;
// paths arriving through Resolve are already checked.
func (s *Sandbox) Hidden(path string) bool {
	return s.matchesAny(path, s.hidden)
}

func (s *Sandbox) contains(p string) bool {
	if p == s.root {
		return true
	}
	return strings.HasPrefix(p, s.root+string(filepath.Separator))
}

// matchesAny checks the path, relative to the root, against doublestar
// patterns.
func (s *Sandbox) matchesAny(p string, patterns []string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// resolveExistingPrefix symlink-resolves the longest existing ancestor of p
// and rejoins the non-existing tail onto it.
func resolveExistingPrefix(p string) (string, error) {
	existing := p
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{resolved}, tail...)...), nil
}
