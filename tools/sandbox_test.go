package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croftlabs/croft/config"
)

func newTestSandbox(t *testing.T, access config.FilesystemAccess) *Sandbox {
	t.Helper()
	s, err := NewSandbox(t.TempDir(), access)
	require.NoError(t, err)
	return s
}

func TestResolveRelativePathStaysInside(t *testing.T) {
	s := newTestSandbox(t, config.FilesystemAccess{})
	p, err := s.Resolve("sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "sub", "file.txt"), p)
}

func TestResolveRejectsDotDotEscape(t *testing.T) {
	s := newTestSandbox(t, config.FilesystemAccess{})
	for _, path := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"sub/../../outside.txt",
	} {
		_, err := s.Resolve(path)
		assert.ErrorIs(t, err, ErrPathEscape, "path %q", path)
	}
}

func TestResolveRejectsAbsoluteOutside(t *testing.T) {
	s := newTestSandbox(t, config.FilesystemAccess{})
	_, err := s.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	s, err := NewSandbox(root, config.FilesystemAccess{})
	require.NoError(t, err)

	// A symlink inside the root pointing outside must not be followed out.
	_, err = s.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestResolveSymlinkEscapeForNonexistentTarget(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	s, err := NewSandbox(root, config.FilesystemAccess{})
	require.NoError(t, err)

	// The target does not exist yet; the existing ancestor (the symlink)
	// still resolves outside.
	_, err = s.ResolveForWrite("link/new-file.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestHiddenPatterns(t *testing.T) {
	s := newTestSandbox(t, config.FilesystemAccess{
		Hidden: []string{".croft", ".croft/**", "**/*.pem"},
	})

	_, err := s.Resolve(".croft/sessions/x.jsonl")
	assert.ErrorIs(t, err, ErrHidden)

	_, err = s.Resolve("certs/server.pem")
	assert.ErrorIs(t, err, ErrHidden)

	_, err = s.Resolve("visible.txt")
	assert.NoError(t, err)
}

func TestReadOnlyPatternsOnlyBlockWrites(t *testing.T) {
	s := newTestSandbox(t, config.FilesystemAccess{
		ReadOnly: []string{"vendor/**"},
	})

	_, err := s.Resolve("vendor/lib/code.go")
	assert.NoError(t, err)

	_, err = s.ResolveForWrite("vendor/lib/code.go")
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = s.ResolveForWrite("main.go")
	assert.NoError(t, err)
}
