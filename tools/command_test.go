package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croftlabs/croft/config"
)

func bashFixture(t *testing.T, timeout time.Duration, allowed []string) *BashTool {
	t.Helper()
	s, err := NewSandbox(t.TempDir(), config.FilesystemAccess{})
	require.NoError(t, err)
	return NewBashTool(s, timeout, allowed)
}

func TestBashRunsInWorkingDirectory(t *testing.T) {
	b := bashFixture(t, 0, nil)
	out, err := b.Execute(context.Background(), map[string]any{"command": "pwd"})
	require.NoError(t, err)
	assert.Equal(t, b.sandbox.Root(), strings.TrimSpace(out))
}

func TestBashCapturesStdoutAndStderr(t *testing.T) {
	b := bashFixture(t, 0, nil)
	out, err := b.Execute(context.Background(), map[string]any{
		"command": "echo to-stdout; echo to-stderr 1>&2",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "to-stdout")
	assert.Contains(t, out, "stderr:\nto-stderr")
}

func TestBashSupportsShellFeatures(t *testing.T) {
	b := bashFixture(t, 0, nil)
	out, err := b.Execute(context.Background(), map[string]any{
		"command": "printf 'a\\nb\\nc\\n' | wc -l",
	})
	require.NoError(t, err)
	assert.Equal(t, "3", strings.TrimSpace(out))
}

func TestBashNonZeroExitSurfacesCodeAndOutput(t *testing.T) {
	b := bashFixture(t, 0, nil)
	_, err := b.Execute(context.Background(), map[string]any{
		"command": "echo diagnostics; exit 3",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "diagnostics")
}

func TestBashTimeoutKillsCommand(t *testing.T) {
	b := bashFixture(t, 0, nil)
	start := time.Now()
	_, err := b.Execute(context.Background(), map[string]any{
		"command": "sleep 30", "timeout": 1,
	})
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBashEmptyOutput(t *testing.T) {
	b := bashFixture(t, 0, nil)
	out, err := b.Execute(context.Background(), map[string]any{"command": "true"})
	require.NoError(t, err)
	assert.Equal(t, "(no output)", out)
}

func TestBashAllowlist(t *testing.T) {
	b := bashFixture(t, 0, []string{`^echo `, `^ls( |$)`})

	out, err := b.Execute(context.Background(), map[string]any{"command": "echo fine"})
	require.NoError(t, err)
	assert.Contains(t, out, "fine")

	_, err = b.Execute(context.Background(), map[string]any{"command": "rm -rf /"})
	assert.ErrorIs(t, err, ErrCommandNotAllowed)
}

func TestCommandAllowedLiteralFallback(t *testing.T) {
	// An invalid regex is compared literally instead of being dropped.
	assert.True(t, commandAllowed("make [", []string{"make ["}))
	assert.False(t, commandAllowed("make build", []string{"make ["}))
}
