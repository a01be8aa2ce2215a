package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croftlabs/croft/config"
	"github.com/croftlabs/croft/schema"
)

// fakeTool is a minimal Tool for registry tests.
type fakeTool struct {
	name   string
	schema *schema.Schema
	output string
	err    error
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake" }
func (f *fakeTool) Schema() *schema.Schema { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.output, f.err
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "one"}))
	err := r.Register(&fakeTool{name: "one"})
	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySchemasKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(&fakeTool{name: name}))
	}
	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "zeta", schemas[0].Name)
	assert.Equal(t, "alpha", schemas[1].Name)
	assert.Equal(t, "mid", schemas[2].Name)
}

func TestRegistryExecuteUnknownToolIsErrorResult(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "ghost", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "tool not found")
}

func TestRegistryExecuteValidatesArgs(t *testing.T) {
	sch := schema.MustCompile(schema.Object(map[string]*schema.Property{
		"path": schema.String("a path"),
	}, "path"))
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "strict", schema: sch, output: "ran"}))

	// Missing required arg fails validation before the tool runs.
	res := r.Execute(context.Background(), "strict", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "invalid tool arguments")

	// Valid args run.
	res = r.Execute(context.Background(), "strict", map[string]any{"path": "x"})
	assert.False(t, res.IsError)
	assert.Equal(t, "ran", res.Output)
}

func TestRegistryExecuteToolFailureIsErrorResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "broken", err: errors.New("disk on fire")}))
	res := r.Execute(context.Background(), "broken", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Output, "disk on fire")
}

func TestTruncateOutputHeadTail(t *testing.T) {
	long := strings.Repeat("a", 60000) + "TAIL"
	out := truncateOutput("read", long)
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "output truncated")
	assert.True(t, strings.HasSuffix(out, "TAIL"), "tail must survive head-tail truncation")
	assert.True(t, strings.HasPrefix(out, "aaaa"), "head must survive head-tail truncation")
}

func TestTruncateOutputTailTrim(t *testing.T) {
	long := "HEAD" + strings.Repeat("b", 30000)
	out := truncateOutput("grep", long)
	assert.Less(t, len(out), len(long))
	assert.True(t, strings.HasPrefix(out, "HEAD"))
	assert.Contains(t, out, "trailing characters removed")
}

func TestTruncateOutputShortUntouched(t *testing.T) {
	assert.Equal(t, "short", truncateOutput("bash", "short"))
	assert.Equal(t, "short", truncateOutput("unlisted", "short"))
}

func TestNewDefaultRegistry(t *testing.T) {
	cfg := &config.Config{WorkingDir: t.TempDir()}
	r, err := NewDefaultRegistry(cfg)
	require.NoError(t, err)

	names := []string{}
	for _, s := range r.Schemas() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"read", "write", "edit", "bash", "glob", "grep"}, names)
}
