package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectBuilder(t *testing.T) {
	raw := Object(map[string]*Property{
		"path":  String("file path"),
		"limit": Integer("max lines").Min(1).Default(100),
		"force": Boolean("overwrite"),
	}, "path")

	assert.Equal(t, "object", raw["type"])
	assert.Equal(t, []string{"path"}, raw["required"])

	props := raw["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "integer", limit["type"])
	assert.Equal(t, 1.0, limit["minimum"])
	assert.Equal(t, 100, limit["default"])
}

func TestValidateAcceptsMatchingArgs(t *testing.T) {
	s := MustCompile(Object(map[string]*Property{
		"path":  String(""),
		"limit": Integer("").Min(1),
	}, "path"))

	assert.NoError(t, s.Validate(map[string]any{"path": "a.go"}))
	// Native ints are normalized before validation.
	assert.NoError(t, s.Validate(map[string]any{"path": "a.go", "limit": 5}))
	assert.NoError(t, s.Validate(map[string]any{"path": "a.go", "limit": 5.0}))
}

func TestValidateRejectsBadArgs(t *testing.T) {
	s := MustCompile(Object(map[string]*Property{
		"path":  String(""),
		"limit": Integer("").Min(1),
	}, "path"))

	assert.Error(t, s.Validate(map[string]any{}), "missing required")
	assert.Error(t, s.Validate(map[string]any{"path": 42}), "wrong type")
	assert.Error(t, s.Validate(map[string]any{"path": "a.go", "limit": 0}), "below minimum")
}

func TestNilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	assert.NoError(t, s.Validate(map[string]any{"whatever": true}))
	assert.Nil(t, s.Raw())
}

func TestCompileRejectsMalformedSchema(t *testing.T) {
	_, err := Compile(map[string]any{"type": 12345})
	require.Error(t, err)
}
