// Package tools defines the capabilities the model may invoke and the
// registry that resolves, validates, and executes them. Tool failures are
// data, not control flow: every failure becomes an error-bearing Result that
// is fed back to the model so it can try a different approach.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/croftlabs/croft/schema"
)

// Error kinds surfaced in tool results. The model sees the text; callers and
// tests match with errors.Is.
var (
	ErrDuplicateTool     = errors.New("tool already registered")
	ErrToolNotFound      = errors.New("tool not found")
	ErrInvalidArgs       = errors.New("invalid tool arguments")
	ErrPathEscape        = errors.New("path escapes working directory")
	ErrHidden            = errors.New("path is hidden")
	ErrReadOnly          = errors.New("path is read-only")
	ErrNotFound          = errors.New("file not found")
	ErrTooLarge          = errors.New("file too large")
	ErrNoMatch           = errors.New("old_string not found")
	ErrAmbiguousMatch    = errors.New("old_string matches more than once")
	ErrTimedOut          = errors.New("command timed out")
	ErrCommandNotAllowed = errors.New("command not allowed")
)

// Tool is a named, schema-described capability.
type Tool interface {
	Name() string
	Description() string
	Schema() *schema.Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Schema is the provider-facing description of one tool.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is the outcome of one tool invocation. When IsError is set, Output
// holds diagnostic text for the model.
type Result struct {
	Output  string
	IsError bool
}

func errorResult(err error) Result {
	return Result{Output: err.Error(), IsError: true}
}

// Registry holds the tools available to one agent. Registration order is
// preserved because some providers are sensitive to tool-list ordering.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its declared name. Registering the same name
// twice fails; silent overwrite would change the model's schema view without
// anyone noticing.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return t, nil
}

// Len reports the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Schemas returns the provider-facing tool list in registration order.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Schema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema().Raw(),
		})
	}
	return out
}

// Execute resolves, validates, and runs one tool call. It never returns an
// error: unknown tools, bad arguments, and execution failures all come back
// as error results so the agent turn survives and the model can
// self-correct. Output is capped before it re-enters the model's context.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	t, err := r.Get(name)
	if err != nil {
		return errorResult(err)
	}
	if err := t.Schema().Validate(args); err != nil {
		return errorResult(fmt.Errorf("%w for %q: %v", ErrInvalidArgs, name, err))
	}
	output, err := t.Execute(ctx, args)
	if err != nil {
		return errorResult(err)
	}
	return Result{Output: truncateOutput(name, output)}
}

// argument extraction helpers shared by the built-in tools

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidArgs, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidArgs, key)
	}
	return s, nil
}

func optionalStringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// optionalIntArg accepts float64 (JSON numbers) and int (scripted calls).
func optionalIntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
