// Package schema builds and validates the JSON Schemas that describe tool
// parameters. The raw map form is what the llm adapters serialize into each
// vendor's tool-calling format; the compiled form validates model-supplied
// arguments before a tool ever runs.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema pairs the raw map representation of a JSON Schema with its compiled
// validator.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// Raw returns the map form, suitable for serialization into a provider
// request.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate checks model-supplied arguments against the schema. A nil schema
// accepts anything.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	// The validator wants values as they come out of json.Unmarshal. Args
	// assembled elsewhere (tests, scripted clients) may hold native ints, so
	// round-trip through JSON first.
	normalized, err := normalize(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.compiled.Validate(normalized); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func normalize(args map[string]any) (any, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// Compile builds a Schema from its raw map form.
func Compile(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustCompile is Compile for schemas defined at init time; it panics on a
// malformed schema.
func MustCompile(raw map[string]any) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Object assembles an object schema. Property names passed as trailing
// arguments become required.
func Object(properties map[string]*Property, required ...string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		props[name] = p.build()
	}
	raw := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		raw["required"] = required
	}
	return raw
}

// Property is one named field of an object schema.
type Property struct {
	typ         string
	description string
	minimum     *float64
	def         any
}

func (p *Property) build() map[string]any {
	m := map[string]any{"type": p.typ}
	if p.description != "" {
		m["description"] = p.description
	}
	if p.minimum != nil {
		m["minimum"] = *p.minimum
	}
	if p.def != nil {
		m["default"] = p.def
	}
	return m
}

// String declares a string property.
func String(description string) *Property {
	return &Property{typ: "string", description: description}
}

// Integer declares an integer property.
func Integer(description string) *Property {
	return &Property{typ: "integer", description: description}
}

// Boolean declares a boolean property.
func Boolean(description string) *Property {
	return &Property{typ: "boolean", description: description}
}

// Min sets the minimum for a numeric property.
func (p *Property) Min(v float64) *Property {
	p.minimum = &v
	return p
}

// Default records the property's default value.
func (p *Property) Default(v any) *Property {
	p.def = v
	return p
}
