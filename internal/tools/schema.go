package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Property describes one input field.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// InputSchema is the JSON-schema object a tool accepts.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Object builds an object schema from properties and required names.
func Object(props map[string]Property, required ...string) InputSchema {
	if props == nil {
		props = map[string]Property{}
	}
	return InputSchema{Type: "object", Properties: props, Required: required}
}

// Map renders the schema as a generic JSON value for LLM providers.
func (s InputSchema) Map() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func compileSchema(name string, s InputSchema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(s.Map())
	if err != nil {
		return nil, err
	}
	url := "tool://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return c.Compile(url)
}

// validateInput checks input against schema after normalising it through JSON,
// so values built in Go (ints, typed slices) compare like decoded ones.
func validateInput(schema *jsonschema.Schema, input map[string]any) error {
	if input == nil {
		input = map[string]any{}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return schema.Validate(doc)
}
