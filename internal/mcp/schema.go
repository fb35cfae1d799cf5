// ABOUTME: Minimal JSON-schema-shaped argument validation for tool calls.
// ABOUTME: Supports object type, per-property types, enums and required fields.

package mcp

import (
	"encoding/json"
	"fmt"
)

// Schema describes the accepted argument shape for one tool. It covers the
// subset of JSON Schema the services actually declare: a top-level object
// with typed properties, string enums and required fields. Unknown argument
// keys are accepted, matching JSON Schema's default.
type Schema struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties,omitempty"`
	Required   []string             `json:"required,omitempty"`
}

// Property describes a single argument.
type Property struct {
	Type  string    `json:"type"`
	Enum  []string  `json:"enum,omitempty"`
	Items *Property `json:"items,omitempty"`
}

// MustSchema parses a JSON schema literal, panicking on malformed input.
// Intended for the static registration tables built at startup.
func MustSchema(raw string) *Schema {
	s, err := ParseSchema(raw)
	if err != nil {
		panic(fmt.Sprintf("invalid tool schema: %v", err))
	}
	return s
}

// ParseSchema parses a JSON schema declaration.
func ParseSchema(raw string) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if s.Type != "" && s.Type != "object" {
		return nil, fmt.Errorf("unsupported top-level schema type %q", s.Type)
	}
	return &s, nil
}

// Validate checks an argument map against the schema, returning a
// *ValidationError describing the first violation found.
func (s *Schema) Validate(args map[string]any) error {
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return &ValidationError{Field: name, Reason: "required argument missing"}
		}
	}
	for name, value := range args {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		if err := prop.validate(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Property) validate(name string, value any) error {
	if value == nil {
		return &ValidationError{Field: name, Reason: "must not be null"}
	}

	switch p.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return &ValidationError{Field: name, Reason: "must be a string"}
		}
		if len(p.Enum) > 0 && !contains(p.Enum, str) {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("must be one of %v", p.Enum)}
		}
	case "integer":
		// JSON numbers decode as float64; accept whole-valued floats and
		// native ints supplied by in-process callers.
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return &ValidationError{Field: name, Reason: "must be an integer"}
			}
		case int, int32, int64:
		default:
			return &ValidationError{Field: name, Reason: "must be an integer"}
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return &ValidationError{Field: name, Reason: "must be a number"}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return &ValidationError{Field: name, Reason: "must be a boolean"}
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return &ValidationError{Field: name, Reason: "must be an array"}
		}
		if p.Items != nil {
			for i, item := range items {
				if err := p.Items.validate(fmt.Sprintf("%s[%d]", name, i), item); err != nil {
					return err
				}
			}
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return &ValidationError{Field: name, Reason: "must be an object"}
		}
	case "":
		// Untyped property: anything goes.
	default:
		return &ValidationError{Field: name, Reason: fmt.Sprintf("unknown schema type %q", p.Type)}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
