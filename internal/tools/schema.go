package tools

import (
	"fmt"
	"math"
	"strings"
)

// Kind is the JSON type of a tool argument.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Field describes one named argument.
type Field struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema is the ordered argument list of a tool.
type Schema []Field

// Required returns the names of required fields in declaration order.
func (s Schema) Required() []string {
	var out []string
	for _, f := range s {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Optional returns the names of optional fields in declaration order.
func (s Schema) Optional() []string {
	var out []string
	for _, f := range s {
		if !f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Validate checks args against the schema. Unknown keys are ignored.
func (s Schema) Validate(args map[string]any) error {
	for _, f := range s {
		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if !f.Kind.matches(v) {
			return fmt.Errorf("field %q must be %s, got %s", f.Name, f.Kind, jsonKind(v))
		}
		if len(f.Enum) > 0 {
			str, _ := v.(string)
			if !contains(f.Enum, str) {
				return fmt.Errorf("field %q must be one of [%s]", f.Name, strings.Join(f.Enum, ", "))
			}
		}
	}
	return nil
}

func (k Kind) matches(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case KindInteger:
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		}
		return false
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// OpenAIParameters renders a schema as the JSON-schema object used in
// function-calling tool declarations.
func OpenAIParameters(s Schema) map[string]any {
	props := make(map[string]any, len(s))
	for _, f := range s {
		p := map[string]any{"type": string(f.Kind)}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			p["enum"] = append([]string(nil), f.Enum...)
		}
		if f.Kind == KindArray {
			p["items"] = map[string]any{}
		}
		props[f.Name] = p
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := s.Required(); len(req) > 0 {
		out["required"] = req
	} else {
		out["required"] = []string{}
	}
	return out
}
