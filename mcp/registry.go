package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolHandler executes one tool call. params has already passed schema
// validation.
type ToolHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Tool is one registered MCP tool: a JSON-schema-described function.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
	Handler     ToolHandler    `json:"-"`
}

// Registry holds the tool set. It is populated during server construction
// and immutable afterwards.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool; duplicate names are a programming error.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tool %s registered twice", t.Name))
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns tool descriptors in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

// objectSchema is shorthand for building a tool input schema.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return map[string]any{"type": "string", "description": desc, "enum": vals}
}

// validateParams checks params against the tool's input schema: required
// keys, primitive types, and enums. A schema violation fails the call with
// CodeInvalidParams before the handler runs.
func validateParams(schema map[string]any, params json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var obj map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &obj); err != nil {
			return &RPCError{Code: CodeInvalidParams,
				Message: fmt.Sprintf("params must be an object: %v", err),
				Data:    &ErrorData{Kind: "validation"}}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := obj[key]; !present {
				return &RPCError{Code: CodeInvalidParams,
					Message: fmt.Sprintf("missing required parameter %q", key),
					Data:    &ErrorData{Kind: "validation"}}
			}
		}
	}
	properties, _ := schema["properties"].(map[string]any)
	for key, value := range obj {
		spec, known := properties[key].(map[string]any)
		if !known {
			return &RPCError{Code: CodeInvalidParams,
				Message: fmt.Sprintf("unknown parameter %q", key),
				Data:    &ErrorData{Kind: "validation"}}
		}
		if err := checkType(key, spec, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, spec map[string]any, value any) error {
	typ, _ := spec["type"].(string)
	if value == nil {
		return nil
	}
	bad := func() error {
		return &RPCError{Code: CodeInvalidParams,
			Message: fmt.Sprintf("parameter %q must be a %s", key, typ),
			Data:    &ErrorData{Kind: "validation"}}
	}
	switch typ {
	case "string":
		s, ok := value.(string)
		if !ok {
			return bad()
		}
		if enum, hasEnum := spec["enum"].([]any); hasEnum {
			for _, e := range enum {
				if e == s {
					return nil
				}
			}
			return &RPCError{Code: CodeInvalidParams,
				Message: fmt.Sprintf("parameter %q must be one of %v", key, enum),
				Data:    &ErrorData{Kind: "validation"}}
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return bad()
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return bad()
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return bad()
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return bad()
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return bad()
		}
	}
	return nil
}
