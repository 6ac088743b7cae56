// Package tool defines the tool capability surface: the Tool interface,
// declarative definitions, the execution result type, and a registry with
// schema validation at registration time.
package tool

import (
	"context"
	"encoding/json"
)

// Definition describes a tool to the model: name, human-readable
// description, and a JSON Schema for its arguments.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters,omitempty"`
}

// Tool is a capability the model can invoke. Execute receives the parsed
// argument object and returns the tool's output; any returned error is
// captured into a Result by the dispatching agent, never propagated
// directly to callers.
type Tool interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	def Definition
	fn  func(ctx context.Context, args map[string]interface{}) (string, error)
}

// NewFunc builds a Tool from a definition and a handler function.
func NewFunc(def Definition, fn func(ctx context.Context, args map[string]interface{}) (string, error)) *Func {
	return &Func{def: def, fn: fn}
}

// Name returns the tool name.
func (f *Func) Name() string { return f.def.Name }

// Definition returns the declarative tool definition.
func (f *Func) Definition() Definition { return f.def }

// Execute runs the handler.
func (f *Func) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return f.fn(ctx, args)
}

// ObjectSchema builds a JSON Schema for an object with the given properties
// and required names. Property values are schema fragments, e.g.
// StringProp("what to compute").
func ObjectSchema(properties map[string]interface{}, required ...string) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}

// StringProp builds a string property schema fragment.
func StringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

// NumberProp builds a number property schema fragment.
func NumberProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": description}
}

// IntegerProp builds an integer property schema fragment.
func IntegerProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

// BoolProp builds a boolean property schema fragment.
func BoolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}
