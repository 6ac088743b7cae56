package tool

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds the tools available to an agent. Registration validates
// the definition and compiles its argument schema, so malformed tools are
// configuration errors surfaced up front rather than mid-run. Duplicate
// names are rejected: the first registration wins and later ones error.
//
// Lookup order is by name; Definitions preserves registration order so the
// tool block rendered into prompts stays byte-stable across runs.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. It returns an error for empty names or
// descriptions, mismatched definition names, duplicates, and schemas that
// fail to compile.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", def.Name)
	}
	if t.Name() != def.Name {
		return fmt.Errorf("tool name %q does not match definition name %q", t.Name(), def.Name)
	}

	var schema *gojsonschema.Schema
	if len(def.Schema) > 0 {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.Schema))
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.order = append(r.order, def.Name)
	r.tools[def.Name] = t
	r.schemas[def.Name] = schema

	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// ValidateArguments checks a parsed argument object against the tool's
// compiled schema. Tools registered without a schema accept anything.
func (r *Registry) ValidateArguments(name string, args map[string]interface{}) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()

	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}
