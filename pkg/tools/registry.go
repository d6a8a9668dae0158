// Package tools declares the catalog of callable operations: name, schema,
// classification, and handler. Executors register their tools at startup;
// the execution engine routes calls through the registry without knowing
// any executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/atlasops/atlas/pkg/agent"
)

// Classification separates observation-only tools from ones that mutate
// external state or spawn processes.
type Classification string

const (
	ClassSafe      Classification = "safe"
	ClassDangerous Classification = "dangerous"
)

// Handler executes one tool call with already-validated parameters and
// returns a JSON-serializable payload.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// ToolSpec is the static declaration of one catalog entry.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Class       Classification  `json:"class"`
	Schema      json.RawMessage `json:"schema"`

	// Timeout overrides the engine's per-call default when non-zero.
	// Process-spawning tools declare a longer budget.
	Timeout time.Duration `json:"-"`
}

// Tool is a registered catalog entry with its compiled schema and handler.
type Tool struct {
	Spec     ToolSpec
	Handler  Handler
	compiled *jsonschema.Schema
}

// ValidateParams checks the raw parameter object against the tool's schema.
// A nil/empty object is validated as {} so optional-only tools accept
// omitted params. Violations come back as agent.BadParamsError with the
// schema failure detail the LLM needs to correct itself.
func (t *Tool) ValidateParams(params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var instance any
	if err := json.Unmarshal(params, &instance); err != nil {
		return &agent.BadParamsError{Detail: fmt.Sprintf("parameters are not valid JSON: %v", err)}
	}
	if err := t.compiled.Validate(instance); err != nil {
		return &agent.BadParamsError{Detail: err.Error()}
	}
	return nil
}

// Registry maps tool names to their specs and handlers. Registration
// happens during startup wiring; lookups afterwards are read-only, so no
// locking is needed.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty catalog.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the spec's schema and adds the tool to the catalog.
// Duplicate names and invalid schemas are wiring bugs and fail loudly.
func (r *Registry) Register(spec ToolSpec, handler Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec has no name")
	}
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", spec.Name)
	}
	if spec.Class != ClassSafe && spec.Class != ClassDangerous {
		return fmt.Errorf("tool %q has unknown class %q", spec.Name, spec.Class)
	}

	compiled, err := compileSchema(spec.Name, spec.Schema)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", spec.Name, err)
	}

	r.tools[spec.Name] = &Tool{Spec: spec, Handler: handler, compiled: compiled}
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the registered tool, or false on a catalog miss.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all specs in registration order.
func (r *Registry) List() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Definitions renders the catalog as LLM tool schemas, in registration
// order.
func (r *Registry) Definitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].Spec
		defs = append(defs, agent.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Schema:      spec.Schema,
		})
	}
	return defs
}

// Len reports the catalog size.
func (r *Registry) Len() int { return len(r.order) }

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resource)
}
