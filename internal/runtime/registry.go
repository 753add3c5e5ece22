package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/strand/pkg/models"
)

const (
	// MaxToolNameLength bounds tool names.
	MaxToolNameLength = 256

	// MaxToolParamsSize bounds a tool's parameter schema document.
	MaxToolParamsSize = 1 << 20
)

// Handler executes a tool invocation. Input is the argument document,
// already validated against the tool's schema. A returned error marks the
// result as failed; it never propagates past the executor.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

type registration struct {
	schema   models.ToolSchema
	handler  Handler
	compiled *jsonschema.Schema
}

// Registry maps tool names to schemas and handlers. Tools are registered
// at startup; lookups are safe for concurrent use. Both invocation
// surfaces resolve through the same table, so a tool behaves identically
// however the model addressed it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// Register adds a tool. Duplicate names and schemas that do not compile
// are rejected so misconfiguration surfaces at startup, not mid-run.
func (r *Registry) Register(schema models.ToolSchema, handler Handler) error {
	if schema.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(schema.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds %d characters", MaxToolNameLength)
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", schema.Name)
	}
	if len(schema.Parameters) > MaxToolParamsSize {
		return fmt.Errorf("tool %q parameter schema exceeds %d bytes", schema.Name, MaxToolParamsSize)
	}

	var compiled *jsonschema.Schema
	if len(schema.Parameters) > 0 {
		var err error
		compiled, err = jsonschema.CompileString(schema.Name+".json", string(schema.Parameters))
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", schema.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[schema.Name]; exists {
		return &DuplicateToolError{Name: schema.Name}
	}
	r.tools[schema.Name] = &registration{schema: schema, handler: handler, compiled: compiled}
	r.order = append(r.order, schema.Name)
	return nil
}

// Resolve returns the handler and schema registered under name.
func (r *Registry) Resolve(name string) (Handler, models.ToolSchema, error) {
	reg, err := r.lookup(name)
	if err != nil {
		return nil, models.ToolSchema{}, err
	}
	return reg.handler, reg.schema, nil
}

func (r *Registry) lookup(name string) (*registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return reg, nil
}

// Schemas returns every registered schema in registration order. The
// slice is a copy; callers may hold it across requests.
func (r *Registry) Schemas() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].schema)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
