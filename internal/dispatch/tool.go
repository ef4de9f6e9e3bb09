package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/user/parley/pkg/llm"
)

// Param describes one parameter in a tool's schema.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool defines the interface for a callable external capability.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds registered tools and provides lookup. Registration happens
// once at startup; after Seal the registry is read-only and safe for
// concurrent access without locking.
type Registry struct {
	tools  map[string]Tool
	order  []string
	sealed atomic.Bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Duplicate names and registration
// after Seal are startup faults.
func (r *Registry) Register(t Tool) error {
	if r.sealed.Load() {
		return fmt.Errorf("register %q: %w", t.Name(), ErrRegistrySealed)
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("register %q: %w", t.Name(), ErrDuplicateTool)
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Seal marks the registry immutable.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// AsLLMTools converts registered tools to the LLM provider format.
func (r *Registry) AsLLMTools() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  paramsSchema(t.Params()),
			},
		})
	}
	return out
}

// paramsSchema renders a JSON Schema object for the tool's parameters.
func paramsSchema(params []Param) json.RawMessage {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}
