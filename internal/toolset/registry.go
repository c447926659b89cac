// Package toolset provides the static tool table each tool-set is built from.
package toolset

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler implements one tool against its tool-set's session store.
type Handler func(ctx context.Context, args Args) (any, error)

// Tool is a registry entry.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Descriptor is the wire shape of a tool in tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry maps tool names to handlers, keeping definition order.
type Registry struct {
	tools []Tool
	index map[string]int
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// NewRegistry builds a registry. Names must be unique and non-empty.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make([]Tool, 0, len(tools)),
		index: make(map[string]int, len(tools)),
	}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool name cannot be empty")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := r.index[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		if len(t.InputSchema) == 0 {
			t.InputSchema = emptySchema
		} else if !json.Valid(t.InputSchema) {
			return nil, fmt.Errorf("tool %q has an invalid input schema", t.Name)
		}
		r.index[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables; it panics on error.
func MustRegistry(tools ...Tool) *Registry {
	r, err := NewRegistry(tools...)
	if err != nil {
		panic("toolset: " + err.Error())
	}
	return r
}

// Describe returns the tool descriptors in definition order.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out
}

// Resolve looks up a handler by tool name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.tools[i].Handler, true
}

// Names returns the tool names in definition order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.Name
	}
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
