// Package handlers provides the execution surface for code steps. A code
// step names a handler; the engine resolves it through the Registry, renders
// the step's inputs against the run context, and invokes it.
package handlers

import (
	"context"
	"sort"
	"sync"

	"github.com/okonma/flowrail/pkg/schema"
)

// Handler is an executable unit of work invoked by a code step.
type Handler interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input Input) (*Output, error)
}

// Input is the data provided to a handler at execution time. Params are the
// step's inputs with placeholders already rendered; Variables is a read-only
// snapshot of the run context.
type Input struct {
	Params    map[string]any `json:"params"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Output is the result of a handler execution. Data is bound to the step's
// output name; Variables are merged into the run context directly.
type Output struct {
	Data      any            `json:"data,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Info is a summary of a registered handler for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry is a thread-safe handler lookup table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler to the registry. Returns error on duplicate name.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	name := h.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler %q already registered", name)
	}

	r.handlers[name] = h
	return nil
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "handler %q not registered", name)
	}
	return h, nil
}

// Has checks if a handler is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// List returns info for all registered handlers, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.handlers))
	for _, h := range r.handlers {
		infos = append(infos, Info{Name: h.Name(), Description: h.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
