// Package plugins defines the plugin contract consumed by plugin-type steps
// and a registry populated at startup. There is no runtime code loading:
// every plugin is a Go value registered explicitly before the first run.
package plugins

import (
	"context"
	"sort"
	"sync"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// Plugin is an external action provider invoked by plugin-type steps.
// Execute returns a result map; a map carrying an "error" key signals
// failure, matching the handler result convention. Implementations must honor
// mock mode by returning canned results without side effects.
type Plugin interface {
	Name() string
	Description() string
	Execute(ctx context.Context, action string, config map[string]any, mode schema.RunMode) map[string]any
	AvailableActions() map[string]string
}

// Info is a summary of a registered plugin for listing.
type Info struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Actions     map[string]string `json:"actions,omitempty"`
}

// Registry is a thread-safe, read-mostly plugin lookup table.
// Runs treat it as read-only shared state.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin to the registry. Returns error on duplicate name.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "plugin is nil")
	}
	name := p.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "plugin name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not registered", name)
	}
	return p, nil
}

// Has checks if a plugin is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// List returns info for all registered plugins, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, Info{
			Name:        p.Name(),
			Description: p.Description(),
			Actions:     p.AvailableActions(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
