// internal/worker/registry.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrMethodNotFound is returned by a Plugin for methods it does not implement.
var ErrMethodNotFound = errors.New("method not found")

// Plugin answers the requests the IDE sends to a worker.
type Plugin interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

func (f PluginFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// Registry holds the plugins a worker binary can host.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under name. Names are unique.
func (r *Registry) Register(name string, p Plugin) error {
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("plugin %s already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Lookup returns the plugin registered under name.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EchoPlugin returns its params unchanged. Useful to check a worker is alive
// end to end.
func EchoPlugin() Plugin {
	return PluginFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		if method != "echo/echo" {
			return nil, ErrMethodNotFound
		}
		if len(params) == 0 {
			return nil, nil
		}
		return params, nil
	})
}
