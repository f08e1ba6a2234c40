package handlers

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"cmtools/internal/services"
)

// UnknownHandlerError reports a class_name with no registered factory.
type UnknownHandlerError struct {
	Name string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("unknown handler %q", e.Name)
}

func (e *UnknownHandlerError) Unwrap() error {
	return services.ErrUnknownHandler
}

// Registry maps class names to handler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry returns a registry holding the built-in handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, factory := range builtins() {
		r.factories[name] = factory
	}
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return fmt.Errorf("register handler: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register handler: %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names lists registered class names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// New constructs the handler registered under name.
func (r *Registry) New(name string, env Env) (LevelHandler, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownHandlerError{Name: name}
	}
	return factory(env), nil
}
