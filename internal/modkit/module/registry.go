package module

import (
	"reflect"
	"sync"

	perr "cardbatch/internal/platform/errors"
)

// Registry holds the modules composed for one run
type Registry struct {
	mu   sync.RWMutex
	mods map[string]Module
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry { return &Registry{mods: map[string]Module{}} }

// Add registers m under its name. Names are unique per registry
func (r *Registry) Add(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.mods[m.Name()]; dup {
		return perr.Newf(perr.ErrorCodeConfiguration, "module %q registered twice", m.Name())
	}
	r.mods[m.Name()] = m
	return nil
}

// Names lists registered module names in no particular order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.mods))
	for n := range r.mods {
		out = append(out, n)
	}
	return out
}

// Resolve finds the module registered as name and pulls T out of its ports
func Resolve[T any](r *Registry, name string) (T, error) {
	var zero T
	r.mu.RLock()
	m, ok := r.mods[name]
	r.mu.RUnlock()
	if !ok {
		return zero, perr.Newf(perr.ErrorCodeConfiguration, "module %q is not available", name)
	}
	v, ok := PortsOf[T](m)
	if !ok {
		return zero, perr.Newf(perr.ErrorCodeConfiguration, "module %q exposes no %s", name, reflect.TypeFor[T]())
	}
	return v, nil
}
