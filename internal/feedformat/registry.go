package feedformat

import (
	"fmt"
	"sort"
)

// Registry maps feed names and types to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{RSS, Atom, ZDFHeute, ARDTagesschau} {
		r.Register(a.Name, a)
	}
	return r
}

// Register adds or replaces the adapter under key.
func (r *Registry) Register(key string, a Adapter) {
	r.adapters[key] = a
}

// Lookup returns the adapter registered under the feed name, or else
// under the feed type.
func (r *Registry) Lookup(name, typ string) (Adapter, error) {
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	if a, ok := r.adapters[typ]; ok {
		return a, nil
	}
	return Adapter{}, fmt.Errorf("%w: feed %q has type %q", ErrUnknownFormat, name, typ)
}

// Names lists the registered keys.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
