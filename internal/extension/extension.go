// Package extension is a small typed plugin registry.
//
// Components declare a Point for the interface they accept and read the
// registered implementations in registration order. Registration is explicit;
// nothing is discovered through init side effects.
package extension

import (
	"fmt"
	"sync"
)

// Point identifies an extension point accepting implementations of T.
type Point[T any] struct {
	name string
}

// NewPoint declares an extension point. Names must be unique per registry.
func NewPoint[T any](name string) Point[T] {
	return Point[T]{name: name}
}

// Name returns the point's name.
func (p Point[T]) Name() string { return p.name }

// Registry stores implementations per extension point.
type Registry struct {
	mu    sync.RWMutex
	impls map[string][]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string][]any)}
}

// Register adds impl to point p.
func Register[T any](r *Registry, p Point[T], impl T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[p.name] = append(r.impls[p.name], impl)
}

// Extensions returns the implementations registered for p, in registration
// order. A nil registry has no extensions.
func Extensions[T any](r *Registry, p Point[T]) []T {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw := r.impls[p.name]
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		impl, ok := v.(T)
		if !ok {
			panic(fmt.Sprintf("extension: %s holds %T", p.name, v))
		}
		out = append(out, impl)
	}
	return out
}
