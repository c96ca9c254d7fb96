// Package stream holds the registry of named streams and the type-distance
// resolution that finds which stream owns a given model type.
//
// A Registry is built once at wiring time and never mutated afterwards, so
// it can be shared by concurrent encode/decode calls without locking.
package stream

import (
	"context"
	"fmt"
	"sort"

	"github.com/artpar/hyperchannels/domain/model"
)

// ObjectResolver turns a validated action and its lookup parameters into a
// concrete object. Implementations are supplied per stream by the component
// that owns the stream's storage.
type ObjectResolver interface {
	ResolveObject(ctx context.Context, action string, params map[string]any) (any, error)
}

// ResolverFunc adapts a function to ObjectResolver.
type ResolverFunc func(ctx context.Context, action string, params map[string]any) (any, error)

// ResolveObject calls f.
func (f ResolverFunc) ResolveObject(ctx context.Context, action string, params map[string]any) (any, error) {
	return f(ctx, action, params)
}

// ActionSet is the set of actions a stream accepts.
type ActionSet map[string]struct{}

// NewActionSet builds a set from action names.
func NewActionSet(actions ...string) ActionSet {
	s := make(ActionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// Has reports whether action is allowed.
func (s ActionSet) Has(action string) bool {
	_, ok := s[action]
	return ok
}

// List returns the actions sorted by name.
func (s ActionSet) List() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Descriptor describes one registered stream.
type Descriptor struct {
	// Name is the stream name used in references.
	Name string

	// OwnedType is the model type served by the stream.
	// Empty means the stream takes no part in type-based resolution.
	OwnedType model.TypeID

	// Actions are the actions accepted on decode.
	Actions ActionSet

	// Resolver resolves decoded references. May be nil for encode-only streams.
	Resolver ObjectResolver
}

// Registry is an ordered, read-only mapping of stream name to descriptor.
type Registry struct {
	entries []Descriptor
	index   map[string]int
}

// NewRegistry builds a registry. Registration order is preserved and used
// as the tie-break during type resolution.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		entries: make([]Descriptor, 0, len(descs)),
		index:   make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("stream name cannot be empty")
		}
		if _, exists := r.index[d.Name]; exists {
			return nil, fmt.Errorf("stream %q already registered", d.Name)
		}
		if d.Actions == nil {
			d.Actions = ActionSet{}
		}
		r.index[d.Name] = len(r.entries)
		r.entries = append(r.entries, d)
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.entries[i], true
}

// Entries returns the descriptors in registration order.
func (r *Registry) Entries() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the stream names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.entries))
	for i, d := range r.entries {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
