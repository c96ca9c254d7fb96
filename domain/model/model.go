// Package model describes the object types that streams serve.
// Types are identified by a stable TypeID and carry an explicit, ordered
// list of immediate supertypes declared at wiring time.
package model

import (
	"fmt"
	"sort"
)

// TypeID identifies a model type (e.g. "User", "UserProfile").
type TypeID string

// Typed is implemented by objects that know their model type.
type Typed interface {
	ModelType() TypeID
}

// Attributer exposes named members of an object.
// The bool result is false when the object has no member with that name.
type Attributer interface {
	Attr(name string) (any, bool)
}

// TypeOf returns the model type of v if it reports one.
func TypeOf(v any) (TypeID, bool) {
	t, ok := v.(Typed)
	if !ok || t == nil {
		return "", false
	}
	id := t.ModelType()
	return id, id != ""
}

// Hierarchy is the declared-supertype table for all known types.
// It is populated once and read concurrently afterwards.
type Hierarchy struct {
	bases map[TypeID][]TypeID
	order []TypeID
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{bases: make(map[TypeID][]TypeID)}
}

// Declare registers a type with its immediate supertypes, in declaration order.
func (h *Hierarchy) Declare(id TypeID, supertypes ...TypeID) error {
	if id == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if _, exists := h.bases[id]; exists {
		return fmt.Errorf("type %q already declared", id)
	}
	seen := make(map[TypeID]bool, len(supertypes))
	for _, s := range supertypes {
		if s == "" {
			return fmt.Errorf("type %q: empty supertype", id)
		}
		if s == id {
			return fmt.Errorf("type %q cannot extend itself", id)
		}
		if seen[s] {
			return fmt.Errorf("type %q: duplicate supertype %q", id, s)
		}
		seen[s] = true
	}
	h.bases[id] = append([]TypeID(nil), supertypes...)
	h.order = append(h.order, id)
	return nil
}

// Known reports whether id was declared.
func (h *Hierarchy) Known(id TypeID) bool {
	if h == nil {
		return false
	}
	_, ok := h.bases[id]
	return ok
}

// Bases returns the immediate supertypes of id in declaration order.
func (h *Hierarchy) Bases(id TypeID) []TypeID {
	if h == nil {
		return nil
	}
	return h.bases[id]
}

// Types returns all declared types in declaration order.
func (h *Hierarchy) Types() []TypeID {
	if h == nil {
		return nil
	}
	out := make([]TypeID, len(h.order))
	copy(out, h.order)
	return out
}

// IsSubtype reports whether sub is super or inherits from it, directly or
// through any chain of declared supertypes.
func (h *Hierarchy) IsSubtype(sub, super TypeID) bool {
	if sub == super {
		return true
	}
	if h == nil {
		return false
	}
	visited := make(map[TypeID]bool)
	stack := append([]TypeID(nil), h.bases[sub]...)
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t == super {
			return true
		}
		if visited[t] {
			continue
		}
		visited[t] = true
		stack = append(stack, h.bases[t]...)
	}
	return false
}

// Undeclared returns the supertypes referenced by declarations that were
// never declared themselves, sorted.
func (h *Hierarchy) Undeclared() []TypeID {
	if h == nil {
		return nil
	}
	missing := make(map[TypeID]bool)
	for _, bases := range h.bases {
		for _, b := range bases {
			if _, ok := h.bases[b]; !ok {
				missing[b] = true
			}
		}
	}
	out := make([]TypeID, 0, len(missing))
	for t := range missing {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
