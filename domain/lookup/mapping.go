package lookup

import (
	"fmt"

	"github.com/artpar/hyperchannels/pkg/hyperref"
)

// Mapping binds an output payload key to the path its value is read from.
type Mapping struct {
	Key  string
	Path Path
}

// Mappings is an ordered set of mappings with unique keys.
// Order defines the payload key order.
type Mappings []Mapping

// ParseMappings builds mappings from alternating key, path arguments.
func ParseMappings(pairs ...string) (Mappings, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("lookup mappings need key/path pairs, got %d values", len(pairs))
	}
	out := make(Mappings, 0, len(pairs)/2)
	seen := make(map[string]bool, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, raw := pairs[i], pairs[i+1]
		if key == "" {
			return nil, fmt.Errorf("lookup key cannot be empty")
		}
		if key == hyperref.ActionKey {
			return nil, fmt.Errorf("lookup key %q is reserved", key)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate lookup key %q", key)
		}
		seen[key] = true

		p, err := ParsePath(raw)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", key, err)
		}
		out = append(out, Mapping{Key: key, Path: p})
	}
	return out, nil
}

// MustMappings is like ParseMappings but panics on error.
func MustMappings(pairs ...string) Mappings {
	m, err := ParseMappings(pairs...)
	if err != nil {
		panic(err)
	}
	return m
}

// DefaultMappings returns the primary-key mapping {pk: pk}.
func DefaultMappings() Mappings {
	return MustMappings("pk", "pk")
}

// Keys returns the output keys in order.
func (m Mappings) Keys() []string {
	keys := make([]string, len(m))
	for i, mp := range m {
		keys[i] = mp.Key
	}
	return keys
}

// HasSelf reports whether any mapping reads from the parent object.
func (m Mappings) HasSelf() bool {
	for _, mp := range m {
		if mp.Path.Self() {
			return true
		}
	}
	return false
}

// ExtractAll extracts every mapping in order. The first failure is returned.
// This is a PURE function.
func ExtractAll(m Mappings, subject, parent any) ([]hyperref.Param, error) {
	params := make([]hyperref.Param, 0, len(m))
	for _, mp := range m {
		v, err := Extract(mp.Path, subject, parent)
		if err != nil {
			return nil, err
		}
		params = append(params, hyperref.Param{Key: mp.Key, Value: v})
	}
	return params, nil
}
