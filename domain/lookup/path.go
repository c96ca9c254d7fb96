// Package lookup extracts reference lookup parameters from objects by
// walking dot-separated attribute paths.
//
// A path whose first segment is "self" is resolved against the parent
// object (the object that owns the field being encoded). Any other path is
// resolved against the subject (the related object being referenced).
package lookup

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/artpar/hyperchannels/domain/model"
)

// SelfToken is the leading segment that redirects a path to the parent object.
const SelfToken = "self"

var (
	// ErrEmptyPath is returned when parsing an empty path or segment.
	ErrEmptyPath = errors.New("lookup path cannot be empty")
	// ErrMissingAttribute is returned when a path segment cannot be read.
	ErrMissingAttribute = errors.New("missing attribute")
	// ErrNoParent is returned when a self path is extracted without a parent.
	ErrNoParent = errors.New("self lookup requires a parent object")
)

// Path is a parsed attribute-access chain.
type Path struct {
	raw      string
	segments []string
}

// ParsePath splits s on "." and validates every segment.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, ErrEmptyPath
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("%w: %q has an empty segment", ErrEmptyPath, s)
		}
	}
	return Path{raw: s, segments: segments}, nil
}

// MustParsePath is like ParsePath but panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path as written.
func (p Path) String() string {
	return p.raw
}

// Self reports whether the path resolves against the parent object.
func (p Path) Self() bool {
	return len(p.segments) > 0 && p.segments[0] == SelfToken
}

// Segments returns the attribute chain, excluding a leading "self".
func (p Path) Segments() []string {
	segs := p.segments
	if p.Self() {
		segs = segs[1:]
	}
	out := make([]string, len(segs))
	copy(out, segs)
	return out
}

// ExtractError reports where a path walk failed.
type ExtractError struct {
	Path    string
	Segment string
	Err     error
}

func (e *ExtractError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("lookup %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("lookup %q: %v %q", e.Path, e.Err, e.Segment)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Extract walks p starting from parent for self paths, or from subject
// otherwise. Every segment but the last must yield a non-nil value.
// This is a PURE function.
func Extract(p Path, subject, parent any) (any, error) {
	if len(p.segments) == 0 {
		return nil, &ExtractError{Path: p.raw, Err: ErrEmptyPath}
	}

	cur := subject
	if p.Self() {
		if isNil(parent) {
			return nil, &ExtractError{Path: p.raw, Err: ErrNoParent}
		}
		cur = parent
	}

	for _, seg := range p.Segments() {
		if isNil(cur) {
			return nil, &ExtractError{Path: p.raw, Segment: seg, Err: ErrMissingAttribute}
		}
		v, ok := Member(cur, seg)
		if !ok {
			return nil, &ExtractError{Path: p.raw, Segment: seg, Err: ErrMissingAttribute}
		}
		cur = v
	}
	return cur, nil
}

// Member reads the named member of obj.
//
// Attributer implementations are asked first, then map[string]any.
// Other values are inspected by reflection: pointers and interfaces are
// dereferenced, struct fields match by json tag and then by field name, and
// string-keyed maps are indexed.
func Member(obj any, name string) (any, bool) {
	switch o := obj.(type) {
	case nil:
		return nil, false
	case model.Attributer:
		return o.Attr(name)
	case map[string]any:
		v, ok := o[name]
		return v, ok
	}

	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
		if v.CanInterface() {
			if a, ok := v.Interface().(model.Attributer); ok {
				return a.Attr(name)
			}
		}
	}

	switch v.Kind() {
	case reflect.Struct:
		return structField(v, name)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	}
	return nil, false
}

func structField(v reflect.Value, name string) (any, bool) {
	t := v.Type()
	fallback := -1
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName == name {
				return v.Field(i).Interface(), true
			}
		}
		if f.Name == name {
			return v.Field(i).Interface(), true
		}
		if fallback < 0 && strings.EqualFold(f.Name, name) {
			fallback = i
		}
	}
	if fallback >= 0 {
		return v.Field(fallback).Interface(), true
	}
	return nil, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
