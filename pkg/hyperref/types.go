// Package hyperref defines the wire shape of hypermedia stream references:
//
//	{"stream": "users", "payload": {"action": "retrieve", "pk": 7}}
//
// A reference names a stream, an action on that stream, and the lookup
// parameters the stream needs to find the referenced object.
package hyperref

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Wire keys.
const (
	StreamKey  = "stream"
	PayloadKey = "payload"
	ActionKey  = "action"
)

// DefaultAction is the action used for single-object references.
const DefaultAction = "retrieve"

// Reference is a symbolic pointer to an object served by a stream.
type Reference struct {
	Stream  string  `json:"stream"`
	Payload Payload `json:"payload"`
}

// Param is a single lookup parameter.
type Param struct {
	Key   string
	Value any
}

// Payload carries the action and its lookup parameters.
// Params keep their configured order; "action" is always written first.
type Payload struct {
	Action string
	Params []Param
}

// NewPayload creates a payload for action with the given params.
func NewPayload(action string, params ...Param) Payload {
	return Payload{Action: action, Params: params}
}

// Get returns the value of a lookup parameter.
func (p Payload) Get(key string) (any, bool) {
	for _, prm := range p.Params {
		if prm.Key == key {
			return prm.Value, true
		}
	}
	return nil, false
}

// Map returns the lookup parameters as a map, without the action.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p.Params))
	for _, prm := range p.Params {
		m[prm.Key] = prm.Value
	}
	return m
}

// FromMap builds a payload from a decoded JSON object. The action key is
// taken out; remaining keys are sorted so the result is deterministic.
func FromMap(m map[string]any) (Payload, error) {
	var p Payload
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == ActionKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if raw, ok := m[ActionKey]; ok {
		action, ok := raw.(string)
		if !ok {
			return Payload{}, fmt.Errorf("hyperref: %q must be a string", ActionKey)
		}
		p.Action = action
	}
	for _, k := range keys {
		p.Params = append(p.Params, Param{Key: k, Value: m[k]})
	}
	return p, nil
}

// MarshalJSON writes the action followed by params in order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, ActionKey, p.Action); err != nil {
		return nil, err
	}
	for _, prm := range p.Params {
		if prm.Key == ActionKey {
			return nil, fmt.Errorf("hyperref: param key %q is reserved", ActionKey)
		}
		buf.WriteByte(',')
		if err := writeMember(&buf, prm.Key, prm.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("hyperref: marshal %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// UnmarshalJSON reads a payload object, keeping the wire order of params.
// Numbers are decoded as json.Number.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("hyperref: payload must be an object")
	}

	var out Payload
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if seen[key] {
			return fmt.Errorf("hyperref: duplicate payload key %q", key)
		}
		seen[key] = true

		if key == ActionKey {
			action, ok := value.(string)
			if !ok {
				return fmt.Errorf("hyperref: %q must be a string", ActionKey)
			}
			out.Action = action
			continue
		}
		out.Params = append(out.Params, Param{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// Equal reports whether two references carry the same stream, action and
// params, ignoring param order.
func Equal(a, b Reference) bool {
	if a.Stream != b.Stream || a.Payload.Action != b.Payload.Action {
		return false
	}
	if len(a.Payload.Params) != len(b.Payload.Params) {
		return false
	}
	return reflect.DeepEqual(a.Payload.Map(), b.Payload.Map())
}
