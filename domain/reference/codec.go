// Package reference encodes objects into hypermedia stream references and
// decodes references back into objects through the owning stream.
//
// Encoding is a pure function of the subject, its parent, the field
// configuration and the stream registry. Decoding validates the reference
// against the registry and delegates the lookup to the stream's
// ObjectResolver, passing the caller's context through unchanged.
package reference

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/stream"
	"github.com/artpar/hyperchannels/pkg/hyperref"
)

// Codec encodes and decodes references against one registry snapshot.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	registry  *stream.Registry
	hierarchy *model.Hierarchy
}

// NewCodec binds a codec to a registry and type hierarchy.
// A nil registry fails immediately with ErrNoRegistry.
func NewCodec(reg *stream.Registry, h *model.Hierarchy) (*Codec, error) {
	if reg == nil {
		return nil, ErrNoRegistry
	}
	if h == nil {
		h = model.NewHierarchy()
	}
	return &Codec{registry: reg, hierarchy: h}, nil
}

// Registry returns the registry the codec resolves against.
func (c *Codec) Registry() *stream.Registry {
	return c.registry
}

// Hierarchy returns the type hierarchy used for distance resolution.
func (c *Codec) Hierarchy() *model.Hierarchy {
	return c.hierarchy
}

// -----------------------------------------------------------------------------
// Encode
// -----------------------------------------------------------------------------

// Encode builds the reference for subject. parent is the object that owns the
// field and answers "self." lookups; it may be nil when no lookup needs it.
// ok is false when subject is nil or no stream owns its type, in which case
// the field should be omitted.
func (c *Codec) Encode(subject any, cfg FieldConfig, parent any) (hyperref.Reference, bool, error) {
	if subject == nil {
		return hyperref.Reference{}, false, nil
	}
	cfg = cfg.withDefaults()

	typ, _ := model.TypeOf(subject)
	name, ok, err := c.resolve(typ, cfg.Stream)
	if err != nil || !ok {
		return hyperref.Reference{}, false, err
	}
	return c.build(name, cfg.Action, cfg.Lookups, subject, parent)
}

// EncodeCollection builds the aggregate reference for the set of elemType
// objects reachable from parent. The stream is resolved from elemType (or
// the override) and lookups are computed once, with parent as both subject
// and context; the elements themselves are not inspected.
func (c *Codec) EncodeCollection(elemType model.TypeID, cfg ManyConfig, parent any) (hyperref.Reference, bool, error) {
	action := cfg.Action
	if action == "" {
		action = DefaultManyAction
	}
	lookups := cfg.Lookups
	if lookups == nil {
		lookups = lookup.DefaultMappings()
	}

	name, ok, err := c.resolve(elemType, cfg.Stream)
	if err != nil || !ok {
		return hyperref.Reference{}, false, err
	}
	return c.build(name, action, lookups, parent, parent)
}

// EncodeCollectionEach replicates the aggregate reference once per element.
// elemType may be empty, in which case the first element's type is used.
func (c *Codec) EncodeCollectionEach(subjects []any, elemType model.TypeID, cfg ManyConfig, parent any) ([]hyperref.Reference, error) {
	if len(subjects) == 0 {
		return []hyperref.Reference{}, nil
	}
	if elemType == "" {
		elemType, _ = model.TypeOf(subjects[0])
	}
	ref, ok, err := c.EncodeCollection(elemType, cfg, parent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []hyperref.Reference{}, nil
	}
	out := make([]hyperref.Reference, len(subjects))
	for i := range subjects {
		out[i] = ref
	}
	return out, nil
}

// EncodeList renders a top-level collection as one reference per item using
// the collection-level overrides. Lookups are read from each item; there is
// no parent, so "self." paths fail. Items no stream owns are skipped.
func (c *Codec) EncodeList(items []any, cfg ManyConfig) ([]hyperref.Reference, error) {
	field := FieldConfig{
		Action:  cfg.Action,
		Stream:  cfg.Stream,
		Lookups: cfg.Lookups,
	}
	out := make([]hyperref.Reference, 0, len(items))
	for _, item := range items {
		ref, ok, err := c.Encode(item, field, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// EncodeIdentity builds subject's reference to itself. Lookups, including
// "self." paths, are read from subject.
func (c *Codec) EncodeIdentity(subject any, cfg IdentityConfig) (hyperref.Reference, bool, error) {
	return c.Encode(subject, FieldConfig{
		Action:  cfg.Action,
		Stream:  cfg.Stream,
		Lookups: cfg.Lookups,
	}, subject)
}

func (c *Codec) resolve(typ model.TypeID, explicit string) (string, bool, error) {
	if explicit == "" && typ == "" {
		return "", false, nil
	}
	name, _, ok := stream.Resolve(c.registry, c.hierarchy, typ, explicit)
	if !ok && explicit != "" {
		return "", false, configError("stream %q is not registered", explicit)
	}
	return name, ok, nil
}

func (c *Codec) build(name, action string, lookups lookup.Mappings, subject, parent any) (hyperref.Reference, bool, error) {
	params, err := lookup.ExtractAll(lookups, subject, parent)
	if err != nil {
		return hyperref.Reference{}, false, err
	}
	return hyperref.Reference{
		Stream:  name,
		Payload: hyperref.NewPayload(action, params...),
	}, true, nil
}

// -----------------------------------------------------------------------------
// Decode
// -----------------------------------------------------------------------------

// Decode resolves raw into an object.
//
// raw is either a bare primary key (integer, integral float, json.Number or
// non-empty string), a decoded JSON object {stream, payload}, raw JSON bytes,
// or a hyperref.Reference. Bare primary keys are looked up with the
// "retrieve" action on the field's target stream.
func (c *Codec) Decode(ctx context.Context, raw any, field FieldConfig) (any, error) {
	switch v := raw.(type) {
	case hyperref.Reference:
		return c.DecodeReference(ctx, v)
	case *hyperref.Reference:
		if v == nil {
			return nil, malformed("Must be either a hyper-media reference or a pk value")
		}
		return c.DecodeReference(ctx, *v)
	case json.RawMessage:
		return c.decodeJSON(ctx, v, field)
	case []byte:
		return c.decodeJSON(ctx, v, field)
	case map[string]any:
		return c.decodeObject(ctx, v)
	}

	if pk, ok := primaryKey(raw); ok {
		return c.decodePK(ctx, pk, field)
	}
	return nil, malformed("Must be either a hyper-media reference or a pk value")
}

// DecodeReference validates a typed reference and resolves it.
func (c *Codec) DecodeReference(ctx context.Context, ref hyperref.Reference) (any, error) {
	if ref.Stream == "" {
		return nil, malformed(ErrMalformedReference.Detail)
	}
	if ref.Payload.Action == "" {
		return nil, &Error{Code: CodeMissingAction, Stream: ref.Stream, Detail: ErrMissingAction.Detail}
	}
	return c.dispatch(ctx, ref.Stream, ref.Payload.Action, ref.Payload.Map())
}

func (c *Codec) decodeJSON(ctx context.Context, data []byte, field FieldConfig) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &Error{Code: CodeMalformedReference, Detail: "invalid JSON", Err: err}
	}
	return c.Decode(ctx, v, field)
}

func (c *Codec) decodeObject(ctx context.Context, m map[string]any) (any, error) {
	name, okStream := m[hyperref.StreamKey].(string)
	payload, okPayload := m[hyperref.PayloadKey].(map[string]any)
	if !okStream || !okPayload {
		return nil, malformed(ErrMalformedReference.Detail)
	}

	action, ok := payload[hyperref.ActionKey].(string)
	if !ok || action == "" {
		return nil, &Error{Code: CodeMissingAction, Stream: name, Detail: ErrMissingAction.Detail}
	}

	params := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != hyperref.ActionKey {
			params[k] = v
		}
	}
	return c.dispatch(ctx, name, action, params)
}

func (c *Codec) dispatch(ctx context.Context, name, action string, params map[string]any) (any, error) {
	desc, ok := c.registry.Lookup(name)
	if !ok {
		return nil, unknownStream(name)
	}
	if !desc.Actions.Has(action) {
		return nil, actionNotAllowed(name, action)
	}
	return c.call(ctx, desc, action, params)
}

func (c *Codec) decodePK(ctx context.Context, pk any, field FieldConfig) (any, error) {
	name := field.target()
	if name == "" {
		return nil, configError("field has no target stream for primary key lookups")
	}
	desc, ok := c.registry.Lookup(name)
	if !ok {
		return nil, unknownStream(name)
	}
	return c.call(ctx, desc, hyperref.DefaultAction, map[string]any{"pk": pk})
}

func (c *Codec) call(ctx context.Context, desc stream.Descriptor, action string, params map[string]any) (any, error) {
	if desc.Resolver == nil {
		return nil, configError("stream %q has no object resolver", desc.Name)
	}
	obj, err := desc.Resolver.ResolveObject(ctx, action, params)
	if err != nil {
		return nil, hookError(desc.Name, action, err)
	}
	if obj == nil {
		return nil, &Error{Code: CodeNotFound, Stream: desc.Name, Action: action, Detail: ErrNotFound.Detail}
	}
	return obj, nil
}

// primaryKey reports whether v is usable as a bare primary key and returns
// it normalised: integers as int64, integral floats as int64, json.Number as
// int64 when it fits and as its string form otherwise.
func primaryKey(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uint64ToPK(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uint64ToPK(n)
	case float32:
		return floatToPK(float64(n))
	case float64:
		return floatToPK(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToPK(f)
		}
		return nil, false
	case string:
		return n, n != ""
	}
	return nil, false
}

func floatToPK(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return strconv.FormatFloat(f, 'f', 0, 64), true
	}
	return int64(f), true
}

func uint64ToPK(u uint64) (any, bool) {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10), true
	}
	return int64(u), true
}
