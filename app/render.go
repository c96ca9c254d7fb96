package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/artpar/hyperchannels/config"
	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/expr-lang/expr/vm"
)

// IdentityKey is the document key holding an object's own reference.
const IdentityKey = "@id"

// Document is a rendered object whose keys keep insertion order when
// marshalled.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set adds or replaces a key. New keys are appended.
func (d *Document) Set(key string, v any) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

// MarshalJSON writes the keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type fieldKind int

const (
	kindAttribute fieldKind = iota
	kindSingle
	kindMany
	kindComputed
)

type compiledField struct {
	name      string
	kind      fieldKind
	attribute bool
	single    reference.FieldConfig
	many      reference.ManyConfig
	elemType  model.TypeID
	program   *vm.Program
}

// Serializer renders records of one stream: the identity reference under
// "@id", then the configured fields in order.
type Serializer struct {
	stream   string
	identity reference.IdentityConfig
	fields   []compiledField
	many     reference.ManyConfig
}

// CompileSerializer validates a serializer config and converts its lookup
// mappings. root is the default identity configuration.
func CompileSerializer(sc config.SerializerConfig, root config.LinkConfig) (*Serializer, error) {
	idLink := root
	if sc.Identity != nil {
		idLink = *sc.Identity
	}
	idLookups, err := idLink.Lookups.Mappings()
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	manyLookups, err := sc.Many.Lookups.Mappings()
	if err != nil {
		return nil, fmt.Errorf("many: %w", err)
	}

	ser := &Serializer{
		stream: sc.Stream,
		identity: reference.IdentityConfig{
			Action:  idLink.Action,
			Stream:  idLink.Stream,
			Lookups: idLookups,
		},
		many: reference.ManyConfig{
			Action:  sc.Many.Action,
			Stream:  sc.Many.Stream,
			Lookups: manyLookups,
		},
	}

	for _, f := range sc.Fields {
		cf := compiledField{name: f.Name}
		switch {
		case f.Compute != "":
			program, err := compileCompute(f.Compute)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			cf.kind = kindComputed
			cf.attribute = true
			cf.program = program
		case f.Attribute:
			cf.kind = kindAttribute
			cf.attribute = true
		case f.Many:
			if f.Type == "" && f.Stream == "" {
				return nil, fmt.Errorf("field %s: many fields need a type or a stream", f.Name)
			}
			m, err := f.Lookups.Mappings()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			cf.kind = kindMany
			cf.many = reference.ManyConfig{Action: f.Action, Stream: f.Stream, Lookups: m}
			cf.elemType = model.TypeID(f.Type)
		default:
			m, err := f.Lookups.Mappings()
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			cf.kind = kindSingle
			cf.single = reference.FieldConfig{
				Action:  f.Action,
				Stream:  f.Stream,
				Lookups: m,
				Target:  f.Target,
			}
		}
		ser.fields = append(ser.fields, cf)
	}
	return ser, nil
}

// Stream returns the stream the serializer renders.
func (s *Serializer) Stream() string {
	return s.stream
}

func (s *Serializer) field(name string) (compiledField, bool) {
	for _, f := range s.fields {
		if f.name == name {
			return f, true
		}
	}
	return compiledField{}, false
}

// Render renders rec. Absent attributes are omitted, as are relations that
// are nil or owned by no stream. Many fields always render their aggregate
// reference, whatever the collection holds. Computed fields hold the
// result of their expression.
func (s *Serializer) Render(codec *reference.Codec, rec model.Record) (*Document, error) {
	doc := NewDocument()

	id, ok, err := codec.EncodeIdentity(rec, s.identity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", IdentityKey, err)
	}
	if ok {
		doc.Set(IdentityKey, id)
	}

	for _, f := range s.fields {
		if f.kind == kindComputed {
			v, err := runCompute(f.program, rec)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.name, err)
			}
			doc.Set(f.name, v)
			continue
		}

		v, present := lookup.Member(rec, f.name)

		switch f.kind {
		case kindAttribute:
			if present {
				doc.Set(f.name, model.Dehydrate(v))
			}

		case kindSingle:
			if !present || v == nil {
				continue
			}
			ref, ok, err := codec.Encode(v, f.single, rec)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.name, err)
			}
			if ok {
				doc.Set(f.name, ref)
			}

		case kindMany:
			ref, ok, err := codec.EncodeCollection(f.elemType, f.many, rec)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.name, err)
			}
			if ok {
				doc.Set(f.name, ref)
			}
		}
	}
	return doc, nil
}
