package model

// Record is a generic object of a declared type whose members are held in a
// map. Nested maps and records are walked by lookup paths the same way.
type Record struct {
	Type   TypeID         `json:"type"`
	Fields map[string]any `json:"fields"`
}

// NewRecord creates a record of the given type. Fields may be nil.
func NewRecord(t TypeID, fields map[string]any) Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return Record{Type: t, Fields: fields}
}

// ModelType implements Typed.
func (r Record) ModelType() TypeID {
	return r.Type
}

// Attr implements Attributer.
func (r Record) Attr(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// PK returns the record's primary key field.
func (r Record) PK() (any, bool) {
	return r.Attr("pk")
}

// Ensure interface compliance.
var (
	_ Typed      = Record{}
	_ Attributer = Record{}
)

// Hydrate converts nested {"type": T, "fields": {...}} maps inside v into
// Records, recursing through maps and slices. Other values are returned
// unchanged. Stores use it so related objects carry their type.
// This is a PURE function.
func Hydrate(v any) any {
	switch x := v.(type) {
	case Record:
		return Record{Type: x.Type, Fields: hydrateFields(x.Fields)}
	case map[string]any:
		if rec, ok := asRecord(x); ok {
			return rec
		}
		return hydrateFields(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Hydrate(x[i])
		}
		return out
	}
	return v
}

// Dehydrate is the inverse of Hydrate: Records nested in v become plain
// {"type", "fields"} maps suitable for generic encoders.
func Dehydrate(v any) any {
	switch x := v.(type) {
	case Record:
		return map[string]any{"type": string(x.Type), "fields": dehydrateFields(x.Fields)}
	case map[string]any:
		return dehydrateFields(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Dehydrate(x[i])
		}
		return out
	case []Record:
		out := make([]any, len(x))
		for i := range x {
			out[i] = Dehydrate(x[i])
		}
		return out
	}
	return v
}

func asRecord(m map[string]any) (Record, bool) {
	if len(m) != 2 {
		return Record{}, false
	}
	t, ok := m["type"].(string)
	if !ok || t == "" {
		return Record{}, false
	}
	fields, ok := m["fields"].(map[string]any)
	if !ok {
		return Record{}, false
	}
	return Record{Type: TypeID(t), Fields: hydrateFields(fields)}, true
}

func hydrateFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Hydrate(v)
	}
	return out
}

func dehydrateFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Dehydrate(v)
	}
	return out
}
