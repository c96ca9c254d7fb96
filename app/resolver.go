package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/artpar/hyperchannels/domain/lookup"
	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/reference"
	"github.com/artpar/hyperchannels/domain/stream"
	"github.com/artpar/hyperchannels/ports"
)

// ActionQuery describes how one stream action selects records.
type ActionQuery struct {
	Name string

	// Many actions return every matching record, possibly none.
	// Other actions must match exactly one.
	Many bool

	// Match maps payload keys to record paths. When empty, every payload
	// key is read as a path into the record.
	Match lookup.Mappings
}

// StoreResolver answers a stream's lookups from a RecordStore.
type StoreResolver struct {
	store   ports.RecordStore
	typ     model.TypeID
	queries map[string]ActionQuery
}

// NewStoreResolver creates a resolver for records of typ.
func NewStoreResolver(store ports.RecordStore, typ model.TypeID, queries ...ActionQuery) *StoreResolver {
	r := &StoreResolver{
		store:   store,
		typ:     typ,
		queries: make(map[string]ActionQuery, len(queries)),
	}
	for _, q := range queries {
		r.queries[q.Name] = q
	}
	return r
}

type criterion struct {
	key   string
	path  lookup.Path
	value any
}

// ResolveObject implements stream.ObjectResolver. A single-object action
// that matches nothing returns (nil, nil).
func (r *StoreResolver) ResolveObject(ctx context.Context, action string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, ok := r.queries[action]
	if !ok {
		q = ActionQuery{Name: action}
	}

	crit, err := r.criteria(q, params)
	if err != nil {
		return nil, err
	}
	if !q.Many && len(crit) == 0 {
		return nil, fmt.Errorf("%s needs at least one lookup argument: %w", action, reference.ErrInvalidLookupArguments)
	}

	if !q.Many && len(crit) == 1 && !crit[0].path.Self() && crit[0].path.String() == "pk" {
		return r.byPK(ctx, crit[0].value)
	}

	records, err := r.store.List(ctx, r.typ)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.typ, err)
	}

	matched := []model.Record{}
	for _, rec := range records {
		if matches(rec, crit) {
			matched = append(matched, rec)
		}
	}

	if q.Many {
		return matched, nil
	}
	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
		return matched[0], nil
	}
	return nil, fmt.Errorf("%d %s records match %s: %w", len(matched), r.typ, action, reference.ErrInvalidLookupArguments)
}

func (r *StoreResolver) byPK(ctx context.Context, pk any) (any, error) {
	if _, ok := model.KeyString(pk); !ok {
		return nil, fmt.Errorf("pk %v: %w", pk, reference.ErrInvalidLookupArguments)
	}
	rec, err := r.store.Get(ctx, r.typ, pk)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.typ, err)
	}
	return rec, nil
}

// criteria pairs each payload value with the record path it is compared
// against, in key order.
func (r *StoreResolver) criteria(q ActionQuery, params map[string]any) ([]criterion, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	paths := make(map[string]lookup.Path, len(q.Match))
	for _, m := range q.Match {
		paths[m.Key] = m.Path
	}

	out := make([]criterion, 0, len(keys))
	for _, k := range keys {
		p, ok := paths[k]
		if !ok {
			if len(q.Match) > 0 {
				return nil, fmt.Errorf("unexpected argument %q for %s: %w", k, q.Name, reference.ErrInvalidLookupArguments)
			}
			var err error
			if p, err = lookup.ParsePath(k); err != nil || p.Self() {
				return nil, fmt.Errorf("argument %q: %w", k, reference.ErrInvalidLookupArguments)
			}
		}
		out = append(out, criterion{key: k, path: p, value: params[k]})
	}
	return out, nil
}

func matches(rec model.Record, crit []criterion) bool {
	for _, c := range crit {
		v, err := lookup.Extract(c.path, rec, nil)
		if err != nil || !sameValue(v, c.value) {
			return false
		}
	}
	return true
}

// sameValue compares scalars by canonical key form so that numbers decoded
// from JSON match numbers read from YAML or SQLite.
func sameValue(a, b any) bool {
	ka, okA := model.KeyString(a)
	kb, okB := model.KeyString(b)
	if okA && okB {
		return ka == kb
	}
	return reflect.DeepEqual(a, b)
}

// Ensure interface compliance.
var _ stream.ObjectResolver = (*StoreResolver)(nil)
