// Package memory provides in-memory implementations of storage ports.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/ports"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = ports.ErrNotFound

// ErrMissingPK is returned when a record without a usable pk is stored.
var ErrMissingPK = errors.New("record has no pk")

// RecordStore is an in-memory implementation of ports.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[model.TypeID]map[string]model.Record // type -> pk -> record
}

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[model.TypeID]map[string]model.Record),
	}
}

// Get retrieves a record by type and primary key.
func (s *RecordStore) Get(ctx context.Context, typ model.TypeID, pk any) (model.Record, error) {
	key, ok := model.KeyString(pk)
	if !ok {
		return model.Record{}, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[typ][key]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	return rec, nil
}

// List returns all records of a type ordered by primary key.
func (s *RecordStore) List(ctx context.Context, typ model.TypeID) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPK := s.records[typ]
	keys := make([]string, 0, len(byPK))
	for k := range byPK {
		keys = append(keys, k)
	}
	sortKeys(keys)

	out := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, byPK[k])
	}
	return out, nil
}

// Put inserts or replaces a record.
func (s *RecordStore) Put(ctx context.Context, rec model.Record) error {
	if rec.Type == "" {
		return errors.New("record has no type")
	}
	pk, _ := rec.PK()
	key, ok := model.KeyString(pk)
	if !ok {
		return fmt.Errorf("%s: %w", rec.Type, ErrMissingPK)
	}
	rec = model.Hydrate(rec).(model.Record)

	s.mu.Lock()
	defer s.mu.Unlock()

	byPK, ok := s.records[rec.Type]
	if !ok {
		byPK = make(map[string]model.Record)
		s.records[rec.Type] = byPK
	}
	byPK[key] = rec
	return nil
}

// Delete removes a record.
func (s *RecordStore) Delete(ctx context.Context, typ model.TypeID, pk any) error {
	key, ok := model.KeyString(pk)
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[typ][key]; !ok {
		return ErrNotFound
	}
	delete(s.records[typ], key)
	return nil
}

// Count returns the number of records of a type.
func (s *RecordStore) Count(ctx context.Context, typ model.TypeID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[typ]), nil
}

// sortKeys orders numeric keys numerically, then other keys lexically.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		an, bn := isDigits(a), isDigits(b)
		switch {
		case an && bn:
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return a < b
		case an != bn:
			return an
		}
		return a < b
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Ensure interface compliance.
var _ ports.RecordStore = (*RecordStore)(nil)
