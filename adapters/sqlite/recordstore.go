package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/ports"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = ports.ErrNotFound

// ErrMissingPK is returned when a record without a usable pk is stored.
var ErrMissingPK = errors.New("record has no pk")

// RecordStore implements ports.RecordStore using SQLite. Fields are stored
// as a JSON object; numbers come back as json.Number.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new SQLite record store.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Get retrieves a record by type and primary key.
func (s *RecordStore) Get(ctx context.Context, typ model.TypeID, pk any) (model.Record, error) {
	key, ok := model.KeyString(pk)
	if !ok {
		return model.Record{}, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT type, fields
		FROM records
		WHERE type = ? AND pk = ?
	`, string(typ), key)
	return scanRecord(row)
}

// List returns all records of a type ordered by primary key, numeric keys
// first.
func (s *RecordStore) List(ctx context.Context, typ model.TypeID) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, fields
		FROM records
		WHERE type = ?
		ORDER BY
			CASE WHEN pk <> '' AND pk NOT GLOB '*[^0-9]*' THEN 0 ELSE 1 END,
			CASE WHEN pk <> '' AND pk NOT GLOB '*[^0-9]*' THEN length(pk) ELSE 0 END,
			pk
	`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
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

	fields, err := json.Marshal(model.Dehydrate(rec.Fields))
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", rec.Type, key, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (type, pk, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type, pk) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`, string(rec.Type), key, string(fields), now, now)
	return err
}

// Delete removes a record.
func (s *RecordStore) Delete(ctx context.Context, typ model.TypeID, pk any) error {
	key, ok := model.KeyString(pk)
	if !ok {
		return ErrNotFound
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE type = ? AND pk = ?", string(typ), key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of records of a type.
func (s *RecordStore) Count(ctx context.Context, typ model.TypeID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE type = ?", string(typ)).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.Record, error) {
	var typ, fields string
	err := row.Scan(&typ, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(fields)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return model.Record{}, fmt.Errorf("decode %s fields: %w", typ, err)
	}
	return model.Hydrate(model.NewRecord(model.TypeID(typ), m)).(model.Record), nil
}

// Ensure interface compliance.
var _ ports.RecordStore = (*RecordStore)(nil)
