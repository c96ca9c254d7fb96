// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/hyperchannels/domain/model"
	"github.com/artpar/hyperchannels/domain/stream"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// RecordStore persists typed records. Primary keys are compared in their
// canonical string form (see model.KeyString), so 7, int64(7) and "7" name
// the same record.
type RecordStore interface {
	// Get retrieves a record by type and primary key.
	Get(ctx context.Context, typ model.TypeID, pk any) (model.Record, error)

	// List returns all records of a type ordered by primary key.
	List(ctx context.Context, typ model.TypeID) ([]model.Record, error)

	// Put inserts or replaces a record. The record must have a pk field.
	Put(ctx context.Context, rec model.Record) error

	// Delete removes a record.
	Delete(ctx context.Context, typ model.TypeID, pk any) error

	// Count returns the number of records of a type.
	Count(ctx context.Context, typ model.TypeID) (int, error)
}

// DecodeEntry is one audited decode.
type DecodeEntry struct {
	ID        string
	RequestID string
	Stream    string
	Action    string
	Payload   map[string]any
	Outcome   string // "ok" or an error code
	CreatedAt time.Time
}

// DecodeLog records decode outcomes for auditing.
type DecodeLog interface {
	// Append stores an entry. CreatedAt is set when zero.
	Append(ctx context.Context, e DecodeEntry) error

	// Recent returns the newest entries first. An empty stream matches all.
	Recent(ctx context.Context, stream string, limit int) ([]DecodeEntry, error)
}

// -----------------------------------------------------------------------------
// Service Ports
// -----------------------------------------------------------------------------

// RegistrySupplier provides the stream registry currently in effect.
// Codecs must be built from a supplier; there is no global registry.
type RegistrySupplier interface {
	Registry() *stream.Registry
}

// ReferenceMetrics observes encode/decode outcomes and config reloads.
// outcome is "ok", "omitted" or a reference error code.
type ReferenceMetrics interface {
	ObserveEncode(stream, outcome string)
	ObserveDecode(stream, outcome string, d time.Duration)
	ConfigReloaded(err error, streams int)
}
