// Package idgen generates the ids hyperchannels hands out: request ids,
// decode audit entry ids and primary keys for created records.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/hyperchannels/ports"
	"github.com/google/uuid"
)

// UUID returns random (v4) UUIDs.
type UUID struct{}

func (UUID) New() string {
	return uuid.NewString()
}

// TimeOrdered returns v7 UUIDs. They sort by creation time, so audit rows
// and created records list in insertion order.
type TimeOrdered struct{}

func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}

// Sequential returns prefix1, prefix2, ... Safe for concurrent use.
// Tests and fixtures use it for predictable keys.
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = TimeOrdered{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
