package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/hyperchannels/ports"
)

// DecodeLog is a bounded in-memory implementation of ports.DecodeLog.
// Once full, the oldest entries are overwritten.
type DecodeLog struct {
	mu      sync.Mutex
	entries []ports.DecodeEntry
	next    int
	full    bool
}

// NewDecodeLog creates a log holding at most size entries.
func NewDecodeLog(size int) *DecodeLog {
	if size <= 0 {
		size = 1000
	}
	return &DecodeLog{entries: make([]ports.DecodeEntry, size)}
}

// Append stores an entry.
func (l *DecodeLog) Append(ctx context.Context, e ports.DecodeEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Recent returns the newest entries first.
func (l *DecodeLog) Recent(ctx context.Context, stream string, limit int) ([]ports.DecodeEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}

	var out []ports.DecodeEntry
	for i := 1; i <= n && len(out) < limit; i++ {
		e := l.entries[(l.next-i+len(l.entries))%len(l.entries)]
		if stream == "" || e.Stream == stream {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.DecodeLog = (*DecodeLog)(nil)
