package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artpar/hyperchannels/ports"
)

// DecodeLog implements ports.DecodeLog using SQLite.
type DecodeLog struct {
	db *DB
}

// NewDecodeLog creates a new SQLite decode log.
func NewDecodeLog(db *DB) *DecodeLog {
	return &DecodeLog{db: db}
}

// Append stores an entry.
func (l *DecodeLog) Append(ctx context.Context, e ports.DecodeEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO decode_log (id, request_id, stream, action, payload, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.RequestID, e.Stream, e.Action, string(payload), e.Outcome, e.CreatedAt)
	return err
}

// Recent returns the newest entries first.
func (l *DecodeLog) Recent(ctx context.Context, stream string, limit int) ([]ports.DecodeEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, request_id, stream, action, payload, outcome, created_at
		FROM decode_log
		WHERE ? = '' OR stream = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, stream, stream, limit)
	if err != nil {
		return nil, fmt.Errorf("query decode log: %w", err)
	}
	defer rows.Close()

	var out []ports.DecodeEntry
	for rows.Next() {
		var e ports.DecodeEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Stream, &e.Action, &payload, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decode log: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ensure interface compliance.
var _ ports.DecodeLog = (*DecodeLog)(nil)
