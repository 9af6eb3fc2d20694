// Package audit keeps the append-only field-level history of every
// correction to a governed table. Entries are written only through the
// guarded RecordChange path, never directly by callers, so the history
// stays trustworthy.
package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kidneysphere/registry/internal/platform/db"
)

// Entry is one immutable field-level change record.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	TableName  string    `json:"table_name"`
	RecordID   uuid.UUID `json:"record_id"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Trail writes audit entries, joining the caller's transaction when one is
// in the context so the history commits or rolls back with the record.
type Trail struct {
	pool *pgxpool.Pool
}

func NewTrail(pool *pgxpool.Pool) *Trail {
	return &Trail{pool: pool}
}

func (t *Trail) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return t.pool
}

// RecordChange appends one entry, unless old and new values are identical
// on their canonical textual representation: no-op updates must leave no
// audit noise.
func (t *Trail) RecordChange(ctx context.Context, table string, recordID uuid.UUID, field, oldValue, newValue, actor, reason string) error {
	if oldValue == newValue {
		return nil
	}
	_, err := t.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entry (id, table_name, record_id, field, old_value, new_value, actor, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), table, recordID, field, oldValue, newValue, actor, reason)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// RecordDiff compares every tracked field between the pre- and post-update
// representation of a row and appends one entry per changed field. Returns
// the number of entries written.
func (t *Trail) RecordDiff(ctx context.Context, table string, recordID uuid.UUID, actor, reason string, before, after map[string]string) (int, error) {
	fields := make([]string, 0, len(after))
	for f := range after {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	n := 0
	for _, f := range fields {
		oldV := before[f]
		newV := after[f]
		if oldV == newV {
			continue
		}
		if err := t.RecordChange(ctx, table, recordID, f, oldV, newV, actor, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ListByRecord returns the change history for one record, oldest first.
func (t *Trail) ListByRecord(ctx context.Context, table string, recordID uuid.UUID) ([]*Entry, error) {
	rows, err := t.conn(ctx).Query(ctx, `
		SELECT id, table_name, record_id, field, old_value, new_value, actor, reason, recorded_at
		FROM audit_entry
		WHERE table_name = $1 AND record_id = $2
		ORDER BY recorded_at, field`, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Field, &e.OldValue, &e.NewValue, &e.Actor, &e.Reason, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
