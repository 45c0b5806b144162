// Package changelog is the fire-and-forget audit sink: every mutating
// accounting operation records the before/after values here. Failures are
// logged and swallowed so auditing can never break bookkeeping.
package changelog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
)

// PgRecorder writes change-log entries to PostgreSQL.
type PgRecorder struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPgRecorder creates an audit recorder backed by the given pool.
func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool, now: time.Now}
}

// Record stores one mutation. A nil oldValue marks an insert, a nil newValue
// a delete. Errors never propagate to the caller.
func (r *PgRecorder) Record(ctx context.Context, table string, oldValue, newValue any) {
	oldJSON, err := marshal(oldValue)
	if err != nil {
		slog.Error("changelog: marshaling old value", "table", table, "error", err)
		return
	}
	newJSON, err := marshal(newValue)
	if err != nil {
		slog.Error("changelog: marshaling new value", "table", table, "error", err)
		return
	}

	_, err = database.From(ctx, r.pool).Exec(ctx,
		`INSERT INTO change_log (table_name, old_value, new_value, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		table, oldJSON, newJSON, r.now())
	if err != nil {
		slog.Error("changelog: recording change", "table", table, "error", err)
	}
}

func marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
