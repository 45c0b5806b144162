// Package configstore persists small typed configuration records as JSON
// rows. It backs the distributed accounting lock, scheduler checkpoints and
// boundary-monitor state.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
)

// Store reads and writes typed config records.
type Store interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// PgStore implements Store with PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL config store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Get unmarshals the record stored under key into out. It returns false when
// no record exists.
func (s *PgStore) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := database.From(ctx, s.pool).QueryRow(ctx,
		`SELECT value FROM config_entries WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading config %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding config %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any existing record.
func (s *PgStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding config %s: %w", key, err)
	}
	_, err = database.From(ctx, s.pool).Exec(ctx,
		`INSERT INTO config_entries (key, value, updated_at)
		 VALUES ($1, $2::jsonb, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = $2::jsonb, updated_at = NOW()`,
		key, raw)
	if err != nil {
		return fmt.Errorf("writing config %s: %w", key, err)
	}
	return nil
}

// Delete removes the record under key. Deleting an absent key is not an
// error.
func (s *PgStore) Delete(ctx context.Context, key string) error {
	_, err := database.From(ctx, s.pool).Exec(ctx,
		`DELETE FROM config_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting config %s: %w", key, err)
	}
	return nil
}
