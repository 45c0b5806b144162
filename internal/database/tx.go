package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
// Repositories issue all statements through it so that the same repository
// works inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Runner executes a unit of work, transactionally when the implementation
// supports it. The accounting pipelines run every persistence step of one
// close/NAV cycle inside a single WithinTx call.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// PgRunner implements Runner over a pgxpool.Pool, carrying the open
// transaction in the context.
type PgRunner struct {
	pool *pgxpool.Pool
}

// NewPgRunner creates a Runner backed by the given pool.
func NewPgRunner(pool *pgxpool.Pool) *PgRunner {
	return &PgRunner{pool: pool}
}

// WithinTx begins a transaction, runs fn with the transaction bound to the
// context, and commits. Any error from fn rolls the transaction back.
// Nested calls reuse the already-open transaction.
func (r *PgRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// From returns the transaction bound to ctx, or the pool when no transaction
// is open.
func From(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
