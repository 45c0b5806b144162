package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
)

// Repository defines persistent storage for transfers. Get returns nil when
// the transfer does not exist.
type Repository interface {
	Get(ctx context.Context, id int64) (*domain.Transfer, error)
	Insert(ctx context.Context, t *domain.Transfer) error
	SetOpposite(ctx context.Context, id, oppositeID int64) error
	Delete(ctx context.Context, id int64) error
	ListForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error)
	ListDeferredForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error)
	ListByOriginating(ctx context.Context, originID int64) ([]domain.Transfer, error)
	AnyForPeriod(ctx context.Context, fundID int64, bookingPeriod string) (bool, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL transfer repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const transferColumns = `id, holding_id, fee_holding_id, type, direction, amount, fee,
	exchange_rate, opposite_id, originating_id, reference, created_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var t domain.Transfer
	var direction string
	err := row.Scan(&t.ID, &t.HoldingID, &t.FeeHoldingID, &t.Type, &direction, &t.Amount,
		&t.Fee, &t.ExchangeRate, &t.OppositeID, &t.OriginatingID, &t.Reference, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transfer: %w", err)
	}
	if direction == "in" {
		t.Direction = domain.DirectionIn
	} else {
		t.Direction = domain.DirectionOut
	}
	return &t, nil
}

func (r *PgRepository) Get(ctx context.Context, id int64) (*domain.Transfer, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id)
	return scanTransfer(row)
}

func (r *PgRepository) Insert(ctx context.Context, t *domain.Transfer) error {
	err := database.From(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO transfers (holding_id, fee_holding_id, type, direction, amount, fee,
			exchange_rate, opposite_id, originating_id, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		t.HoldingID, t.FeeHoldingID, t.Type, t.Direction.String(), t.Amount, t.Fee,
		t.ExchangeRate, t.OppositeID, t.OriginatingID, t.Reference, t.CreatedAt).
		Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting transfer: %w", err)
	}
	return nil
}

// SetOpposite patches the mirrored pair's back-reference after both rows
// exist.
func (r *PgRepository) SetOpposite(ctx context.Context, id, oppositeID int64) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`UPDATE transfers SET opposite_id = $2 WHERE id = $1`, id, oppositeID)
	if err != nil {
		return fmt.Errorf("setting opposite of transfer %d: %w", id, err)
	}
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	_, err := database.From(ctx, r.pool).Exec(ctx, `DELETE FROM transfers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting transfer %d: %w", id, err)
	}
	return nil
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]domain.Transfer, error) {
	rows, err := database.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PgRepository) ListForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error) {
	return r.list(ctx,
		`SELECT `+qualifiedTransferColumns+` FROM transfers t
		 JOIN holdings h ON h.id = t.holding_id
		 WHERE h.fund_id = $1 AND h.booking_period = $2
		 ORDER BY t.id`, fundID, bookingPeriod)
}

func (r *PgRepository) ListDeferredForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error) {
	return r.list(ctx,
		`SELECT `+qualifiedTransferColumns+` FROM transfers t
		 JOIN holdings h ON h.id = t.holding_id
		 WHERE h.fund_id = $1 AND h.booking_period = $2 AND t.type IN ('inflow', 'outflow')
		 ORDER BY t.id`, fundID, bookingPeriod)
}

func (r *PgRepository) ListByOriginating(ctx context.Context, originID int64) ([]domain.Transfer, error) {
	return r.list(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE originating_id = $1 ORDER BY id`, originID)
}

// AnyForPeriod reports whether any transfer references a holding of the given
// fund and period. Used to refuse rollbacks that would orphan data.
func (r *PgRepository) AnyForPeriod(ctx context.Context, fundID int64, bookingPeriod string) (bool, error) {
	var exists bool
	err := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM transfers t
			JOIN holdings h ON h.id = t.holding_id
			WHERE h.fund_id = $1 AND h.booking_period = $2)`,
		fundID, bookingPeriod).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking transfers for period %s: %w", bookingPeriod, err)
	}
	return exists, nil
}

const qualifiedTransferColumns = `t.id, t.holding_id, t.fee_holding_id, t.type, t.direction,
	t.amount, t.fee, t.exchange_rate, t.opposite_id, t.originating_id, t.reference, t.created_at`
