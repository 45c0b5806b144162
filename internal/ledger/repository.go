package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
)

// Repository defines persistent storage for holdings. Single-row lookups
// return nil when no holding matches.
type Repository interface {
	Get(ctx context.Context, id int64) (*domain.Holding, error)
	GetByAsset(ctx context.Context, fundID int64, period string, asset domain.AssetRef) (*domain.Holding, error)
	ListByPeriod(ctx context.Context, fundID int64, period string) ([]domain.Holding, error)
	ListOpen(ctx context.Context) ([]domain.Holding, error)
	Insert(ctx context.Context, h *domain.Holding) error
	Update(ctx context.Context, h domain.Holding) error
	Delete(ctx context.Context, id int64) error
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL holdings repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const holdingColumns = `id, fund_id, booking_period, asset, start_balance, end_balance, nav_balance,
	start_usd_price, start_btc_price, end_usd_price, end_btc_price,
	start_percentage, end_percentage, layer_index, previous_holding_id, period_closed_at`

func scanHolding(row pgx.Row) (*domain.Holding, error) {
	var h domain.Holding
	var asset string
	err := row.Scan(&h.ID, &h.FundID, &h.BookingPeriod, &asset, &h.StartBalance, &h.EndBalance,
		&h.NavBalance, &h.StartUSDPrice, &h.StartBTCPrice, &h.EndUSDPrice, &h.EndBTCPrice,
		&h.StartPercentage, &h.EndPercentage, &h.LayerIndex, &h.PreviousHoldingID, &h.PeriodClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning holding: %w", err)
	}
	h.Asset, err = domain.ParseAssetRef(asset)
	if err != nil {
		return nil, fmt.Errorf("scanning holding: %w", err)
	}
	return &h, nil
}

func (r *PgRepository) Get(ctx context.Context, id int64) (*domain.Holding, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id)
	return scanHolding(row)
}

func (r *PgRepository) GetByAsset(ctx context.Context, fundID int64, period string, asset domain.AssetRef) (*domain.Holding, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE fund_id = $1 AND booking_period = $2 AND asset = $3`,
		fundID, period, asset.Canonical())
	return scanHolding(row)
}

func (r *PgRepository) list(ctx context.Context, sql string, args ...any) ([]domain.Holding, error) {
	rows, err := database.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

func (r *PgRepository) ListByPeriod(ctx context.Context, fundID int64, period string) ([]domain.Holding, error) {
	return r.list(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE fund_id = $1 AND booking_period = $2
		 ORDER BY id`, fundID, period)
}

func (r *PgRepository) ListOpen(ctx context.Context) ([]domain.Holding, error) {
	return r.list(ctx,
		`SELECT `+holdingColumns+` FROM holdings
		 WHERE period_closed_at IS NULL
		 ORDER BY fund_id, id`)
}

func (r *PgRepository) Insert(ctx context.Context, h *domain.Holding) error {
	err := database.From(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO holdings (fund_id, booking_period, asset, start_balance, end_balance, nav_balance,
			start_usd_price, start_btc_price, end_usd_price, end_btc_price,
			start_percentage, end_percentage, layer_index, previous_holding_id, period_closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		h.FundID, h.BookingPeriod, h.Asset.Canonical(), h.StartBalance, h.EndBalance, h.NavBalance,
		h.StartUSDPrice, h.StartBTCPrice, h.EndUSDPrice, h.EndBTCPrice,
		h.StartPercentage, h.EndPercentage, h.LayerIndex, h.PreviousHoldingID, h.PeriodClosedAt).
		Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("inserting holding for %s: %w", h.Asset, err)
	}
	return nil
}

func (r *PgRepository) Update(ctx context.Context, h domain.Holding) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`UPDATE holdings SET
			start_balance = $2, end_balance = $3, nav_balance = $4,
			start_usd_price = $5, start_btc_price = $6, end_usd_price = $7, end_btc_price = $8,
			start_percentage = $9, end_percentage = $10, layer_index = $11,
			previous_holding_id = $12, period_closed_at = $13
		 WHERE id = $1`,
		h.ID, h.StartBalance, h.EndBalance, h.NavBalance,
		h.StartUSDPrice, h.StartBTCPrice, h.EndUSDPrice, h.EndBTCPrice,
		h.StartPercentage, h.EndPercentage, h.LayerIndex,
		h.PreviousHoldingID, h.PeriodClosedAt)
	if err != nil {
		return fmt.Errorf("updating holding %d: %w", h.ID, err)
	}
	return nil
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	_, err := database.From(ctx, r.pool).Exec(ctx, `DELETE FROM holdings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting holding %d: %w", id, err)
	}
	return nil
}
