// Package fund persists funds and their running share totals.
package fund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
)

// PgRepository stores funds in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a fund repository backed by the given pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const fundColumns = `id, name, reporting_currency, primary_asset, admin_fee_rate,
	admin_fee_frequency_months, performance_fee_rate, total_shares, total_value,
	share_value_hwm, current_period, end_date`

func scanFund(row pgx.Row) (*domain.Fund, error) {
	var f domain.Fund
	var primaryAsset string
	err := row.Scan(&f.ID, &f.Name, &f.ReportingCurrency, &primaryAsset,
		&f.AdminFeeRate, &f.AdminFeeFrequencyMonths, &f.PerformanceFeeRate,
		&f.TotalShares, &f.TotalValue, &f.ShareValueHWM, &f.CurrentPeriod, &f.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning fund: %w", err)
	}
	f.PrimaryAsset, err = domain.ParseAssetRef(primaryAsset)
	if err != nil {
		return nil, fmt.Errorf("fund %d: %w", f.ID, err)
	}
	return &f, nil
}

// Get returns the fund by id, or nil when it does not exist.
func (r *PgRepository) Get(ctx context.Context, id int64) (*domain.Fund, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = $1`, id)
	return scanFund(row)
}

// ListActive returns every fund that has not ended before the given instant.
func (r *PgRepository) ListActive(ctx context.Context, at time.Time) ([]domain.Fund, error) {
	rows, err := database.From(ctx, r.pool).Query(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE end_date IS NULL OR end_date >= $1 ORDER BY id`, at)
	if err != nil {
		return nil, fmt.Errorf("listing active funds: %w", err)
	}
	defer rows.Close()

	var funds []domain.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

// Update persists the mutable fund fields: share totals, high-water mark and
// the active period pointer.
func (r *PgRepository) Update(ctx context.Context, f domain.Fund) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`UPDATE funds SET total_shares = $2, total_value = $3, share_value_hwm = $4,
			current_period = $5 WHERE id = $1`,
		f.ID, f.TotalShares, f.TotalValue, f.ShareValueHWM, f.CurrentPeriod)
	if err != nil {
		return fmt.Errorf("updating fund %d: %w", f.ID, err)
	}
	return nil
}
