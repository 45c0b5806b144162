package nav

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
)

// Repository stores NAV snapshots. Lookups return nil when no row matches.
type Repository interface {
	Insert(ctx context.Context, n *domain.Nav) error
	Get(ctx context.Context, fundID int64, bookingPeriod string, typ domain.NavType) (*domain.Nav, error)
	LatestNav(ctx context.Context, fundID int64) (*domain.Nav, error)
	ListByFund(ctx context.Context, fundID int64) ([]domain.Nav, error)
	Delete(ctx context.Context, id int64) error
}

// PgRepository stores NAVs in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a NAV repository backed by the given pool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const navColumns = `id, fund_id, booking_period, nav_type, total_shares, total_value,
	share_gross, share_nav, share_hwm, administration_fee, performance_fee,
	in_out_value, in_out_shares, currency_rate, created_at`

func scanNav(row pgx.Row) (*domain.Nav, error) {
	var n domain.Nav
	err := row.Scan(&n.ID, &n.FundID, &n.BookingPeriod, &n.Type, &n.TotalShares,
		&n.TotalValue, &n.ShareGross, &n.ShareNAV, &n.ShareHWM, &n.AdministrationFee,
		&n.PerformanceFee, &n.InOutValue, &n.InOutShares, &n.CurrencyRate, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning nav: %w", err)
	}
	return &n, nil
}

func (r *PgRepository) Insert(ctx context.Context, n *domain.Nav) error {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO navs (fund_id, booking_period, nav_type, total_shares, total_value,
			share_gross, share_nav, share_hwm, administration_fee, performance_fee,
			in_out_value, in_out_shares, currency_rate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		n.FundID, n.BookingPeriod, n.Type, n.TotalShares, n.TotalValue,
		n.ShareGross, n.ShareNAV, n.ShareHWM, n.AdministrationFee, n.PerformanceFee,
		n.InOutValue, n.InOutShares, n.CurrencyRate, n.CreatedAt)
	if err := row.Scan(&n.ID); err != nil {
		return fmt.Errorf("inserting nav for fund %d period %s: %w", n.FundID, n.BookingPeriod, err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, fundID int64, bookingPeriod string, typ domain.NavType) (*domain.Nav, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+navColumns+` FROM navs
		 WHERE fund_id = $1 AND booking_period = $2 AND nav_type = $3`,
		fundID, bookingPeriod, typ)
	return scanNav(row)
}

// LatestNav returns the fund's most recent authoritative period-close NAV.
func (r *PgRepository) LatestNav(ctx context.Context, fundID int64) (*domain.Nav, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+navColumns+` FROM navs
		 WHERE fund_id = $1 AND nav_type = $2
		 ORDER BY booking_period DESC LIMIT 1`,
		fundID, domain.NavPeriod)
	return scanNav(row)
}

func (r *PgRepository) ListByFund(ctx context.Context, fundID int64) ([]domain.Nav, error) {
	rows, err := database.From(ctx, r.pool).Query(ctx,
		`SELECT `+navColumns+` FROM navs WHERE fund_id = $1 ORDER BY booking_period, nav_type`,
		fundID)
	if err != nil {
		return nil, fmt.Errorf("listing navs for fund %d: %w", fundID, err)
	}
	defer rows.Close()

	var navs []domain.Nav
	for rows.Next() {
		n, err := scanNav(rows)
		if err != nil {
			return nil, err
		}
		navs = append(navs, *n)
	}
	return navs, rows.Err()
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	_, err := database.From(ctx, r.pool).Exec(ctx, `DELETE FROM navs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting nav %d: %w", id, err)
	}
	return nil
}
