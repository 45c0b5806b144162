// Package trade stores executed trades and their order-funding weights.
// Trades are append-only; the booking-period tag is set only when a close has
// folded the trade into a period's holdings.
package trade

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/period"
)

// PgRepository implements trade storage with PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL trade repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Insert records an executed trade. Trades are never updated or deleted.
func (r *PgRepository) Insert(ctx context.Context, t *domain.Trade) error {
	err := database.From(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO trades (order_id, base_asset, quote_asset, fee_asset,
			executed, total, fee, side, booking_period, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9)
		 RETURNING id`,
		t.OrderID, t.BaseAsset.Canonical(), t.QuoteAsset.Canonical(), t.FeeAsset.Canonical(),
		t.Executed, t.Total, t.Fee, t.Side, t.ExecutedAt).
		Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("inserting trade: %w", err)
	}
	return nil
}

// SetFunding records what percentage of an order each fund financed.
func (r *PgRepository) SetFunding(ctx context.Context, f domain.OrderFunding) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`INSERT INTO order_fundings (order_id, fund_id, percentage)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (order_id, fund_id) DO UPDATE SET percentage = $3`,
		f.OrderID, f.FundID, f.Percentage)
	if err != nil {
		return fmt.Errorf("setting order funding: %w", err)
	}
	return nil
}

// ListFundedForPeriod returns trades executed inside the booking period for
// orders the fund helped finance, each weighted by the fund's funding
// percentage.
func (r *PgRepository) ListFundedForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.FundedTrade, error) {
	start, err := period.Start(bookingPeriod)
	if err != nil {
		return nil, err
	}
	end, err := period.End(bookingPeriod)
	if err != nil {
		return nil, err
	}

	rows, err := database.From(ctx, r.pool).Query(ctx,
		`SELECT t.id, t.order_id, t.base_asset, t.quote_asset, t.fee_asset,
			t.executed, t.total, t.fee, t.side, t.booking_period, t.executed_at,
			f.percentage
		 FROM trades t
		 JOIN order_fundings f ON f.order_id = t.order_id
		 WHERE f.fund_id = $1 AND t.executed_at >= $2 AND t.executed_at < $3
		 ORDER BY t.executed_at, t.id`,
		fundID, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing funded trades: %w", err)
	}
	defer rows.Close()

	var out []domain.FundedTrade
	for rows.Next() {
		var ft domain.FundedTrade
		var base, quote, fee string
		if err := rows.Scan(&ft.ID, &ft.OrderID, &base, &quote, &fee,
			&ft.Executed, &ft.Total, &ft.Fee, &ft.Side, &ft.BookingPeriod, &ft.ExecutedAt,
			&ft.FundPercentage); err != nil {
			return nil, fmt.Errorf("scanning funded trade: %w", err)
		}
		if ft.BaseAsset, err = domain.ParseAssetRef(base); err != nil {
			return nil, err
		}
		if ft.QuoteAsset, err = domain.ParseAssetRef(quote); err != nil {
			return nil, err
		}
		if ft.FeeAsset, err = domain.ParseAssetRef(fee); err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

// TagBooked stamps all still-unbooked trades of the period with its code,
// marking their effect as folded into closed holdings.
func (r *PgRepository) TagBooked(ctx context.Context, fundID int64, bookingPeriod string) error {
	start, err := period.Start(bookingPeriod)
	if err != nil {
		return err
	}
	end, err := period.End(bookingPeriod)
	if err != nil {
		return err
	}
	_, err = database.From(ctx, r.pool).Exec(ctx,
		`UPDATE trades SET booking_period = $1
		 WHERE booking_period = ''
		   AND executed_at >= $2 AND executed_at < $3
		   AND order_id IN (SELECT order_id FROM order_fundings WHERE fund_id = $4)`,
		bookingPeriod, start, end, fundID)
	if err != nil {
		return fmt.Errorf("tagging booked trades: %w", err)
	}
	return nil
}

// UntagBooked clears the booking tag for a rolled-back period.
func (r *PgRepository) UntagBooked(ctx context.Context, fundID int64, bookingPeriod string) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`UPDATE trades SET booking_period = ''
		 WHERE booking_period = $1
		   AND order_id IN (SELECT order_id FROM order_fundings WHERE fund_id = $2)`,
		bookingPeriod, fundID)
	if err != nil {
		return fmt.Errorf("untagging booked trades: %w", err)
	}
	return nil
}
