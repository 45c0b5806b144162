package price

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
)

// SourceNav marks listings entered manually from NAV bookkeeping; they take
// precedence over any external source near their timestamp.
const SourceNav = "nav"

// Listing is one recorded price observation for an asset.
type Listing struct {
	ID       int64
	Asset    domain.AssetRef
	Source   string
	ListedAt time.Time
	USDPrice decimal.Decimal
	BTCPrice decimal.Decimal
}

// ListingRepository defines persistent storage for price listings. Lookup
// methods return nil when no listing matches.
type ListingRepository interface {
	NavSourcedAround(ctx context.Context, asset domain.AssetRef, at time.Time, window time.Duration) (*Listing, error)
	LatestBySourceBetween(ctx context.Context, asset domain.AssetRef, source string, from, to time.Time) (*Listing, error)
	LatestAtOrBefore(ctx context.Context, asset domain.AssetRef, at time.Time) (*Listing, error)
	First(ctx context.Context, asset domain.AssetRef) (*Listing, error)
	Insert(ctx context.Context, l Listing) error
	LatestAnySource(ctx context.Context, asset domain.AssetRef) (*Listing, error)
}

// PgListingRepository implements ListingRepository with PostgreSQL.
type PgListingRepository struct {
	pool *pgxpool.Pool
}

// NewPgListingRepository creates a new PostgreSQL listing repository.
func NewPgListingRepository(pool *pgxpool.Pool) *PgListingRepository {
	return &PgListingRepository{pool: pool}
}

const listingColumns = `id, asset, source, listed_at, usd_price, btc_price`

func (r *PgListingRepository) scanOne(row pgx.Row) (*Listing, error) {
	var l Listing
	var asset string
	err := row.Scan(&l.ID, &asset, &l.Source, &l.ListedAt, &l.USDPrice, &l.BTCPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning listing: %w", err)
	}
	l.Asset, err = domain.ParseAssetRef(asset)
	if err != nil {
		return nil, fmt.Errorf("scanning listing: %w", err)
	}
	return &l, nil
}

func (r *PgListingRepository) NavSourcedAround(ctx context.Context, asset domain.AssetRef, at time.Time, window time.Duration) (*Listing, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+listingColumns+` FROM asset_listings
		 WHERE asset = $1 AND source = $2 AND listed_at BETWEEN $3 AND $4
		 ORDER BY ABS(EXTRACT(EPOCH FROM (listed_at - $5::timestamptz))) ASC
		 LIMIT 1`,
		asset.Canonical(), SourceNav, at.Add(-window), at.Add(window), at)
	return r.scanOne(row)
}

func (r *PgListingRepository) LatestBySourceBetween(ctx context.Context, asset domain.AssetRef, source string, from, to time.Time) (*Listing, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+listingColumns+` FROM asset_listings
		 WHERE asset = $1 AND source = $2 AND listed_at BETWEEN $3 AND $4
		 ORDER BY listed_at DESC
		 LIMIT 1`,
		asset.Canonical(), source, from, to)
	return r.scanOne(row)
}

func (r *PgListingRepository) LatestAtOrBefore(ctx context.Context, asset domain.AssetRef, at time.Time) (*Listing, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+listingColumns+` FROM asset_listings
		 WHERE asset = $1 AND listed_at <= $2
		 ORDER BY listed_at DESC
		 LIMIT 1`,
		asset.Canonical(), at)
	return r.scanOne(row)
}

func (r *PgListingRepository) First(ctx context.Context, asset domain.AssetRef) (*Listing, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+listingColumns+` FROM asset_listings
		 WHERE asset = $1
		 ORDER BY listed_at ASC
		 LIMIT 1`,
		asset.Canonical())
	return r.scanOne(row)
}

func (r *PgListingRepository) LatestAnySource(ctx context.Context, asset domain.AssetRef) (*Listing, error) {
	row := database.From(ctx, r.pool).QueryRow(ctx,
		`SELECT `+listingColumns+` FROM asset_listings
		 WHERE asset = $1
		 ORDER BY listed_at DESC
		 LIMIT 1`,
		asset.Canonical())
	return r.scanOne(row)
}

func (r *PgListingRepository) Insert(ctx context.Context, l Listing) error {
	_, err := database.From(ctx, r.pool).Exec(ctx,
		`INSERT INTO asset_listings (asset, source, listed_at, usd_price, btc_price)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (asset, source, listed_at) DO NOTHING`,
		l.Asset.Canonical(), l.Source, l.ListedAt, l.USDPrice, l.BTCPrice)
	if err != nil {
		return fmt.Errorf("inserting listing for %s: %w", l.Asset, err)
	}
	return nil
}
