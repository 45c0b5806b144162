// Package price resolves a USD and BTC price for any holdable asset at a
// point in time, from recorded listings with external backfill fallback.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
)

const (
	navListingWindow = time.Hour
	freshnessWindow  = 24 * time.Hour
)

// Price is an asset's value in USD and BTC.
type Price struct {
	USD decimal.Decimal
	BTC decimal.Decimal
}

// NavSource provides the latest NAV of a fund, for pricing fund-share assets.
// It returns nil when the fund has never had a NAV.
type NavSource interface {
	LatestNav(ctx context.Context, fundID int64) (*domain.Nav, error)
}

// Resolver resolves asset prices. Resolution order, first match wins: a
// NAV-sourced listing within an hour of the instant; the preferred source
// within a trailing 24-hour window; any source within that window; the most
// recent listing at or before the instant; the first listing ever recorded.
// On-demand backfill runs only when no source has a listing within the
// window.
type Resolver struct {
	listings  ListingRepository
	navs      NavSource
	market    MarketDataClient
	cache     *priceCache
	preferred string
	btcAsset  domain.AssetRef
}

// NewResolver creates a price Resolver. market may be nil to disable history
// backfill.
func NewResolver(listings ListingRepository, navs NavSource, market MarketDataClient, preferredSource string, btcAsset domain.AssetRef) *Resolver {
	if listings == nil {
		panic("price.NewResolver: listings is nil")
	}
	if navs == nil {
		panic("price.NewResolver: navs is nil")
	}
	return &Resolver{
		listings:  listings,
		navs:      navs,
		market:    market,
		cache:     newPriceCache(),
		preferred: preferredSource,
		btcAsset:  btcAsset,
	}
}

// Resolve returns the asset's USD and BTC price at the given instant. When
// importHistory is set and no recent listing exists, a historical backfill is
// attempted before falling through the ladder. It never returns a synthetic
// zero: an unresolvable price yields a *domain.PriceUnavailableError.
func (r *Resolver) Resolve(ctx context.Context, asset domain.AssetRef, at time.Time, importHistory bool) (Price, error) {
	if asset.IsZero() {
		return Price{}, &domain.PriceUnavailableError{Asset: asset, At: at}
	}

	key := cacheKey(asset, at)
	if cached, ok := r.cache.get(key); ok {
		return cached, nil
	}

	var p Price
	var err error
	if fundID, ok := asset.SharesFundID(); ok {
		p, err = r.resolveFundShares(ctx, fundID, asset, at)
	} else {
		p, err = r.resolveFromListings(ctx, asset, at, importHistory)
	}
	if err != nil {
		return Price{}, err
	}

	r.cache.set(key, p)
	return p, nil
}

// resolveFundShares prices another fund's shares from that fund's most recent
// NAV divided by its reporting-currency USD rate.
func (r *Resolver) resolveFundShares(ctx context.Context, fundID int64, asset domain.AssetRef, at time.Time) (Price, error) {
	nav, err := r.navs.LatestNav(ctx, fundID)
	if err != nil {
		return Price{}, fmt.Errorf("loading NAV for fund %d: %w", fundID, err)
	}
	if nav == nil {
		return Price{}, &domain.PriceUnavailableError{Asset: asset, At: at}
	}

	rate := nav.CurrencyRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	usd := nav.ShareNAV.Div(rate)
	return r.withDerivedBTC(ctx, Price{USD: usd}, at)
}

func (r *Resolver) resolveFromListings(ctx context.Context, asset domain.AssetRef, at time.Time, importHistory bool) (Price, error) {
	if code, ok := asset.FiatCode(); ok && code == "USD" {
		return r.withDerivedBTC(ctx, Price{USD: decimal.NewFromInt(1)}, at)
	}

	listing, err := r.findListing(ctx, asset, at, importHistory)
	if err != nil {
		return Price{}, err
	}
	if listing == nil {
		return Price{}, &domain.PriceUnavailableError{Asset: asset, At: at}
	}

	p := Price{USD: listing.USDPrice, BTC: listing.BTCPrice}
	return r.deriveMissingSide(ctx, p, asset, at)
}

func (r *Resolver) findListing(ctx context.Context, asset domain.AssetRef, at time.Time, importHistory bool) (*Listing, error) {
	l, err := r.listings.NavSourcedAround(ctx, asset, at, navListingWindow)
	if err != nil || l != nil {
		return l, err
	}

	l, err = r.listings.LatestBySourceBetween(ctx, asset, r.preferred, at.Add(-freshnessWindow), at)
	if err != nil || l != nil {
		return l, err
	}

	l, err = r.listings.LatestAtOrBefore(ctx, asset, at)
	if err != nil {
		return nil, err
	}
	if l != nil && at.Sub(l.ListedAt) <= freshnessWindow {
		// A fresh listing from any source makes an external backfill
		// unnecessary.
		return l, nil
	}

	if importHistory && r.market != nil {
		if err := r.backfill(ctx, asset, at); err != nil {
			slog.Warn("price: history backfill failed", "asset", asset.Canonical(), "error", err)
		} else {
			fresh, err := r.listings.LatestBySourceBetween(ctx, asset, r.preferred, at.Add(-freshnessWindow), at)
			if err != nil || fresh != nil {
				return fresh, err
			}
			l, err = r.listings.LatestAtOrBefore(ctx, asset, at)
			if err != nil {
				return nil, err
			}
		}
	}

	if l != nil {
		return l, nil
	}

	return r.listings.First(ctx, asset)
}

func (r *Resolver) backfill(ctx context.Context, asset domain.AssetRef, at time.Time) error {
	fetched, err := r.market.HistoricalPrices(ctx, asset, at.Add(-freshnessWindow), at)
	if err != nil {
		return err
	}
	for _, l := range fetched {
		if err := r.listings.Insert(ctx, l); err != nil {
			return err
		}
	}
	slog.Info("price: backfilled listings", "asset", asset.Canonical(), "count", len(fetched))
	return nil
}

// deriveMissingSide fills in a missing USD or BTC price from the BTC/USD
// cross rate when only one side is known.
func (r *Resolver) deriveMissingSide(ctx context.Context, p Price, asset domain.AssetRef, at time.Time) (Price, error) {
	if !p.USD.IsZero() && !p.BTC.IsZero() {
		return p, nil
	}
	if p.USD.IsZero() && p.BTC.IsZero() {
		return Price{}, &domain.PriceUnavailableError{Asset: asset, At: at}
	}
	if p.BTC.IsZero() {
		return r.withDerivedBTC(ctx, p, at)
	}

	btcUSD, err := r.btcUSDPrice(ctx, at)
	if err != nil {
		return Price{}, err
	}
	p.USD = p.BTC.Mul(btcUSD)
	return p, nil
}

// withDerivedBTC computes the BTC side as usd / btcUSD. A missing BTC cross
// rate is tolerated: USD is the authoritative side for NAV totals.
func (r *Resolver) withDerivedBTC(ctx context.Context, p Price, at time.Time) (Price, error) {
	btcUSD, err := r.btcUSDPrice(ctx, at)
	if err != nil {
		slog.Warn("price: BTC cross rate unavailable", "error", err)
		return p, nil
	}
	p.BTC = domain.SafeDiv(p.USD, btcUSD)
	return p, nil
}

func (r *Resolver) btcUSDPrice(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	if r.btcAsset.IsZero() {
		return decimal.Zero, fmt.Errorf("no BTC reference asset configured")
	}
	l, err := r.listings.LatestAtOrBefore(ctx, r.btcAsset, at)
	if err != nil {
		return decimal.Zero, err
	}
	if l == nil || l.USDPrice.IsZero() {
		return decimal.Zero, &domain.PriceUnavailableError{Asset: r.btcAsset, At: at}
	}
	return l.USDPrice, nil
}
