package price

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfund/accounting/internal/domain"
)

// ImportService keeps the listings of tracked assets fresh by pulling the
// latest observation from the market-data collector.
type ImportService struct {
	listings ListingRepository
	market   MarketDataClient
	tracked  []domain.AssetRef
	window   time.Duration
	now      func() time.Time
}

// NewImportService creates an importer for the given tracked assets.
func NewImportService(listings ListingRepository, market MarketDataClient, tracked []domain.AssetRef) *ImportService {
	if listings == nil {
		panic("price.NewImportService: listings is nil")
	}
	if market == nil {
		panic("price.NewImportService: market is nil")
	}
	return &ImportService{
		listings: listings,
		market:   market,
		tracked:  tracked,
		window:   24 * time.Hour,
		now:      time.Now,
	}
}

// RefreshListings fetches the trailing window of prices for every tracked
// asset and stores the most recent observation. A single failing asset does
// not stop the others.
func (s *ImportService) RefreshListings(ctx context.Context) error {
	now := s.now()
	var failed int
	for _, asset := range s.tracked {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.refreshOne(ctx, asset, now); err != nil {
			slog.Error("price import: refresh failed", "asset", asset, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("refreshing listings: %d of %d assets failed", failed, len(s.tracked))
	}
	return nil
}

func (s *ImportService) refreshOne(ctx context.Context, asset domain.AssetRef, now time.Time) error {
	history, err := s.market.HistoricalPrices(ctx, asset, now.Add(-s.window), now)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		slog.Warn("price import: no observations", "asset", asset)
		return nil
	}

	latest := history[len(history)-1]
	existing, err := s.listings.LatestBySourceBetween(ctx, asset, latest.Source, latest.ListedAt, now)
	if err != nil {
		return err
	}
	if existing != nil && !existing.ListedAt.Before(latest.ListedAt) {
		return nil
	}
	return s.listings.Insert(ctx, latest)
}
