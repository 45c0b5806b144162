// Package ledger owns the per-asset, per-period holding rows: creation,
// balance rollforward, percentage computation and follow-on creation at
// period close.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/period"
	"github.com/openfund/accounting/internal/price"
)

// TransferSource lists transfers affecting a fund's holdings in a period.
type TransferSource interface {
	ListForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error)
}

// TradeSource lists trades funded by a fund, weighted by its order funding
// percentage.
type TradeSource interface {
	ListFundedForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.FundedTrade, error)
}

// PriceSource resolves asset prices.
type PriceSource interface {
	Resolve(ctx context.Context, asset domain.AssetRef, at time.Time, importHistory bool) (price.Price, error)
}

// Service orchestrates holding reads, pure balance computation and batched
// writes.
type Service struct {
	repo      Repository
	transfers TransferSource
	trades    TradeSource
	prices    PriceSource
}

// NewService creates a holdings ledger Service.
func NewService(repo Repository, transfers TransferSource, trades TradeSource, prices PriceSource) *Service {
	if repo == nil {
		panic("ledger.NewService: repo is nil")
	}
	if transfers == nil {
		panic("ledger.NewService: transfers is nil")
	}
	if trades == nil {
		panic("ledger.NewService: trades is nil")
	}
	if prices == nil {
		panic("ledger.NewService: prices is nil")
	}
	return &Service{repo: repo, transfers: transfers, trades: trades, prices: prices}
}

// GetOrCreateHolding returns the fund's holding for the asset in the period,
// creating it when the asset first appears. New holdings are seeded with the
// latest resolvable price at the period's start; an unresolvable start price
// is tolerated here because period close re-resolves and fails hard.
func (s *Service) GetOrCreateHolding(ctx context.Context, fund domain.Fund, asset domain.AssetRef, bookingPeriod string) (*domain.Holding, error) {
	if asset.IsZero() {
		var v domain.ValidationErrors
		v.Addf("asset", "holding must reference exactly one of fiat, crypto or fund shares")
		return nil, v.AsError()
	}

	existing, err := s.repo.GetByAsset(ctx, fund.ID, bookingPeriod, asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	h := domain.Holding{
		FundID:        fund.ID,
		BookingPeriod: bookingPeriod,
		Asset:         asset,
	}

	start, err := period.Start(bookingPeriod)
	if err != nil {
		return nil, err
	}
	p, err := s.prices.Resolve(ctx, asset, start, false)
	var unavailable *domain.PriceUnavailableError
	switch {
	case err == nil:
		h.StartUSDPrice = p.USD
		h.StartBTCPrice = p.BTC
	case errors.As(err, &unavailable):
		slog.Warn("ledger: creating holding without start price", "asset", asset.Canonical(), "period", bookingPeriod)
	default:
		return nil, err
	}

	if err := s.repo.Insert(ctx, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// RollforwardEndBalances resets every end balance in the period from its
// start balance and replays all transfers and funded trades. Idempotent for
// unchanged inputs.
func (s *Service) RollforwardEndBalances(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error) {
	holdings, err := s.repo.ListByPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, nil
	}

	transfers, err := s.transfers.ListForPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return nil, err
	}
	trades, err := s.trades.ListFundedForPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return nil, err
	}

	updated := Rollforward(holdings, transfers, trades)
	for _, h := range updated {
		if err := s.repo.Update(ctx, h); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// RecalcPercentages recomputes every holding's share of fund value for the
// period and persists the result.
func (s *Service) RecalcPercentages(ctx context.Context, fundID int64, bookingPeriod string) error {
	holdings, err := s.repo.ListByPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return err
	}
	for _, h := range RecalcPercentages(holdings) {
		if err := s.repo.Update(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Freeze snapshots each holding's end balance into NavBalance and stamps the
// close time. Returns the frozen holdings.
func (s *Service) Freeze(ctx context.Context, fundID int64, bookingPeriod string, at time.Time) ([]domain.Holding, error) {
	holdings, err := s.repo.ListByPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return nil, err
	}
	closedAt := at
	for i := range holdings {
		holdings[i].NavBalance = holdings[i].EndBalance
		holdings[i].PeriodClosedAt = &closedAt
		if err := s.repo.Update(ctx, holdings[i]); err != nil {
			return nil, err
		}
	}
	return holdings, nil
}

// Unfreeze reverses Freeze for a rollback: clears NavBalance and the close
// stamp.
func (s *Service) Unfreeze(ctx context.Context, fundID int64, bookingPeriod string) error {
	holdings, err := s.repo.ListByPeriod(ctx, fundID, bookingPeriod)
	if err != nil {
		return err
	}
	for i := range holdings {
		holdings[i].NavBalance = decimal.Zero
		holdings[i].PeriodClosedAt = nil
		if err := s.repo.Update(ctx, holdings[i]); err != nil {
			return err
		}
	}
	return nil
}

// CreateFollowOnHoldings seeds the next period's holdings from the frozen end
// state. Zero-balance holdings are skipped, as is the whole step when the
// fund ended before the next period starts.
func (s *Service) CreateFollowOnHoldings(ctx context.Context, fund domain.Fund, closed []domain.Holding, nextPeriod string) error {
	nextStart, err := period.Start(nextPeriod)
	if err != nil {
		return err
	}
	if fund.EndedBefore(nextStart) {
		slog.Info("ledger: fund ended, skipping follow-on holdings", "fund", fund.ID, "period", nextPeriod)
		return nil
	}

	for _, h := range closed {
		if h.NavBalance.IsZero() {
			continue
		}
		existing, err := s.repo.GetByAsset(ctx, fund.ID, nextPeriod, h.Asset)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("follow-on holding for %s already exists in %s", h.Asset, nextPeriod)
		}
		next := FollowOn(h, nextPeriod)
		if err := s.repo.Insert(ctx, &next); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFollowOns removes the follow-on holdings chained from the given
// closed holdings, for rollback.
func (s *Service) DeleteFollowOns(ctx context.Context, fundID int64, nextPeriod string) error {
	holdings, err := s.repo.ListByPeriod(ctx, fundID, nextPeriod)
	if err != nil {
		return err
	}
	for _, h := range holdings {
		if err := s.repo.Delete(ctx, h.ID); err != nil {
			return err
		}
	}
	return nil
}

// Holding returns one holding by id, or nil when absent.
func (s *Service) Holding(ctx context.Context, id int64) (*domain.Holding, error) {
	return s.repo.Get(ctx, id)
}

// Holdings returns the fund's holdings for a period.
func (s *Service) Holdings(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error) {
	return s.repo.ListByPeriod(ctx, fundID, bookingPeriod)
}

// UpdateHolding persists a mutated holding, enforcing the closed-period
// guard unless correction is set.
func (s *Service) UpdateHolding(ctx context.Context, h domain.Holding, correction bool) error {
	if h.Closed() && !correction {
		return domain.ErrPeriodClosed
	}
	return s.repo.Update(ctx, h)
}
