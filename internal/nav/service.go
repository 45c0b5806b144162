// Package nav computes net-asset-value snapshots and drives the
// booking-period close/rollback state machine.
package nav

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/database"
	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/period"
	"github.com/openfund/accounting/internal/price"
)

// ProcessLockName is the system-wide accounting lock: only one
// close/rollback/daily-NAV operation runs at a time across all instances.
const ProcessLockName = "accounting"

// FundStore loads and updates funds. Get returns nil when the fund does not
// exist.
type FundStore interface {
	Get(ctx context.Context, id int64) (*domain.Fund, error)
	Update(ctx context.Context, f domain.Fund) error
}

// Ledger is the slice of the holdings ledger the engine drives.
type Ledger interface {
	Holdings(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error)
	RollforwardEndBalances(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error)
	RecalcPercentages(ctx context.Context, fundID int64, bookingPeriod string) error
	Freeze(ctx context.Context, fundID int64, bookingPeriod string, at time.Time) ([]domain.Holding, error)
	Unfreeze(ctx context.Context, fundID int64, bookingPeriod string) error
	CreateFollowOnHoldings(ctx context.Context, fund domain.Fund, closed []domain.Holding, nextPeriod string) error
	DeleteFollowOns(ctx context.Context, fundID int64, nextPeriod string) error
	UpdateHolding(ctx context.Context, h domain.Holding, correction bool) error
}

// TransferStore exposes the deferred investor flows of a period and whether
// any transfer references a period at all.
type TransferStore interface {
	ListDeferredForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error)
	AnyForPeriod(ctx context.Context, fundID int64, bookingPeriod string) (bool, error)
}

// TradeBooker tags a period's funded trades as booked at close.
type TradeBooker interface {
	TagBooked(ctx context.Context, fundID int64, bookingPeriod string) error
	UntagBooked(ctx context.Context, fundID int64, bookingPeriod string) error
}

// PriceSource resolves asset prices at an instant.
type PriceSource interface {
	Resolve(ctx context.Context, asset domain.AssetRef, at time.Time, importHistory bool) (price.Price, error)
}

// Locker is the distributed mutex guarding accounting operations.
type Locker interface {
	TryAcquire(ctx context.Context, name string, timeout time.Duration) (bool, error)
	Release(ctx context.Context, name string) (bool, error)
}

// Recorder is the audit change-log sink.
type Recorder interface {
	Record(ctx context.Context, table string, oldValue, newValue any)
}

// Service is the NAV engine.
type Service struct {
	funds       FundStore
	ledger      Ledger
	transfers   TransferStore
	trades      TradeBooker
	prices      PriceSource
	navs        Repository
	locker      Locker
	runner      database.Runner
	audit       Recorder
	lockTimeout time.Duration
	now         func() time.Time
}

// NewService creates the NAV engine.
func NewService(funds FundStore, ledger Ledger, transfers TransferStore, trades TradeBooker,
	prices PriceSource, navs Repository, locker Locker, runner database.Runner,
	audit Recorder, lockTimeout time.Duration) *Service {
	if funds == nil || ledger == nil || transfers == nil || trades == nil ||
		prices == nil || navs == nil || locker == nil || runner == nil {
		panic("nav.NewService: nil dependency")
	}
	return &Service{
		funds:       funds,
		ledger:      ledger,
		transfers:   transfers,
		trades:      trades,
		prices:      prices,
		navs:        navs,
		locker:      locker,
		runner:      runner,
		audit:       audit,
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// CloseBookingPeriod closes one fund's booking period: rollforward, end
// prices, the period NAV, deferred investor flows booked in shares, holding
// freeze and follow-on creation, fund totals and high-water mark. Everything
// persists inside a single transaction under the process-wide lock. Closing
// the calendar-current or a future period is rejected; force re-closes an
// already closed period.
func (s *Service) CloseBookingPeriod(ctx context.Context, fundID int64, bookingPeriod string, force bool) error {
	fund, err := s.funds.Get(ctx, fundID)
	if err != nil {
		return err
	}
	if fund == nil {
		return &domain.NotFoundError{Entity: "fund", ID: fundID}
	}
	if _, err := period.Parse(bookingPeriod); err != nil {
		return err
	}
	if bookingPeriod >= period.FromTime(s.now()) {
		return &domain.ConflictError{Op: "close period", Reason: fmt.Sprintf("period %s is still active", bookingPeriod)}
	}

	acquired, err := s.locker.TryAcquire(ctx, ProcessLockName, s.lockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockHeld
	}
	defer s.release(ctx)

	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		return s.closeLocked(ctx, *fund, bookingPeriod, force)
	})
}

func (s *Service) closeLocked(ctx context.Context, fund domain.Fund, bookingPeriod string, force bool) error {
	existing, err := s.navs.Get(ctx, fund.ID, bookingPeriod, domain.NavPeriod)
	if err != nil {
		return err
	}
	next, err := period.Next(bookingPeriod)
	if err != nil {
		return err
	}

	if existing != nil {
		if !force {
			return &domain.ConflictError{Op: "close period", Reason: fmt.Sprintf("period %s already closed", bookingPeriod)}
		}
		referenced, err := s.transfers.AnyForPeriod(ctx, fund.ID, next)
		if err != nil {
			return err
		}
		if referenced {
			return &domain.ConflictError{
				Op:     "close period",
				Reason: fmt.Sprintf("transfers already reference period %s", next),
			}
		}
		if err := s.reopen(ctx, fund, *existing); err != nil {
			return err
		}
		if err := s.restoreFund(ctx, &fund, *existing); err != nil {
			return err
		}
	}

	at, err := period.CloseEvaluationInstant(bookingPeriod)
	if err != nil {
		return err
	}

	holdings, err := s.ledger.RollforwardEndBalances(ctx, fund.ID, bookingPeriod)
	if err != nil {
		return err
	}

	rate, err := s.currencyRate(ctx, fund, at)
	if err != nil {
		return err
	}
	totalValue, err := s.priceHoldings(ctx, holdings, at, rate, true)
	if err != nil {
		return err
	}

	prev, err := s.navs.LatestNav(ctx, fund.ID)
	if err != nil {
		return err
	}
	nav := buildNav(fund, prev, bookingPeriod, domain.NavPeriod, totalValue, rate, s.now())

	if err := s.applyDeferredFlows(ctx, &nav, holdings); err != nil {
		return err
	}
	if err := s.navs.Insert(ctx, &nav); err != nil {
		return err
	}
	s.record(ctx, nil, nav)

	closed, err := s.ledger.Freeze(ctx, fund.ID, bookingPeriod, s.now())
	if err != nil {
		return err
	}
	if err := s.ledger.CreateFollowOnHoldings(ctx, fund, closed, next); err != nil {
		return err
	}
	if err := s.trades.TagBooked(ctx, fund.ID, bookingPeriod); err != nil {
		return err
	}

	before := fund
	fund.ShareValueHWM = domain.DecimalMax(fund.ShareValueHWM, nav.ShareNAV)
	if fund.CurrentPeriod == bookingPeriod {
		fund.TotalShares = nav.TotalShares.Add(nav.InOutShares)
		fund.TotalValue = nav.TotalValue.Add(nav.InOutValue)
		fund.CurrentPeriod = next
	}
	if err := s.funds.Update(ctx, fund); err != nil {
		return err
	}
	s.record(ctx, before, fund)

	// Trades executed in the new period before this close ran are already
	// on the books; bring the follow-on balances up to date right away.
	if _, err := s.ledger.RollforwardEndBalances(ctx, fund.ID, next); err != nil {
		return err
	}
	if err := s.ledger.RecalcPercentages(ctx, fund.ID, bookingPeriod); err != nil {
		return err
	}
	return s.ledger.RecalcPercentages(ctx, fund.ID, next)
}

// reopen undoes a prior close of the same period so force can redo it.
func (s *Service) reopen(ctx context.Context, fund domain.Fund, nav domain.Nav) error {
	next, err := period.Next(nav.BookingPeriod)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteFollowOns(ctx, fund.ID, next); err != nil {
		return err
	}
	if err := s.ledger.Unfreeze(ctx, fund.ID, nav.BookingPeriod); err != nil {
		return err
	}
	if err := s.revertDeferredFlows(ctx, nav); err != nil {
		return err
	}
	if err := s.trades.UntagBooked(ctx, fund.ID, nav.BookingPeriod); err != nil {
		return err
	}
	if err := s.navs.Delete(ctx, nav.ID); err != nil {
		return err
	}
	s.record(ctx, nav, nil)
	return nil
}

// restoreFund rewinds the fund's totals, high-water mark and period pointer
// to their state before the given NAV's close. The previous close captured
// the totals into its own NAV; the very first close captured the bootstrap
// totals into the NAV being undone.
func (s *Service) restoreFund(ctx context.Context, fund *domain.Fund, undone domain.Nav) error {
	prev, err := s.navs.LatestNav(ctx, fund.ID)
	if err != nil {
		return err
	}
	one := decimal.NewFromInt(1)
	if prev != nil {
		fund.TotalShares = prev.TotalShares.Add(prev.InOutShares)
		fund.TotalValue = prev.TotalValue.Add(prev.InOutValue)
		fund.ShareValueHWM = domain.DecimalMax(prev.ShareHWM, one)
	} else {
		fund.TotalShares = undone.TotalShares
		fund.TotalValue = undone.TotalValue
		fund.ShareValueHWM = one
	}
	next, err := period.Next(undone.BookingPeriod)
	if err != nil {
		return err
	}
	if fund.CurrentPeriod == next {
		fund.CurrentPeriod = undone.BookingPeriod
	}
	return nil
}

// RollbackCloseBookingPeriod reverses the most recent period close: follow-on
// holdings are removed, the frozen holdings reopened, the NAV deleted, and
// the fund's totals, high-water mark and period pointer restored. It refuses
// when any transfer already references the succeeding period.
func (s *Service) RollbackCloseBookingPeriod(ctx context.Context, fundID int64) error {
	fund, err := s.funds.Get(ctx, fundID)
	if err != nil {
		return err
	}
	if fund == nil {
		return &domain.NotFoundError{Entity: "fund", ID: fundID}
	}

	nav, err := s.navs.LatestNav(ctx, fundID)
	if err != nil {
		return err
	}
	if nav == nil {
		return &domain.ConflictError{Op: "rollback close", Reason: "no closed period to roll back"}
	}
	next, err := period.Next(nav.BookingPeriod)
	if err != nil {
		return err
	}
	referenced, err := s.transfers.AnyForPeriod(ctx, fundID, next)
	if err != nil {
		return err
	}
	if referenced {
		return &domain.ConflictError{
			Op:     "rollback close",
			Reason: fmt.Sprintf("transfers already reference period %s", next),
		}
	}

	acquired, err := s.locker.TryAcquire(ctx, ProcessLockName, s.lockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockHeld
	}
	defer s.release(ctx)

	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.reopen(ctx, *fund, *nav); err != nil {
			return err
		}

		before := *fund
		if err := s.restoreFund(ctx, fund, *nav); err != nil {
			return err
		}
		if err := s.funds.Update(ctx, *fund); err != nil {
			return err
		}
		s.record(ctx, before, *fund)

		return s.ledger.RecalcPercentages(ctx, fund.ID, nav.BookingPeriod)
	})
}

// CreateDailyNav computes an informational daily NAV for the period
// containing date. Holding prices are persisted only when date is today;
// older dates are valued in memory without touching the authoritative state.
// An existing daily NAV for the period is replaced.
func (s *Service) CreateDailyNav(ctx context.Context, fundID int64, date time.Time) error {
	fund, err := s.funds.Get(ctx, fundID)
	if err != nil {
		return err
	}
	if fund == nil {
		return &domain.NotFoundError{Entity: "fund", ID: fundID}
	}

	acquired, err := s.locker.TryAcquire(ctx, ProcessLockName, s.lockTimeout)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockHeld
	}
	defer s.release(ctx)

	bookingPeriod := period.FromTime(date)
	at := period.NavEvaluationInstant(date)
	mutating := sameDay(date, s.now())

	return s.runner.WithinTx(ctx, func(ctx context.Context) error {
		var holdings []domain.Holding
		if mutating {
			holdings, err = s.ledger.RollforwardEndBalances(ctx, fund.ID, bookingPeriod)
		} else {
			holdings, err = s.ledger.Holdings(ctx, fund.ID, bookingPeriod)
		}
		if err != nil {
			return err
		}

		rate, err := s.currencyRate(ctx, *fund, at)
		if err != nil {
			return err
		}
		totalValue, err := s.priceHoldings(ctx, holdings, at, rate, mutating)
		if err != nil {
			return err
		}

		prev, err := s.navs.LatestNav(ctx, fund.ID)
		if err != nil {
			return err
		}
		nav := buildNav(*fund, prev, bookingPeriod, domain.NavDaily, totalValue, rate, s.now())

		existing, err := s.navs.Get(ctx, fund.ID, bookingPeriod, domain.NavDaily)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := s.navs.Delete(ctx, existing.ID); err != nil {
				return err
			}
		}
		if err := s.navs.Insert(ctx, &nav); err != nil {
			return err
		}
		s.record(ctx, existing, nav)
		return nil
	})
}

// priceHoldings resolves the end price of every holding and returns the
// period's total value in the fund's reporting currency. With persist set the
// resolved prices are written back to the holdings. Any unresolvable asset
// fails the whole operation.
func (s *Service) priceHoldings(ctx context.Context, holdings []domain.Holding, at time.Time, rate decimal.Decimal, persist bool) (decimal.Decimal, error) {
	total := decimal.Zero
	for i := range holdings {
		p, err := s.prices.Resolve(ctx, holdings[i].Asset, at, true)
		if err != nil {
			return decimal.Zero, err
		}
		holdings[i].EndUSDPrice = p.USD
		holdings[i].EndBTCPrice = p.BTC
		if persist {
			if err := s.ledger.UpdateHolding(ctx, holdings[i], false); err != nil {
				return decimal.Zero, err
			}
		}
		total = total.Add(holdings[i].EndUSDValue())
	}
	return total.Mul(rate), nil
}

// currencyRate returns the fund's reporting currency in units per USD.
func (s *Service) currencyRate(ctx context.Context, fund domain.Fund, at time.Time) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	if fund.ReportingCurrency == "" || fund.ReportingCurrency == "USD" {
		return one, nil
	}
	p, err := s.prices.Resolve(ctx, domain.Fiat(fund.ReportingCurrency), at, false)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.SafeDiv(one, p.USD), nil
}

// buildNav computes one NAV snapshot. Share totals carry over from the
// previous period's NAV plus its investor flows; the fund's manual totals
// bootstrap the very first one. The performance fee applies only to the part
// of the gross share value above the high-water mark.
func buildNav(fund domain.Fund, prev *domain.Nav, bookingPeriod string, typ domain.NavType,
	totalValue, rate decimal.Decimal, now time.Time) domain.Nav {
	totalShares := fund.TotalShares
	if prev != nil {
		totalShares = prev.TotalShares.Add(prev.InOutShares)
	}

	one := decimal.NewFromInt(1)
	shareGross := one
	if !totalShares.IsZero() {
		shareGross = totalValue.Div(totalShares)
	}

	adminFee := decimal.Zero
	if book, err := period.ShouldBookFee(fund.AdminFeeFrequencyMonths, bookingPeriod); err == nil && book {
		adminFee = domain.ApplyPercent(totalValue, fund.AdminFeeRate)
	}

	hwm := domain.DecimalMax(fund.ShareValueHWM, one)
	perfPerShare := decimal.Zero
	if excess := shareGross.Sub(hwm); excess.IsPositive() {
		perfPerShare = domain.ApplyPercent(excess, fund.PerformanceFeeRate)
	}
	perfFee := perfPerShare.Mul(totalShares)

	shareNAV := shareGross
	if !totalShares.IsZero() {
		shareNAV = totalValue.Sub(adminFee).Div(totalShares).Sub(perfPerShare)
	}

	return domain.Nav{
		FundID:            fund.ID,
		BookingPeriod:     bookingPeriod,
		Type:              typ,
		TotalShares:       totalShares,
		TotalValue:        totalValue,
		ShareGross:        shareGross,
		ShareNAV:          shareNAV,
		ShareHWM:          domain.DecimalMax(hwm, shareNAV),
		AdministrationFee: adminFee,
		PerformanceFee:    perfFee,
		InOutValue:        decimal.Zero,
		InOutShares:       decimal.Zero,
		CurrencyRate:      rate,
		CreatedAt:         now,
	}
}

// applyDeferredFlows books the period's deferred investor in-/out-flows after
// the NAV is fixed: shares move at the share NAV, balances move on the
// holdings, and the NAV accumulates the totals. Synthesized cross-fund legs
// are already share-denominated.
func (s *Service) applyDeferredFlows(ctx context.Context, nav *domain.Nav, holdings []domain.Holding) error {
	deferred, err := s.transfers.ListDeferredForPeriod(ctx, nav.FundID, nav.BookingPeriod)
	if err != nil {
		return err
	}

	byID := make(map[int64]*domain.Holding, len(holdings))
	for i := range holdings {
		byID[holdings[i].ID] = &holdings[i]
	}

	for _, t := range deferred {
		h := byID[t.HoldingID]
		if h == nil {
			return &domain.NotFoundError{Entity: "holding", ID: t.HoldingID}
		}

		// Synthesized legs are share-denominated; their balance effect is
		// the share value converted into units of the holding's asset.
		var value, shares, units decimal.Decimal
		if t.Synthesized() {
			shares = t.Amount
			value = shares.Mul(nav.ShareNAV)
			units = domain.SafeDiv(value, h.EndUSDPrice.Mul(nav.CurrencyRate))
		} else {
			units = t.Amount
			value = t.Amount.Mul(h.EndUSDPrice).Mul(nav.CurrencyRate)
			shares = domain.SafeDiv(value, nav.ShareNAV)
		}

		if t.Direction == domain.DirectionIn {
			nav.InOutValue = nav.InOutValue.Add(value)
			nav.InOutShares = nav.InOutShares.Add(shares)
			h.EndBalance = h.EndBalance.Add(units)
		} else {
			nav.InOutValue = nav.InOutValue.Sub(value)
			nav.InOutShares = nav.InOutShares.Sub(shares)
			h.EndBalance = h.EndBalance.Sub(units)
		}
		if !t.Fee.IsZero() {
			fee := h
			if t.FeeHoldingID != h.ID {
				if fh := byID[t.FeeHoldingID]; fh != nil {
					fee = fh
				}
			}
			fee.EndBalance = fee.EndBalance.Sub(t.Fee)
		}
	}

	for i := range holdings {
		if err := s.ledger.UpdateHolding(ctx, holdings[i], false); err != nil {
			return err
		}
	}
	return nil
}

// revertDeferredFlows undoes the balance effects applyDeferredFlows made,
// after the holdings have been unfrozen. Synthesized legs convert back at
// the undone NAV's share value and currency rate.
func (s *Service) revertDeferredFlows(ctx context.Context, nav domain.Nav) error {
	deferred, err := s.transfers.ListDeferredForPeriod(ctx, nav.FundID, nav.BookingPeriod)
	if err != nil {
		return err
	}
	holdings, err := s.ledger.Holdings(ctx, nav.FundID, nav.BookingPeriod)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.Holding, len(holdings))
	for i := range holdings {
		byID[holdings[i].ID] = &holdings[i]
	}

	for _, t := range deferred {
		h := byID[t.HoldingID]
		if h == nil {
			continue
		}
		units := t.Amount
		if t.Synthesized() {
			value := t.Amount.Mul(nav.ShareNAV)
			units = domain.SafeDiv(value, h.EndUSDPrice.Mul(nav.CurrencyRate))
		}
		if t.Direction == domain.DirectionIn {
			h.EndBalance = h.EndBalance.Sub(units)
		} else {
			h.EndBalance = h.EndBalance.Add(units)
		}
		if !t.Fee.IsZero() {
			fee := h
			if t.FeeHoldingID != h.ID {
				if fh := byID[t.FeeHoldingID]; fh != nil {
					fee = fh
				}
			}
			fee.EndBalance = fee.EndBalance.Add(t.Fee)
		}
	}

	for i := range holdings {
		if err := s.ledger.UpdateHolding(ctx, holdings[i], false); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) release(ctx context.Context) {
	if _, err := s.locker.Release(context.WithoutCancel(ctx), ProcessLockName); err != nil {
		slog.Error("nav: releasing accounting lock", "error", err)
	}
}

func (s *Service) record(ctx context.Context, oldValue, newValue any) {
	if s.audit != nil {
		s.audit.Record(ctx, "navs", oldValue, newValue)
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
