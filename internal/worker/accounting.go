// Package worker runs the periodic accounting pipelines. Each worker is an
// independent ticker loop; cross-instance exclusion comes from the
// distributed lock inside the services, not from the workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfund/accounting/internal/configstore"
	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/period"
)

const schedulerStateKey = "scheduler:accounting"

// Engine is the slice of the NAV engine the accounting worker drives.
type Engine interface {
	CloseBookingPeriod(ctx context.Context, fundID int64, bookingPeriod string, force bool) error
	CreateDailyNav(ctx context.Context, fundID int64, date time.Time) error
}

// FundLister lists the funds to process.
type FundLister interface {
	ListActive(ctx context.Context, at time.Time) ([]domain.Fund, error)
}

// SchedulerState is the worker's checkpoint, rehydrated from the config store
// at startup so restarts and concurrent instances agree on what already ran.
type SchedulerState struct {
	LastDailyNavDate string `json:"lastDailyNavDate"` // YYYY-MM-DD
}

// AccountingWorker computes daily NAVs and closes booking periods that have
// ended.
type AccountingWorker struct {
	engine   Engine
	funds    FundLister
	store    configstore.Store
	interval time.Duration
	now      func() time.Time
}

// NewAccountingWorker creates the accounting worker.
func NewAccountingWorker(engine Engine, funds FundLister, store configstore.Store, interval time.Duration) *AccountingWorker {
	return &AccountingWorker{
		engine:   engine,
		funds:    funds,
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the accounting loop. It blocks until the context is cancelled.
func (w *AccountingWorker) Run(ctx context.Context) {
	slog.Info("AccountingWorker: starting")

	w.safeTick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("AccountingWorker: shutting down")
			return
		case <-ticker.C:
			w.safeTick(ctx)
		}
	}
}

// safeTick keeps a panicking pipeline from killing the loop.
func (w *AccountingWorker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("AccountingWorker: tick panicked", "panic", r)
		}
	}()
	if err := w.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("AccountingWorker: tick failed", "error", err)
	}
}

func (w *AccountingWorker) tick(ctx context.Context) error {
	state, err := w.loadState(ctx)
	if err != nil {
		return err
	}

	funds, err := w.funds.ListActive(ctx, w.now())
	if err != nil {
		return fmt.Errorf("listing funds: %w", err)
	}

	for _, fund := range funds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.closePastPeriods(ctx, fund)
	}

	today := w.now().UTC().Format(time.DateOnly)
	if state.LastDailyNavDate != today {
		ran := true
		for _, fund := range funds {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := w.engine.CreateDailyNav(ctx, fund.ID, w.now()); err != nil {
				ran = false
				if errors.Is(err, domain.ErrLockHeld) {
					slog.Info("AccountingWorker: daily NAV skipped, lock held elsewhere", "fund", fund.ID)
					continue
				}
				slog.Error("AccountingWorker: daily NAV failed", "fund", fund.ID, "error", err)
			}
		}
		if ran {
			state.LastDailyNavDate = today
			if err := w.store.Set(ctx, schedulerStateKey, state); err != nil {
				return fmt.Errorf("saving scheduler state: %w", err)
			}
		}
	}
	return nil
}

// closePastPeriods closes the fund's current period repeatedly until the
// pointer catches up with the calendar, so a stopped instance recovers
// multiple missed closes.
func (w *AccountingWorker) closePastPeriods(ctx context.Context, fund domain.Fund) {
	current := period.FromTime(w.now())
	for fund.CurrentPeriod != "" && fund.CurrentPeriod < current {
		err := w.engine.CloseBookingPeriod(ctx, fund.ID, fund.CurrentPeriod, false)
		if errors.Is(err, domain.ErrLockHeld) {
			slog.Info("AccountingWorker: close skipped, lock held elsewhere", "fund", fund.ID)
			return
		}
		if err != nil {
			slog.Error("AccountingWorker: close failed", "fund", fund.ID, "period", fund.CurrentPeriod, "error", err)
			return
		}
		slog.Info("AccountingWorker: period closed", "fund", fund.ID, "period", fund.CurrentPeriod)
		next, err := period.Next(fund.CurrentPeriod)
		if err != nil {
			return
		}
		fund.CurrentPeriod = next
	}
}

func (w *AccountingWorker) loadState(ctx context.Context) (SchedulerState, error) {
	var state SchedulerState
	if _, err := w.store.Get(ctx, schedulerStateKey, &state); err != nil {
		return SchedulerState{}, fmt.Errorf("loading scheduler state: %w", err)
	}
	return state, nil
}
