// Package boundary watches each fund's risk distribution. Holdings are
// bucketed by layer and by asset category; a bucket whose share of fund value
// drifts outside its configured aim band raises a warning notification that
// is updated while the breach evolves and cleared when it resolves.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/configstore"
	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/notify"
)

// CheckKind selects the bucketing dimension.
type CheckKind string

const (
	CheckLayer    CheckKind = "layer"
	CheckCategory CheckKind = "category"
)

const breachRounding = 2

// Band is the configured target range for one bucket: the bucket's share of
// fund value should stay within AimPercent±BandPercent.
type Band struct {
	Bucket      string          `json:"bucket"`
	AimPercent  decimal.Decimal `json:"aimPercent"`
	BandPercent decimal.Decimal `json:"bandPercent"`
}

// Breach is one bucket currently outside its band.
type Breach struct {
	Bucket     string          `json:"bucket"`
	Percent    decimal.Decimal `json:"percent"`
	AimPercent decimal.Decimal `json:"aimPercent"`
}

// alertState is what survives between runs: the open notification and the
// breach snapshot it describes.
type alertState struct {
	NotificationID int64    `json:"notificationId"`
	Breaches       []Breach `json:"breaches"`
}

// HoldingSource lists a fund's holdings for a booking period.
type HoldingSource interface {
	Holdings(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error)
}

// FundSource lists the funds to monitor.
type FundSource interface {
	ListActive(ctx context.Context, at time.Time) ([]domain.Fund, error)
}

// Sink delivers, refreshes and clears notifications.
type Sink interface {
	Send(ctx context.Context, roles []string, severity notify.Severity, title, body string) (int64, error)
	Update(ctx context.Context, id int64, title, body string) error
	Delete(ctx context.Context, id int64) error
}

// Monitor runs the boundary checks.
type Monitor struct {
	funds    FundSource
	holdings HoldingSource
	store    configstore.Store
	sink     Sink
	roles    []string
	now      func() time.Time
}

// NewMonitor creates a boundary monitor notifying the given roles.
func NewMonitor(funds FundSource, holdings HoldingSource, store configstore.Store, sink Sink, roles []string) *Monitor {
	if funds == nil || holdings == nil || store == nil || sink == nil {
		panic("boundary.NewMonitor: nil dependency")
	}
	return &Monitor{
		funds:    funds,
		holdings: holdings,
		store:    store,
		sink:     sink,
		roles:    roles,
		now:      time.Now,
	}
}

// RunChecks evaluates every active fund against both check kinds. Per-fund
// failures are logged and do not stop the sweep.
func (m *Monitor) RunChecks(ctx context.Context) error {
	funds, err := m.funds.ListActive(ctx, m.now())
	if err != nil {
		return err
	}
	for _, fund := range funds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, kind := range []CheckKind{CheckLayer, CheckCategory} {
			if err := m.CheckFund(ctx, fund, kind); err != nil {
				slog.Error("boundary: check failed", "fund", fund.ID, "kind", kind, "error", err)
			}
		}
	}
	return nil
}

// CheckFund runs one check kind for one fund: compute the current breaches,
// diff them against the stored snapshot, and drive the notification
// lifecycle.
func (m *Monitor) CheckFund(ctx context.Context, fund domain.Fund, kind CheckKind) error {
	bands, err := m.bands(ctx, kind)
	if err != nil {
		return err
	}
	if len(bands) == 0 {
		return nil
	}

	holdings, err := m.holdings.Holdings(ctx, fund.ID, fund.CurrentPeriod)
	if err != nil {
		return err
	}
	breaches := Evaluate(holdings, bands, kind)

	key := stateKey(fund.ID, kind)
	var state alertState
	found, err := m.store.Get(ctx, key, &state)
	if err != nil {
		return err
	}

	switch {
	case len(breaches) == 0 && !found:
		return nil

	case len(breaches) == 0:
		if err := m.sink.Delete(ctx, state.NotificationID); err != nil {
			return err
		}
		slog.Info("boundary: breach resolved", "fund", fund.ID, "kind", kind)
		return m.store.Delete(ctx, key)

	case !found:
		title, body := describe(fund, kind, breaches)
		id, err := m.sink.Send(ctx, m.roles, notify.SeverityWarning, title, body)
		if err != nil {
			return err
		}
		slog.Warn("boundary: breach detected", "fund", fund.ID, "kind", kind, "buckets", len(breaches))
		return m.store.Set(ctx, key, alertState{NotificationID: id, Breaches: breaches})

	case Changed(state.Breaches, breaches):
		title, body := describe(fund, kind, breaches)
		if err := m.sink.Update(ctx, state.NotificationID, title, body); err != nil {
			return err
		}
		return m.store.Set(ctx, key, alertState{NotificationID: state.NotificationID, Breaches: breaches})

	default:
		// Breach persists unchanged; stay quiet.
		return nil
	}
}

func (m *Monitor) bands(ctx context.Context, kind CheckKind) ([]Band, error) {
	var bands []Band
	if _, err := m.store.Get(ctx, bandsKey(kind), &bands); err != nil {
		return nil, err
	}
	return bands, nil
}

func bandsKey(kind CheckKind) string { return "boundary:bands:" + string(kind) }

func stateKey(fundID int64, kind CheckKind) string {
	return fmt.Sprintf("boundary:state:%s:%d", kind, fundID)
}

// Evaluate buckets the holdings by the check kind, computes each bucket's
// share of total end USD value, and returns the buckets outside their band,
// sorted by bucket name. Percentages are rounded before comparison so a
// sub-rounding wobble does not count as change.
func Evaluate(holdings []domain.Holding, bands []Band, kind CheckKind) []Breach {
	totals := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, h := range holdings {
		value := h.EndUSDValue()
		bucket := bucketOf(h, kind)
		totals[bucket] = totals[bucket].Add(value)
		total = total.Add(value)
	}

	var breaches []Breach
	for _, band := range bands {
		pct := domain.Percentage(totals[band.Bucket], total).Round(breachRounding)
		low := band.AimPercent.Sub(band.BandPercent)
		high := band.AimPercent.Add(band.BandPercent)
		if pct.LessThan(low) || pct.GreaterThan(high) {
			breaches = append(breaches, Breach{
				Bucket:     band.Bucket,
				Percent:    pct,
				AimPercent: band.AimPercent,
			})
		}
	}
	sort.Slice(breaches, func(i, j int) bool { return breaches[i].Bucket < breaches[j].Bucket })
	return breaches
}

func bucketOf(h domain.Holding, kind CheckKind) string {
	if kind == CheckCategory {
		return h.Asset.Kind().String()
	}
	if h.LayerIndex == 0 {
		return "unassigned"
	}
	return "layer " + strconv.Itoa(h.LayerIndex)
}

// Changed reports whether the breach snapshot differs from the stored one: a
// bucket added or removed, or a bucket's rounded percentage moved.
func Changed(old, current []Breach) bool {
	if len(old) != len(current) {
		return true
	}
	prev := make(map[string]decimal.Decimal, len(old))
	for _, b := range old {
		prev[b.Bucket] = b.Percent
	}
	for _, b := range current {
		pct, ok := prev[b.Bucket]
		if !ok || !pct.Equal(b.Percent) {
			return true
		}
	}
	return false
}

func describe(fund domain.Fund, kind CheckKind, breaches []Breach) (title, body string) {
	title = fmt.Sprintf("%s allocation outside bounds: %s", kind, fund.Name)
	var lines []string
	for _, b := range breaches {
		lines = append(lines, fmt.Sprintf("%s at %s%% (aim %s%%)", b.Bucket, b.Percent, b.AimPercent))
	}
	return title, strings.Join(lines, "\n")
}
