package nav

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
	"github.com/openfund/accounting/internal/price"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeFunds struct {
	funds map[int64]domain.Fund
}

func (f *fakeFunds) Get(_ context.Context, id int64) (*domain.Fund, error) {
	fund, ok := f.funds[id]
	if !ok {
		return nil, nil
	}
	return &fund, nil
}

func (f *fakeFunds) Update(_ context.Context, fund domain.Fund) error {
	f.funds[fund.ID] = fund
	return nil
}

type fakeLedger struct {
	nextID   int64
	holdings map[int64]domain.Holding
}

func newFakeLedger(holdings ...domain.Holding) *fakeLedger {
	l := &fakeLedger{nextID: 100, holdings: make(map[int64]domain.Holding)}
	for _, h := range holdings {
		l.holdings[h.ID] = h
	}
	return l
}

func (l *fakeLedger) list(fundID int64, bookingPeriod string) []domain.Holding {
	var out []domain.Holding
	for _, h := range l.holdings {
		if h.FundID == fundID && h.BookingPeriod == bookingPeriod {
			out = append(out, h)
		}
	}
	return out
}

func (l *fakeLedger) Holdings(_ context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error) {
	return l.list(fundID, bookingPeriod), nil
}

func (l *fakeLedger) RollforwardEndBalances(_ context.Context, fundID int64, bookingPeriod string) ([]domain.Holding, error) {
	out := l.list(fundID, bookingPeriod)
	for i := range out {
		out[i].EndBalance = out[i].StartBalance
		l.holdings[out[i].ID] = out[i]
	}
	return out, nil
}

func (l *fakeLedger) RecalcPercentages(_ context.Context, _ int64, _ string) error { return nil }

func (l *fakeLedger) Freeze(_ context.Context, fundID int64, bookingPeriod string, at time.Time) ([]domain.Holding, error) {
	closedAt := at
	out := l.list(fundID, bookingPeriod)
	for i := range out {
		out[i].NavBalance = out[i].EndBalance
		out[i].PeriodClosedAt = &closedAt
		l.holdings[out[i].ID] = out[i]
	}
	return out, nil
}

func (l *fakeLedger) Unfreeze(_ context.Context, fundID int64, bookingPeriod string) error {
	for _, h := range l.list(fundID, bookingPeriod) {
		h.NavBalance = decimal.Zero
		h.PeriodClosedAt = nil
		l.holdings[h.ID] = h
	}
	return nil
}

func (l *fakeLedger) CreateFollowOnHoldings(_ context.Context, fund domain.Fund, closed []domain.Holding, nextPeriod string) error {
	for _, h := range closed {
		if h.NavBalance.IsZero() {
			continue
		}
		prevID := h.ID
		next := domain.Holding{
			ID: l.nextID, FundID: fund.ID, BookingPeriod: nextPeriod,
			Asset:        h.Asset,
			StartBalance: h.NavBalance, EndBalance: h.NavBalance,
			StartUSDPrice: h.EndUSDPrice, StartBTCPrice: h.EndBTCPrice,
			PreviousHoldingID: &prevID,
		}
		l.nextID++
		l.holdings[next.ID] = next
	}
	return nil
}

func (l *fakeLedger) DeleteFollowOns(_ context.Context, fundID int64, nextPeriod string) error {
	for _, h := range l.list(fundID, nextPeriod) {
		delete(l.holdings, h.ID)
	}
	return nil
}

func (l *fakeLedger) UpdateHolding(_ context.Context, h domain.Holding, _ bool) error {
	l.holdings[h.ID] = h
	return nil
}

type deferredEntry struct {
	fundID        int64
	bookingPeriod string
	transfer      domain.Transfer
}

type fakeTransfers struct {
	entries []deferredEntry
}

func (f *fakeTransfers) ListDeferredForPeriod(_ context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, e := range f.entries {
		if e.fundID == fundID && e.bookingPeriod == bookingPeriod && e.transfer.Type.DeferredToClose() {
			out = append(out, e.transfer)
		}
	}
	return out, nil
}

func (f *fakeTransfers) AnyForPeriod(_ context.Context, fundID int64, bookingPeriod string) (bool, error) {
	for _, e := range f.entries {
		if e.fundID == fundID && e.bookingPeriod == bookingPeriod {
			return true, nil
		}
	}
	return false, nil
}

type fakeTrades struct {
	booked map[string]bool
}

func (f *fakeTrades) TagBooked(_ context.Context, _ int64, bookingPeriod string) error {
	if f.booked == nil {
		f.booked = make(map[string]bool)
	}
	f.booked[bookingPeriod] = true
	return nil
}

func (f *fakeTrades) UntagBooked(_ context.Context, _ int64, bookingPeriod string) error {
	delete(f.booked, bookingPeriod)
	return nil
}

type fakePrices struct {
	prices map[string]price.Price
}

func (f *fakePrices) Resolve(_ context.Context, asset domain.AssetRef, at time.Time, _ bool) (price.Price, error) {
	p, ok := f.prices[asset.Canonical()]
	if !ok {
		return price.Price{}, &domain.PriceUnavailableError{Asset: asset, At: at}
	}
	return p, nil
}

type fakeNavs struct {
	nextID int64
	navs   map[int64]domain.Nav
}

func newFakeNavs() *fakeNavs {
	return &fakeNavs{nextID: 1, navs: make(map[int64]domain.Nav)}
}

func (f *fakeNavs) Insert(_ context.Context, n *domain.Nav) error {
	n.ID = f.nextID
	f.nextID++
	f.navs[n.ID] = *n
	return nil
}

func (f *fakeNavs) Get(_ context.Context, fundID int64, bookingPeriod string, typ domain.NavType) (*domain.Nav, error) {
	for _, n := range f.navs {
		if n.FundID == fundID && n.BookingPeriod == bookingPeriod && n.Type == typ {
			return &n, nil
		}
	}
	return nil, nil
}

func (f *fakeNavs) LatestNav(_ context.Context, fundID int64) (*domain.Nav, error) {
	var latest *domain.Nav
	for id := range f.navs {
		n := f.navs[id]
		if n.FundID != fundID || n.Type != domain.NavPeriod {
			continue
		}
		if latest == nil || n.BookingPeriod > latest.BookingPeriod {
			latest = &n
		}
	}
	return latest, nil
}

func (f *fakeNavs) ListByFund(_ context.Context, fundID int64) ([]domain.Nav, error) {
	var out []domain.Nav
	for _, n := range f.navs {
		if n.FundID == fundID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNavs) Delete(_ context.Context, id int64) error {
	delete(f.navs, id)
	return nil
}

type fakeLocker struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLocker) TryAcquire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, _ string) (bool, error) {
	f.releases++
	f.held = false
	return true, nil
}

type fakeRunner struct{}

func (fakeRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc       *Service
	funds     *fakeFunds
	ledger    *fakeLedger
	transfers *fakeTransfers
	trades    *fakeTrades
	navs      *fakeNavs
	locker    *fakeLocker
}

func newFixture(fund domain.Fund, holdings ...domain.Holding) *fixture {
	f := &fixture{
		funds:     &fakeFunds{funds: map[int64]domain.Fund{fund.ID: fund}},
		ledger:    newFakeLedger(holdings...),
		transfers: &fakeTransfers{},
		trades:    &fakeTrades{},
		navs:      newFakeNavs(),
		locker:    &fakeLocker{},
	}
	prices := &fakePrices{prices: map[string]price.Price{
		domain.Fiat("USD").Canonical(): {USD: dec("1"), BTC: dec("0.00002")},
	}}
	f.svc = NewService(f.funds, f.ledger, f.transfers, f.trades, prices, f.navs,
		f.locker, fakeRunner{}, nil, time.Hour)
	f.svc.now = func() time.Time { return time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC) }
	return f
}

func usdFund() domain.Fund {
	return domain.Fund{
		ID:                1,
		Name:              "Alpha",
		ReportingCurrency: "USD",
		PrimaryAsset:      domain.Fiat("USD"),
		TotalShares:       dec("1000"),
		TotalValue:        dec("1000"),
		ShareValueHWM:     dec("1"),
		CurrentPeriod:     "202401",
	}
}

func usdHolding() domain.Holding {
	return domain.Holding{
		ID: 1, FundID: 1, BookingPeriod: "202401",
		Asset:         domain.Fiat("USD"),
		StartBalance:  dec("1000"),
		EndBalance:    dec("1000"),
		StartUSDPrice: dec("1"),
	}
}

func TestCloseWithDeferredInflow(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	f.transfers.entries = []deferredEntry{{
		fundID: 1, bookingPeriod: "202401",
		transfer: domain.Transfer{
			ID: 10, HoldingID: 1, FeeHoldingID: 1,
			Type: domain.TransferInflow, Direction: domain.DirectionIn,
			Amount: dec("500"),
		},
	}}

	if err := f.svc.CloseBookingPeriod(context.Background(), 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}

	nav, _ := f.navs.Get(context.Background(), 1, "202401", domain.NavPeriod)
	if nav == nil {
		t.Fatal("no period NAV written")
	}
	if !nav.TotalValue.Equal(dec("1000")) {
		t.Errorf("nav total value = %s, want 1000 (pre-inflow)", nav.TotalValue)
	}
	if !nav.ShareNAV.Equal(dec("1")) {
		t.Errorf("share nav = %s, want 1", nav.ShareNAV)
	}
	if !nav.InOutValue.Equal(dec("500")) {
		t.Errorf("in/out value = %s, want 500", nav.InOutValue)
	}
	if !nav.InOutShares.Equal(dec("500")) {
		t.Errorf("in/out shares = %s, want 500", nav.InOutShares)
	}

	closed := f.ledger.holdings[1]
	if !closed.EndBalance.Equal(dec("1500")) {
		t.Errorf("holding end balance = %s, want 1500", closed.EndBalance)
	}
	if !closed.Closed() {
		t.Error("holding not frozen")
	}
	if !closed.NavBalance.Equal(dec("1500")) {
		t.Errorf("nav balance = %s, want 1500", closed.NavBalance)
	}

	next := f.ledger.list(1, "202402")
	if len(next) != 1 {
		t.Fatalf("follow-on holdings = %d, want 1", len(next))
	}
	if !next[0].StartBalance.Equal(dec("1500")) {
		t.Errorf("follow-on start balance = %s, want 1500", next[0].StartBalance)
	}

	fund := f.funds.funds[1]
	if !fund.TotalShares.Equal(dec("1500")) {
		t.Errorf("fund total shares = %s, want 1500", fund.TotalShares)
	}
	if !fund.TotalValue.Equal(dec("1500")) {
		t.Errorf("fund total value = %s, want 1500", fund.TotalValue)
	}
	if fund.CurrentPeriod != "202402" {
		t.Errorf("current period = %s, want 202402", fund.CurrentPeriod)
	}
	if !f.trades.booked["202401"] {
		t.Error("trades not tagged booked")
	}
	if f.locker.held {
		t.Error("lock not released")
	}
}

func TestCloseRejectsActivePeriod(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())

	for _, code := range []string{"202402", "202403"} {
		err := f.svc.CloseBookingPeriod(context.Background(), 1, code, false)
		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			t.Errorf("close %s: err = %v, want ConflictError", code, err)
		}
	}
	if f.locker.acquires != 0 {
		t.Error("lock acquired for rejected close")
	}
}

func TestCloseAlreadyClosedNeedsForce(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("first close: %v", err)
	}

	err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second close: err = %v, want ConflictError", err)
	}

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", true); err != nil {
		t.Fatalf("forced re-close: %v", err)
	}
	if len(f.navs.navs) != 1 {
		t.Errorf("navs after forced re-close = %d, want 1", len(f.navs.navs))
	}
	fund := f.funds.funds[1]
	if fund.CurrentPeriod != "202402" {
		t.Errorf("current period = %s, want 202402", fund.CurrentPeriod)
	}
}

func TestCloseLockHeld(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	f.locker.held = true

	err := f.svc.CloseBookingPeriod(context.Background(), 1, "202401", false)
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}
	if len(f.navs.navs) != 0 {
		t.Error("NAV written despite held lock")
	}
}

func TestClosePriceUnavailableFailsWholeOperation(t *testing.T) {
	h := usdHolding()
	h.Asset = domain.Crypto(42) // no price configured
	f := newFixture(usdFund(), h)

	err := f.svc.CloseBookingPeriod(context.Background(), 1, "202401", false)
	var unavailable *domain.PriceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want PriceUnavailableError", err)
	}
	if len(f.navs.navs) != 0 {
		t.Error("NAV written despite unresolvable price")
	}
	if f.locker.held {
		t.Error("lock not released after failure")
	}
}

func TestCloseHWMMonotonic(t *testing.T) {
	fund := usdFund()
	fund.PerformanceFeeRate = dec("10")
	h := usdHolding()
	h.StartBalance = dec("1200")
	h.EndBalance = dec("1200")
	f := newFixture(fund, h)

	if err := f.svc.CloseBookingPeriod(context.Background(), 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}

	nav, _ := f.navs.Get(context.Background(), 1, "202401", domain.NavPeriod)
	// gross 1.2, excess over HWM 1 is 0.2, 10% fee per share = 0.02
	if !nav.PerformanceFee.Equal(dec("20")) {
		t.Errorf("performance fee = %s, want 20", nav.PerformanceFee)
	}
	if !nav.ShareNAV.Equal(dec("1.18")) {
		t.Errorf("share nav = %s, want 1.18", nav.ShareNAV)
	}

	after := f.funds.funds[1]
	if after.ShareValueHWM.LessThan(fund.ShareValueHWM) {
		t.Errorf("HWM decreased: %s -> %s", fund.ShareValueHWM, after.ShareValueHWM)
	}
	if !after.ShareValueHWM.Equal(dec("1.18")) {
		t.Errorf("HWM = %s, want 1.18", after.ShareValueHWM)
	}
}

func TestRollbackRestoresFundExactly(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()
	before := f.funds.funds[1]

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}
	if err := f.svc.RollbackCloseBookingPeriod(ctx, 1); err != nil {
		t.Fatalf("RollbackCloseBookingPeriod: %v", err)
	}

	after := f.funds.funds[1]
	if !after.TotalShares.Equal(before.TotalShares) {
		t.Errorf("total shares = %s, want %s", after.TotalShares, before.TotalShares)
	}
	if !after.TotalValue.Equal(before.TotalValue) {
		t.Errorf("total value = %s, want %s", after.TotalValue, before.TotalValue)
	}
	if !after.ShareValueHWM.Equal(before.ShareValueHWM) {
		t.Errorf("HWM = %s, want %s", after.ShareValueHWM, before.ShareValueHWM)
	}
	if after.CurrentPeriod != "202401" {
		t.Errorf("current period = %s, want 202401", after.CurrentPeriod)
	}

	if len(f.navs.navs) != 0 {
		t.Error("NAV not deleted")
	}
	if len(f.ledger.list(1, "202402")) != 0 {
		t.Error("follow-on holdings not removed")
	}
	reopened := f.ledger.holdings[1]
	if reopened.Closed() {
		t.Error("holding still frozen")
	}
	if f.trades.booked["202401"] {
		t.Error("trades still tagged booked")
	}
}

func TestRollbackRevertsDeferredBalances(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()
	f.transfers.entries = []deferredEntry{{
		fundID: 1, bookingPeriod: "202401",
		transfer: domain.Transfer{
			ID: 10, HoldingID: 1, FeeHoldingID: 1,
			Type: domain.TransferInflow, Direction: domain.DirectionIn,
			Amount: dec("500"),
		},
	}}

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}
	if err := f.svc.RollbackCloseBookingPeriod(ctx, 1); err != nil {
		t.Fatalf("RollbackCloseBookingPeriod: %v", err)
	}

	if got := f.ledger.holdings[1].EndBalance; !got.Equal(dec("1000")) {
		t.Errorf("end balance = %s, want restored 1000", got)
	}
}

func TestCloseSynthesizedLegConvertsToAssetUnits(t *testing.T) {
	fund := usdFund()
	h := usdHolding()
	h.Asset = domain.Crypto(7)
	h.StartBalance = dec("500")
	h.EndBalance = dec("500")
	f := newFixture(fund, h)
	f.svc.prices = &fakePrices{prices: map[string]price.Price{
		domain.Fiat("USD").Canonical(): {USD: dec("1"), BTC: dec("0.00002")},
		domain.Crypto(7).Canonical():   {USD: dec("2"), BTC: dec("0.00004")},
	}}
	origin := int64(99)
	f.transfers.entries = []deferredEntry{{
		fundID: 1, bookingPeriod: "202401",
		transfer: domain.Transfer{
			ID: 10, HoldingID: 1, FeeHoldingID: 1,
			Type: domain.TransferInflow, Direction: domain.DirectionIn,
			Amount: dec("10"), OriginatingID: &origin,
		},
	}}
	ctx := context.Background()

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}

	nav, _ := f.navs.Get(ctx, 1, "202401", domain.NavPeriod)
	// 500 units at 2 USD value 1000 over 1000 shares: share NAV 1.
	if !nav.InOutShares.Equal(dec("10")) {
		t.Errorf("in/out shares = %s, want 10", nav.InOutShares)
	}
	if !nav.InOutValue.Equal(dec("10")) {
		t.Errorf("in/out value = %s, want 10", nav.InOutValue)
	}
	// 10 shares worth 10 USD buy 5 units of the 2-USD asset.
	if got := f.ledger.holdings[1].EndBalance; !got.Equal(dec("505")) {
		t.Errorf("end balance = %s, want 505", got)
	}

	if err := f.svc.RollbackCloseBookingPeriod(ctx, 1); err != nil {
		t.Fatalf("RollbackCloseBookingPeriod: %v", err)
	}
	if got := f.ledger.holdings[1].EndBalance; !got.Equal(dec("500")) {
		t.Errorf("end balance after rollback = %s, want restored 500", got)
	}
}

func TestForceCloseRefusedWhenSuccessorReferenced(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}
	f.transfers.entries = append(f.transfers.entries, deferredEntry{
		fundID: 1, bookingPeriod: "202402",
		transfer: domain.Transfer{ID: 20, Type: domain.TransferReward, Amount: dec("1")},
	})

	err := f.svc.CloseBookingPeriod(ctx, 1, "202401", true)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("forced re-close: err = %v, want ConflictError", err)
	}
	if len(f.navs.navs) != 1 {
		t.Error("NAV deleted despite refusal")
	}
	if got := f.ledger.holdings[1]; !got.Closed() {
		t.Error("holding unfrozen despite refusal")
	}
}

func TestRollbackRefusedWhenSuccessorReferenced(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()

	if err := f.svc.CloseBookingPeriod(ctx, 1, "202401", false); err != nil {
		t.Fatalf("CloseBookingPeriod: %v", err)
	}
	f.transfers.entries = append(f.transfers.entries, deferredEntry{
		fundID: 1, bookingPeriod: "202402",
		transfer: domain.Transfer{ID: 20, Type: domain.TransferReward, Amount: dec("1")},
	})

	err := f.svc.RollbackCloseBookingPeriod(ctx, 1)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if len(f.navs.navs) != 1 {
		t.Error("NAV deleted despite refusal")
	}
}

func TestRollbackNothingToRollBack(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())

	err := f.svc.RollbackCloseBookingPeriod(context.Background(), 1)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("err = %v, want ConflictError", err)
	}
}

func TestDailyNavReplacesPrevious(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	ctx := context.Background()
	today := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)

	h := usdHolding()
	h.ID = 2
	h.BookingPeriod = "202402"
	f.ledger.holdings[2] = h

	if err := f.svc.CreateDailyNav(ctx, 1, today); err != nil {
		t.Fatalf("CreateDailyNav: %v", err)
	}
	if err := f.svc.CreateDailyNav(ctx, 1, today); err != nil {
		t.Fatalf("second CreateDailyNav: %v", err)
	}

	var count int
	for _, n := range f.navs.navs {
		if n.Type == domain.NavDaily && n.BookingPeriod == "202402" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("daily navs = %d, want 1 (replaced)", count)
	}
	if got := f.ledger.holdings[2].EndUSDPrice; !got.Equal(dec("1")) {
		t.Errorf("end usd price = %s, want persisted 1", got)
	}
}

func TestDailyNavPastDateDoesNotPersistPrices(t *testing.T) {
	f := newFixture(usdFund(), usdHolding())
	past := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)

	if err := f.svc.CreateDailyNav(context.Background(), 1, past); err != nil {
		t.Fatalf("CreateDailyNav: %v", err)
	}

	nav, _ := f.navs.Get(context.Background(), 1, "202401", domain.NavDaily)
	if nav == nil {
		t.Fatal("no daily NAV written")
	}
	if !f.ledger.holdings[1].EndUSDPrice.IsZero() {
		t.Error("past-date daily NAV persisted holding prices")
	}
	fund := f.funds.funds[1]
	if fund.CurrentPeriod != "202401" {
		t.Error("daily NAV mutated the fund")
	}
}

func TestBuildNavBootstrap(t *testing.T) {
	fund := usdFund()
	fund.TotalShares = decimal.Zero

	n := buildNav(fund, nil, "202401", domain.NavPeriod, dec("0"), dec("1"), time.Now())
	if !n.ShareGross.Equal(dec("1")) {
		t.Errorf("share gross = %s, want bootstrap 1", n.ShareGross)
	}
	if !n.ShareNAV.Equal(dec("1")) {
		t.Errorf("share nav = %s, want 1", n.ShareNAV)
	}
	if !n.ShareHWM.Equal(dec("1")) {
		t.Errorf("share hwm = %s, want 1", n.ShareHWM)
	}
}

func TestBuildNavAdminFeeOnFrequency(t *testing.T) {
	fund := usdFund()
	fund.AdminFeeRate = dec("2")
	fund.AdminFeeFrequencyMonths = 1

	n := buildNav(fund, nil, "202401", domain.NavPeriod, dec("1000"), dec("1"), time.Now())
	if !n.AdministrationFee.Equal(dec("20")) {
		t.Errorf("admin fee = %s, want 20", n.AdministrationFee)
	}
	if !n.ShareNAV.Equal(dec("0.98")) {
		t.Errorf("share nav = %s, want 0.98", n.ShareNAV)
	}

	fund.AdminFeeFrequencyMonths = 12
	n = buildNav(fund, nil, "202405", domain.NavPeriod, dec("1000"), dec("1"), time.Now())
	if !n.AdministrationFee.IsZero() {
		t.Errorf("admin fee = %s, want 0 outside the booking month", n.AdministrationFee)
	}
}

func TestBuildNavCarriesSharesFromPreviousNav(t *testing.T) {
	fund := usdFund()
	prev := &domain.Nav{TotalShares: dec("1000"), InOutShares: dec("500")}

	n := buildNav(fund, prev, "202402", domain.NavPeriod, dec("1800"), dec("1"), time.Now())
	if !n.TotalShares.Equal(dec("1500")) {
		t.Errorf("total shares = %s, want 1500 (prev + in/out)", n.TotalShares)
	}
	if !n.ShareGross.Equal(dec("1.2")) {
		t.Errorf("share gross = %s, want 1.2", n.ShareGross)
	}
}
