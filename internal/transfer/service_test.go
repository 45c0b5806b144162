package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// memRepo is an in-memory transfer Repository.
type memRepo struct {
	nextID    int64
	transfers map[int64]domain.Transfer
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, transfers: make(map[int64]domain.Transfer)}
}

func (r *memRepo) Get(_ context.Context, id int64) (*domain.Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *memRepo) Insert(_ context.Context, t *domain.Transfer) error {
	t.ID = r.nextID
	r.nextID++
	r.transfers[t.ID] = *t
	return nil
}

func (r *memRepo) SetOpposite(_ context.Context, id, oppositeID int64) error {
	t := r.transfers[id]
	t.OppositeID = &oppositeID
	r.transfers[id] = t
	return nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	delete(r.transfers, id)
	return nil
}

func (r *memRepo) ListForPeriod(_ context.Context, _ int64, _ string) ([]domain.Transfer, error) {
	return nil, nil
}

func (r *memRepo) ListDeferredForPeriod(_ context.Context, _ int64, _ string) ([]domain.Transfer, error) {
	return nil, nil
}

func (r *memRepo) ListByOriginating(_ context.Context, originID int64) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, t := range r.transfers {
		if t.OriginatingID != nil && *t.OriginatingID == originID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) AnyForPeriod(_ context.Context, _ int64, _ string) (bool, error) {
	return len(r.transfers) > 0, nil
}

// memLedger is an in-memory HoldingsLedger.
type memLedger struct {
	nextID   int64
	holdings map[int64]domain.Holding
	recalcs  int
}

func newMemLedger(holdings ...domain.Holding) *memLedger {
	l := &memLedger{nextID: 100, holdings: make(map[int64]domain.Holding)}
	for _, h := range holdings {
		l.holdings[h.ID] = h
	}
	return l
}

func (l *memLedger) Holding(_ context.Context, id int64) (*domain.Holding, error) {
	h, ok := l.holdings[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (l *memLedger) GetOrCreateHolding(_ context.Context, fund domain.Fund, asset domain.AssetRef, bookingPeriod string) (*domain.Holding, error) {
	for _, h := range l.holdings {
		if h.FundID == fund.ID && h.BookingPeriod == bookingPeriod && h.Asset == asset {
			return &h, nil
		}
	}
	h := domain.Holding{ID: l.nextID, FundID: fund.ID, BookingPeriod: bookingPeriod, Asset: asset}
	l.nextID++
	l.holdings[h.ID] = h
	return &h, nil
}

func (l *memLedger) UpdateHolding(_ context.Context, h domain.Holding, correction bool) error {
	if h.Closed() && !correction {
		return domain.ErrPeriodClosed
	}
	l.holdings[h.ID] = h
	return nil
}

func (l *memLedger) RecalcPercentages(_ context.Context, _ int64, _ string) error {
	l.recalcs++
	return nil
}

type memFunds struct {
	funds map[int64]domain.Fund
}

func (f *memFunds) Get(_ context.Context, id int64) (*domain.Fund, error) {
	fund, ok := f.funds[id]
	if !ok {
		return nil, nil
	}
	return &fund, nil
}

func usdHolding(id int64) domain.Holding {
	return domain.Holding{
		ID: id, FundID: 1, BookingPeriod: "202401",
		Asset:      domain.Fiat("USD"),
		EndBalance: dec("1000"), StartBalance: dec("1000"),
	}
}

func btcHolding(id int64) domain.Holding {
	return domain.Holding{
		ID: id, FundID: 1, BookingPeriod: "202401",
		Asset:      domain.Crypto(1),
		EndBalance: dec("2"), StartBalance: dec("2"),
	}
}

func newTestService(ledgerFake *memLedger, funds map[int64]domain.Fund) (*Service, *memRepo) {
	repo := newMemRepo()
	svc := NewService(repo, ledgerFake, &memFunds{funds: funds}, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestInsertCollectsAllValidationProblems(t *testing.T) {
	svc, _ := newTestService(newMemLedger(), nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 99,
		Type:      domain.TransferType("bogus"),
		Amount:    dec("-5"),
		Fee:       dec("-1"),
	})

	var v *domain.ValidationErrors
	if !errors.As(err, &v) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}
	if len(v.Problems) < 4 {
		t.Errorf("collected %d problems, want at least 4 (type, amount, fee, holding)", len(v.Problems))
	}
}

func TestInsertRewardAppliesImmediately(t *testing.T) {
	ledgerFake := newMemLedger(btcHolding(1))
	svc, _ := newTestService(ledgerFake, nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferReward,
		Amount:    dec("0.1"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	h := ledgerFake.holdings[1]
	if !h.EndBalance.Equal(dec("2.1")) {
		t.Errorf("end balance = %s, want 2.1", h.EndBalance)
	}
}

func TestInsertInflowDeferred(t *testing.T) {
	ledgerFake := newMemLedger(usdHolding(1))
	svc, repo := newTestService(ledgerFake, nil)

	tr, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferInflow,
		Amount:    dec("500"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if h := ledgerFake.holdings[1]; !h.EndBalance.Equal(dec("1000")) {
		t.Errorf("end balance = %s, want 1000 (inflow deferred to close)", h.EndBalance)
	}
	if stored := repo.transfers[tr.ID]; stored.Direction != domain.DirectionIn {
		t.Errorf("direction = %s, want in", stored.Direction)
	}
}

func TestInsertBankOnCryptoRejected(t *testing.T) {
	ledgerFake := newMemLedger(btcHolding(1), usdHolding(2))
	svc, _ := newTestService(ledgerFake, nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:            1,
		DestinationHoldingID: 2,
		Type:                 domain.TransferBank,
		Amount:               dec("1"),
		ExchangeRate:         dec("50000"),
	})

	var v *domain.ValidationErrors
	if !errors.As(err, &v) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}
}

func TestInsertBidirectionalPairing(t *testing.T) {
	ledgerFake := newMemLedger(btcHolding(1), btcHolding(2))
	h2 := ledgerFake.holdings[2]
	h2.EndBalance = dec("0")
	ledgerFake.holdings[2] = h2

	svc, repo := newTestService(ledgerFake, nil)

	origin, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:            1,
		DestinationHoldingID: 2,
		Type:                 domain.TransferWallet,
		Amount:               dec("0.5"),
		Fee:                  dec("0.001"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if origin.OppositeID == nil {
		t.Fatal("origin has no opposite reference")
	}
	opposite := repo.transfers[*origin.OppositeID]
	if opposite.OppositeID == nil || *opposite.OppositeID != origin.ID {
		t.Error("opposite back-reference not symmetric")
	}
	if opposite.Direction != domain.DirectionIn {
		t.Errorf("opposite direction = %s, want in", opposite.Direction)
	}
	if !opposite.Amount.Equal(origin.Amount) {
		t.Errorf("opposite amount = %s, want %s (conservation)", opposite.Amount, origin.Amount)
	}
	if !opposite.Fee.IsZero() {
		t.Errorf("opposite fee = %s, want 0 (fee lives on origin)", opposite.Fee)
	}

	if h := ledgerFake.holdings[1]; !h.EndBalance.Equal(dec("1.499")) {
		t.Errorf("origin balance = %s, want 1.499 (2 - 0.5 - 0.001 fee)", h.EndBalance)
	}
	if h := ledgerFake.holdings[2]; !h.EndBalance.Equal(dec("0.5")) {
		t.Errorf("destination balance = %s, want 0.5", h.EndBalance)
	}
}

func TestInsertCrossAssetExchangeRate(t *testing.T) {
	ledgerFake := newMemLedger(usdHolding(1), btcHolding(2))
	svc, repo := newTestService(ledgerFake, nil)

	origin, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:            1,
		DestinationHoldingID: 2,
		Type:                 domain.TransferBroker,
		Amount:               dec("50000"),
		ExchangeRate:         dec("0.00002"), // BTC per USD
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	opposite := repo.transfers[*origin.OppositeID]
	if !opposite.Amount.Equal(dec("1")) {
		t.Errorf("opposite amount = %s, want 1 (50000 * 0.00002)", opposite.Amount)
	}
}

func TestInsertCrossAssetWithoutRateRejected(t *testing.T) {
	ledgerFake := newMemLedger(usdHolding(1), btcHolding(2))
	svc, _ := newTestService(ledgerFake, nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:            1,
		DestinationHoldingID: 2,
		Type:                 domain.TransferBroker,
		Amount:               dec("50000"),
	})

	var v *domain.ValidationErrors
	if !errors.As(err, &v) {
		t.Fatalf("err = %v, want ValidationErrors (missing exchange rate)", err)
	}
}

func TestInsertClosedPeriodRejected(t *testing.T) {
	h := usdHolding(1)
	closedAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	h.PeriodClosedAt = &closedAt
	svc, _ := newTestService(newMemLedger(h), nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferProfit,
		Amount:    dec("10"),
	})
	var v *domain.ValidationErrors
	if !errors.As(err, &v) {
		t.Fatalf("err = %v, want ValidationErrors (closed period)", err)
	}
}

func TestInsertClosedPeriodCorrectionAllowed(t *testing.T) {
	h := usdHolding(1)
	closedAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	h.PeriodClosedAt = &closedAt
	ledgerFake := newMemLedger(h)
	svc, _ := newTestService(ledgerFake, nil)

	_, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:  1,
		Type:       domain.TransferCorrection,
		Amount:     dec("10"),
		Correction: true,
	})
	if err != nil {
		t.Fatalf("Insert with correction flag: %v", err)
	}
	if got := ledgerFake.holdings[1].EndBalance; !got.Equal(dec("1010")) {
		t.Errorf("end balance = %s, want 1010", got)
	}
}

func TestInsertCrossFundSynthesizesLeg(t *testing.T) {
	shareHolding := domain.Holding{
		ID: 1, FundID: 1, BookingPeriod: "202401",
		Asset:      domain.FundShares(2),
		EndBalance: dec("100"), StartBalance: dec("100"),
	}
	ledgerFake := newMemLedger(shareHolding)
	funds := map[int64]domain.Fund{
		2: {ID: 2, PrimaryAsset: domain.Fiat("USD"), CurrentPeriod: "202401"},
	}
	svc, repo := newTestService(ledgerFake, funds)

	origin, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferProfit, // In on a shares-denominated holding
		Amount:    dec("10"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	legs, _ := repo.ListByOriginating(context.Background(), origin.ID)
	if len(legs) != 1 {
		t.Fatalf("synthesized legs = %d, want 1", len(legs))
	}
	leg := legs[0]
	if leg.Type != domain.TransferInflow {
		t.Errorf("leg type = %s, want inflow", leg.Type)
	}
	if !leg.Amount.Equal(dec("10")) {
		t.Errorf("leg amount = %s, want 10 shares", leg.Amount)
	}
	if leg.OppositeID != nil {
		t.Error("synthesized leg must not carry a symmetric opposite reference")
	}
	if leg.OriginatingID == nil || *leg.OriginatingID != origin.ID {
		t.Error("leg does not reference the originating transfer")
	}
}

func TestDeleteRestoresBalancesExactly(t *testing.T) {
	ledgerFake := newMemLedger(btcHolding(1), btcHolding(2))
	svc, repo := newTestService(ledgerFake, nil)

	before1 := ledgerFake.holdings[1].EndBalance
	before2 := ledgerFake.holdings[2].EndBalance

	origin, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID:            1,
		DestinationHoldingID: 2,
		Type:                 domain.TransferWallet,
		Amount:               dec("0.5"),
		Fee:                  dec("0.001"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := svc.Delete(context.Background(), origin.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if got := ledgerFake.holdings[1].EndBalance; !got.Equal(before1) {
		t.Errorf("origin balance = %s, want restored %s", got, before1)
	}
	if got := ledgerFake.holdings[2].EndBalance; !got.Equal(before2) {
		t.Errorf("destination balance = %s, want restored %s", got, before2)
	}
	if len(repo.transfers) != 0 {
		t.Errorf("remaining transfers = %d, want 0 (opposite cascaded)", len(repo.transfers))
	}
}

func TestDeleteCascadesSynthesizedLegs(t *testing.T) {
	shareHolding := domain.Holding{
		ID: 1, FundID: 1, BookingPeriod: "202401",
		Asset:      domain.FundShares(2),
		EndBalance: dec("100"), StartBalance: dec("100"),
	}
	ledgerFake := newMemLedger(shareHolding)
	funds := map[int64]domain.Fund{
		2: {ID: 2, PrimaryAsset: domain.Fiat("USD"), CurrentPeriod: "202401"},
	}
	svc, repo := newTestService(ledgerFake, funds)

	origin, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferProfit,
		Amount:    dec("10"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := svc.Delete(context.Background(), origin.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(repo.transfers) != 0 {
		t.Errorf("remaining transfers = %d, want 0", len(repo.transfers))
	}
}

func TestDeleteClosedPeriodRefused(t *testing.T) {
	h := usdHolding(1)
	ledgerFake := newMemLedger(h)
	svc, repo := newTestService(ledgerFake, nil)

	tr, err := svc.Insert(context.Background(), InsertRequest{
		HoldingID: 1,
		Type:      domain.TransferProfit,
		Amount:    dec("10"),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	closedAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	stored := ledgerFake.holdings[1]
	stored.PeriodClosedAt = &closedAt
	ledgerFake.holdings[1] = stored

	if err := svc.Delete(context.Background(), tr.ID); !errors.Is(err, domain.ErrPeriodClosed) {
		t.Errorf("err = %v, want ErrPeriodClosed", err)
	}
	if len(repo.transfers) != 1 {
		t.Error("transfer deleted despite closed period")
	}
}
