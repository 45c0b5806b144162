// Package transfer validates and applies money/asset movements between
// holdings, including the mirrored opposite transfer for bidirectional types
// and the synthesized cross-fund in-/out-flow legs.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
)

// HoldingsLedger is the slice of the holdings ledger the processor needs.
type HoldingsLedger interface {
	Holding(ctx context.Context, id int64) (*domain.Holding, error)
	GetOrCreateHolding(ctx context.Context, fund domain.Fund, asset domain.AssetRef, bookingPeriod string) (*domain.Holding, error)
	UpdateHolding(ctx context.Context, h domain.Holding, correction bool) error
	RecalcPercentages(ctx context.Context, fundID int64, bookingPeriod string) error
}

// FundSource loads funds. Get returns nil when the fund does not exist.
type FundSource interface {
	Get(ctx context.Context, id int64) (*domain.Fund, error)
}

// Recorder is the audit change-log sink; failures are logged, never
// propagated.
type Recorder interface {
	Record(ctx context.Context, table string, oldValue, newValue any)
}

// InsertRequest describes one transfer to apply.
type InsertRequest struct {
	HoldingID            int64
	FeeHoldingID         int64 // 0 means the fee is charged on HoldingID
	DestinationHoldingID int64 // required for bidirectional types
	Type                 domain.TransferType
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	ExchangeRate         decimal.Decimal // destination units per origin unit; 0 means 1
	Reference            string
	Correction           bool
}

// Service is the transfer processor.
type Service struct {
	repo     Repository
	holdings HoldingsLedger
	funds    FundSource
	audit    Recorder
	now      func() time.Time
}

// NewService creates a transfer processor.
func NewService(repo Repository, holdings HoldingsLedger, funds FundSource, audit Recorder) *Service {
	if repo == nil {
		panic("transfer.NewService: repo is nil")
	}
	if holdings == nil {
		panic("transfer.NewService: holdings is nil")
	}
	if funds == nil {
		panic("transfer.NewService: funds is nil")
	}
	return &Service{repo: repo, holdings: holdings, funds: funds, audit: audit, now: time.Now}
}

// ListForPeriod exposes the repository for the ledger's rollforward.
func (s *Service) ListForPeriod(ctx context.Context, fundID int64, bookingPeriod string) ([]domain.Transfer, error) {
	return s.repo.ListForPeriod(ctx, fundID, bookingPeriod)
}

// Insert validates and applies one transfer. Bidirectional types create the
// mirrored opposite; holdings denominated in another fund's shares trigger a
// synthesized in-/out-flow on that fund's books.
func (s *Service) Insert(ctx context.Context, req InsertRequest) (*domain.Transfer, error) {
	origin, dest, feeHolding, err := s.validate(ctx, &req)
	if err != nil {
		return nil, err
	}

	t := domain.Transfer{
		HoldingID:    req.HoldingID,
		FeeHoldingID: req.FeeHoldingID,
		Type:         req.Type,
		Direction:    domain.ClassifyDirection(req.Type),
		Amount:       req.Amount,
		Fee:          req.Fee,
		ExchangeRate: req.ExchangeRate,
		Reference:    req.Reference,
		CreatedAt:    s.now(),
	}

	if !req.Type.DeferredToClose() {
		if err := s.applyEffect(ctx, origin, feeHolding, t, req.Correction); err != nil {
			return nil, err
		}
	}

	if req.Type.Bidirectional() {
		if err := s.insertPair(ctx, &t, dest, req.Correction); err != nil {
			return nil, err
		}
	} else {
		if err := s.repo.Insert(ctx, &t); err != nil {
			return nil, err
		}
	}
	s.record(ctx, nil, t)

	if err := s.synthesizeCrossFundLegs(ctx, t, origin, dest); err != nil {
		return nil, err
	}

	if err := s.recalcAffected(ctx, origin, dest); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) validate(ctx context.Context, req *InsertRequest) (origin, dest, feeHolding *domain.Holding, err error) {
	var v domain.ValidationErrors

	if !req.Type.Valid() {
		v.Addf("type", "unknown transfer type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		v.Addf("amount", "must be positive")
	}
	if req.Fee.IsNegative() {
		v.Addf("fee", "must not be negative")
	}
	if req.FeeHoldingID == 0 {
		req.FeeHoldingID = req.HoldingID
	}

	origin, err = s.holdings.Holding(ctx, req.HoldingID)
	if err != nil {
		return nil, nil, nil, err
	}
	switch {
	case origin == nil:
		v.Addf("holding", "missing reference")
	case origin.Closed() && !req.Correction:
		v.Addf("holding", "booking period %s is closed", origin.BookingPeriod)
	default:
		s.validateTypeAsset(&v, req.Type, origin.Asset, "holding")
	}

	feeHolding = origin
	if req.FeeHoldingID != req.HoldingID {
		feeHolding, err = s.holdings.Holding(ctx, req.FeeHoldingID)
		if err != nil {
			return nil, nil, nil, err
		}
		switch {
		case feeHolding == nil:
			v.Addf("feeHolding", "missing reference")
		case feeHolding.Closed() && !req.Correction && req.Fee.IsPositive():
			v.Addf("feeHolding", "booking period %s is closed", feeHolding.BookingPeriod)
		}
	}

	if req.Type.Bidirectional() {
		if req.DestinationHoldingID == 0 {
			v.Addf("destination", "required for %s transfers", req.Type)
		} else if req.DestinationHoldingID == req.HoldingID {
			v.Addf("destination", "must differ from the origin holding")
		} else {
			dest, err = s.holdings.Holding(ctx, req.DestinationHoldingID)
			if err != nil {
				return nil, nil, nil, err
			}
			switch {
			case dest == nil:
				v.Addf("destination", "missing reference")
			case dest.Closed() && !req.Correction:
				v.Addf("destination", "booking period %s is closed", dest.BookingPeriod)
			default:
				s.validateTypeAsset(&v, req.Type, dest.Asset, "destination")
				if origin != nil && origin.Asset != dest.Asset && !req.ExchangeRate.IsPositive() {
					v.Addf("exchangeRate", "required for cross-asset %s transfers", req.Type)
				}
			}
		}
	} else if req.DestinationHoldingID != 0 {
		v.Addf("destination", "only valid for bidirectional transfer types")
	}

	if err := v.AsError(); err != nil {
		return nil, nil, nil, err
	}
	return origin, dest, feeHolding, nil
}

// validateTypeAsset enforces asset-class compatibility: bank transfers touch
// fiat holdings only, wallet transfers crypto holdings only.
func (s *Service) validateTypeAsset(v *domain.ValidationErrors, typ domain.TransferType, asset domain.AssetRef, field string) {
	switch typ {
	case domain.TransferBank:
		if asset.Kind() != domain.AssetFiat {
			v.Addf(field, "bank transfers require a fiat holding, got %s", asset.Kind())
		}
	case domain.TransferWallet:
		if asset.Kind() != domain.AssetCrypto {
			v.Addf(field, "wallet transfers require a crypto holding, got %s", asset.Kind())
		}
	}
}

// applyEffect mutates the origin holding's end balance and charges the fee.
func (s *Service) applyEffect(ctx context.Context, origin, feeHolding *domain.Holding, t domain.Transfer, correction bool) error {
	if t.Direction == domain.DirectionIn {
		origin.EndBalance = origin.EndBalance.Add(t.Amount)
	} else {
		origin.EndBalance = origin.EndBalance.Sub(t.Amount)
	}
	if !t.Fee.IsZero() && feeHolding.ID == origin.ID {
		origin.EndBalance = origin.EndBalance.Sub(t.Fee)
	}
	if err := s.holdings.UpdateHolding(ctx, *origin, correction); err != nil {
		return err
	}
	if !t.Fee.IsZero() && feeHolding.ID != origin.ID {
		feeHolding.EndBalance = feeHolding.EndBalance.Sub(t.Fee)
		if err := s.holdings.UpdateHolding(ctx, *feeHolding, correction); err != nil {
			return err
		}
	}
	return nil
}

// insertPair persists the mirrored pair in a fixed three-step order: the
// opposite first without a back-reference, then the origin pointing at it,
// then the patch of the opposite's back-reference. This sidesteps the
// circular foreign key between the two rows.
func (s *Service) insertPair(ctx context.Context, origin *domain.Transfer, dest *domain.Holding, correction bool) error {
	opposite := domain.Transfer{
		HoldingID:    dest.ID,
		FeeHoldingID: dest.ID,
		Type:         origin.Type,
		Direction:    origin.Direction.Invert(),
		Amount:       convertAmount(origin.Amount, origin.ExchangeRate),
		ExchangeRate: origin.ExchangeRate,
		Reference:    origin.Reference,
		CreatedAt:    origin.CreatedAt,
	}

	if err := s.repo.Insert(ctx, &opposite); err != nil {
		return err
	}
	origin.OppositeID = &opposite.ID
	if err := s.repo.Insert(ctx, origin); err != nil {
		return err
	}
	if err := s.repo.SetOpposite(ctx, opposite.ID, origin.ID); err != nil {
		return err
	}
	s.record(ctx, nil, opposite)

	dest.EndBalance = dest.EndBalance.Add(opposite.Amount)
	return s.holdings.UpdateHolding(ctx, *dest, correction)
}

// convertAmount scales a cross-asset amount by the exchange rate; a zero rate
// means same-asset 1:1.
func convertAmount(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return amount
	}
	return amount.Mul(rate)
}

// synthesizeCrossFundLegs books the capital movement on the other fund when
// either side's holding is denominated in that fund's shares. The leg is
// share-denominated, references only the originating transfer, and is
// deferred to the other fund's period close. This is the single place the
// synthesized amount is computed; the NAV engine only converts it to shares
// and value at close.
func (s *Service) synthesizeCrossFundLegs(ctx context.Context, origin domain.Transfer, originHolding, destHolding *domain.Holding) error {
	type legSide struct {
		holding   *domain.Holding
		amount    decimal.Decimal
		direction domain.Direction
	}
	sides := []legSide{{originHolding, origin.Amount, origin.Direction}}
	if destHolding != nil {
		sides = append(sides, legSide{destHolding, convertAmount(origin.Amount, origin.ExchangeRate), origin.Direction.Invert()})
	}

	for _, side := range sides {
		otherFundID, ok := side.holding.Asset.SharesFundID()
		if !ok {
			continue
		}
		other, err := s.funds.Get(ctx, otherFundID)
		if err != nil {
			return err
		}
		if other == nil {
			return &domain.NotFoundError{Entity: "fund", ID: otherFundID}
		}

		typ := domain.TransferOutflow
		if side.direction == domain.DirectionIn {
			typ = domain.TransferInflow
		}
		target, err := s.holdings.GetOrCreateHolding(ctx, *other, other.PrimaryAsset, other.CurrentPeriod)
		if err != nil {
			return err
		}

		originID := origin.ID
		leg := domain.Transfer{
			HoldingID:     target.ID,
			FeeHoldingID:  target.ID,
			Type:          typ,
			Direction:     domain.ClassifyDirection(typ),
			Amount:        side.amount,
			OriginatingID: &originID,
			Reference:     fmt.Sprintf("cross-fund %s for transfer %d", typ, origin.ID),
			CreatedAt:     origin.CreatedAt,
		}
		if err := s.repo.Insert(ctx, &leg); err != nil {
			return err
		}
		s.record(ctx, nil, leg)
	}
	return nil
}

func (s *Service) recalcAffected(ctx context.Context, origin, dest *domain.Holding) error {
	if err := s.holdings.RecalcPercentages(ctx, origin.FundID, origin.BookingPeriod); err != nil {
		return err
	}
	if dest != nil && (dest.FundID != origin.FundID || dest.BookingPeriod != origin.BookingPeriod) {
		return s.holdings.RecalcPercentages(ctx, dest.FundID, dest.BookingPeriod)
	}
	return nil
}

// Delete reverts a transfer: balance effects are undone, the opposite and any
// synthesized cross-fund legs are cascaded, and the affected percentages are
// recomputed. Deleting from a closed period fails with ErrPeriodClosed.
func (s *Service) Delete(ctx context.Context, id int64) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return &domain.NotFoundError{Entity: "transfer", ID: id}
	}

	origin, err := s.holdings.Holding(ctx, t.HoldingID)
	if err != nil {
		return err
	}
	if origin == nil {
		return &domain.NotFoundError{Entity: "holding", ID: t.HoldingID}
	}
	if origin.Closed() {
		return domain.ErrPeriodClosed
	}

	legs, err := s.repo.ListByOriginating(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, leg := range legs {
		if err := s.deleteSingle(ctx, leg); err != nil {
			return err
		}
	}

	var dest *domain.Holding
	if t.OppositeID != nil {
		opposite, err := s.repo.Get(ctx, *t.OppositeID)
		if err != nil {
			return err
		}
		if opposite != nil {
			dest, err = s.holdings.Holding(ctx, opposite.HoldingID)
			if err != nil {
				return err
			}
			if err := s.deleteSingle(ctx, *opposite); err != nil {
				return err
			}
		}
	}

	if err := s.deleteSingle(ctx, *t); err != nil {
		return err
	}
	return s.recalcAffected(ctx, origin, dest)
}

// deleteSingle reverts one transfer row's balance effect and removes it.
func (s *Service) deleteSingle(ctx context.Context, t domain.Transfer) error {
	if !t.Type.DeferredToClose() {
		h, err := s.holdings.Holding(ctx, t.HoldingID)
		if err != nil {
			return err
		}
		if h == nil {
			return &domain.NotFoundError{Entity: "holding", ID: t.HoldingID}
		}
		if h.Closed() {
			return domain.ErrPeriodClosed
		}

		if t.Direction == domain.DirectionIn {
			h.EndBalance = h.EndBalance.Sub(t.Amount)
		} else {
			h.EndBalance = h.EndBalance.Add(t.Amount)
		}
		if !t.Fee.IsZero() && t.FeeHoldingID == h.ID {
			h.EndBalance = h.EndBalance.Add(t.Fee)
		}
		if err := s.holdings.UpdateHolding(ctx, *h, false); err != nil {
			return err
		}

		if !t.Fee.IsZero() && t.FeeHoldingID != h.ID {
			feeHolding, err := s.holdings.Holding(ctx, t.FeeHoldingID)
			if err != nil {
				return err
			}
			if feeHolding != nil {
				feeHolding.EndBalance = feeHolding.EndBalance.Add(t.Fee)
				if err := s.holdings.UpdateHolding(ctx, *feeHolding, false); err != nil {
					return err
				}
			}
		}
	}

	if err := s.repo.Delete(ctx, t.ID); err != nil {
		return err
	}
	s.record(ctx, t, nil)
	return nil
}

func (s *Service) record(ctx context.Context, oldValue, newValue any) {
	if s.audit != nil {
		s.audit.Record(ctx, "transfers", oldValue, newValue)
	}
}
