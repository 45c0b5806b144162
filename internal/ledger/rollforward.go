package ledger

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/openfund/accounting/internal/domain"
)

// Rollforward recomputes every holding's end balance from its start balance
// plus all recorded transfers and funded trades. It never accumulates deltas:
// because each call resets from StartBalance, calling it twice with the same
// inputs yields identical end balances.
//
// Investor in-/out-flows are excluded; their balance effect is applied at
// period close. Trades apply percentage-weighted by the fund's share of the
// originating order, signed by side.
func Rollforward(holdings []domain.Holding, transfers []domain.Transfer, trades []domain.FundedTrade) []domain.Holding {
	out := make([]domain.Holding, len(holdings))
	copy(out, holdings)

	byID := make(map[int64]*domain.Holding, len(out))
	byAsset := make(map[string]*domain.Holding, len(out))
	for i := range out {
		out[i].EndBalance = out[i].StartBalance
		byID[out[i].ID] = &out[i]
		byAsset[out[i].Asset.Canonical()] = &out[i]
	}

	for _, t := range transfers {
		if t.Type.DeferredToClose() {
			continue
		}
		if h, ok := byID[t.HoldingID]; ok {
			if t.Direction == domain.DirectionIn {
				h.EndBalance = h.EndBalance.Add(t.Amount)
			} else {
				h.EndBalance = h.EndBalance.Sub(t.Amount)
			}
		}
		if !t.Fee.IsZero() {
			if h, ok := byID[t.FeeHoldingID]; ok {
				h.EndBalance = h.EndBalance.Sub(t.Fee)
			}
		}
	}

	for _, tr := range trades {
		weight := tr.FundPercentage.Div(decimal.NewFromInt(100))
		executed := tr.Executed.Mul(weight)
		total := tr.Total.Mul(weight)
		fee := tr.Fee.Mul(weight)

		base := byAsset[tr.BaseAsset.Canonical()]
		quote := byAsset[tr.QuoteAsset.Canonical()]
		feeHolding := byAsset[tr.FeeAsset.Canonical()]

		switch tr.Side {
		case domain.TradeBuy:
			if base != nil {
				base.EndBalance = base.EndBalance.Add(executed)
			}
			if quote != nil {
				quote.EndBalance = quote.EndBalance.Sub(total)
			}
		case domain.TradeSell:
			if base != nil {
				base.EndBalance = base.EndBalance.Sub(executed)
			}
			if quote != nil {
				quote.EndBalance = quote.EndBalance.Add(total)
			}
		}
		if feeHolding != nil && !fee.IsZero() {
			feeHolding.EndBalance = feeHolding.EndBalance.Sub(fee)
		}
	}

	return out
}

// RecalcPercentages recomputes each holding's share of the fund's USD value
// at period start and end. All percentages are zero when the respective total
// is zero.
func RecalcPercentages(holdings []domain.Holding) []domain.Holding {
	out := make([]domain.Holding, len(holdings))
	copy(out, holdings)

	totalStart := lo.Reduce(out, func(acc decimal.Decimal, h domain.Holding, _ int) decimal.Decimal {
		return acc.Add(h.StartUSDValue())
	}, decimal.Zero)
	totalEnd := lo.Reduce(out, func(acc decimal.Decimal, h domain.Holding, _ int) decimal.Decimal {
		return acc.Add(h.EndUSDValue())
	}, decimal.Zero)

	for i := range out {
		out[i].StartPercentage = domain.Percentage(out[i].StartUSDValue(), totalStart)
		out[i].EndPercentage = domain.Percentage(out[i].EndUSDValue(), totalEnd)
	}
	return out
}

// FollowOn builds the next period's holding from a closed holding's frozen
// end state, chained through PreviousHoldingID.
func FollowOn(closed domain.Holding, nextPeriod string) domain.Holding {
	prevID := closed.ID
	return domain.Holding{
		FundID:            closed.FundID,
		BookingPeriod:     nextPeriod,
		Asset:             closed.Asset,
		StartBalance:      closed.NavBalance,
		EndBalance:        closed.NavBalance,
		StartUSDPrice:     closed.EndUSDPrice,
		StartBTCPrice:     closed.EndBTCPrice,
		LayerIndex:        closed.LayerIndex,
		PreviousHoldingID: &prevID,
	}
}
