package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one fund's position in one asset for one booking period.
// NavBalance is the end balance frozen at period close; PeriodClosedAt is nil
// while the period is open. PreviousHoldingID chains to the prior period's
// holding for the same asset.
type Holding struct {
	ID                int64
	FundID            int64
	BookingPeriod     string
	Asset             AssetRef
	StartBalance      decimal.Decimal
	EndBalance        decimal.Decimal
	NavBalance        decimal.Decimal
	StartUSDPrice     decimal.Decimal
	StartBTCPrice     decimal.Decimal
	EndUSDPrice       decimal.Decimal
	EndBTCPrice       decimal.Decimal
	StartPercentage   decimal.Decimal
	EndPercentage     decimal.Decimal
	LayerIndex        int
	PreviousHoldingID *int64
	PeriodClosedAt    *time.Time
}

// Closed reports whether the holding's booking period has been closed.
func (h Holding) Closed() bool { return h.PeriodClosedAt != nil }

// StartUSDValue is StartBalance valued at the period-start USD price.
func (h Holding) StartUSDValue() decimal.Decimal {
	return h.StartBalance.Mul(h.StartUSDPrice)
}

// EndUSDValue is EndBalance valued at the period-end USD price.
func (h Holding) EndUSDValue() decimal.Decimal {
	return h.EndBalance.Mul(h.EndUSDPrice)
}
