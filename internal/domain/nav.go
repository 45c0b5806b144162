package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NavType distinguishes informational daily snapshots from the authoritative
// period-close NAV.
type NavType string

const (
	NavDaily  NavType = "daily"
	NavPeriod NavType = "period"
)

// Nav is an immutable net-asset-value snapshot for one fund and booking
// period. CurrencyRate is the fund's reporting currency expressed in units
// per USD. InOutValue/InOutShares accumulate investor capital movements
// applied after the NAV itself is computed.
type Nav struct {
	ID                int64
	FundID            int64
	BookingPeriod     string
	Type              NavType
	TotalShares       decimal.Decimal
	TotalValue        decimal.Decimal
	ShareGross        decimal.Decimal
	ShareNAV          decimal.Decimal
	ShareHWM          decimal.Decimal
	AdministrationFee decimal.Decimal
	PerformanceFee    decimal.Decimal
	InOutValue        decimal.Decimal
	InOutShares       decimal.Decimal
	CurrencyRate      decimal.Decimal
	CreatedAt         time.Time
}
