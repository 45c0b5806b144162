package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund is an investment fund with its fee configuration and running share
// totals. TotalShares, TotalValue and ShareValueHWM are mutated only by the
// NAV engine; ShareValueHWM never drops below 1.
type Fund struct {
	ID                      int64
	Name                    string
	ReportingCurrency       string
	PrimaryAsset            AssetRef
	AdminFeeRate            decimal.Decimal
	AdminFeeFrequencyMonths int
	PerformanceFeeRate      decimal.Decimal
	TotalShares             decimal.Decimal
	TotalValue              decimal.Decimal
	ShareValueHWM           decimal.Decimal
	CurrentPeriod           string
	EndDate                 *time.Time
}

// EndedBefore reports whether the fund's end date falls before t.
func (f Fund) EndedBefore(t time.Time) bool {
	return f.EndDate != nil && f.EndDate.Before(t)
}
