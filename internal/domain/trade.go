package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a trade from the order's point of view.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is an executed fill against an order. Trades are append-only; the
// BookingPeriod tag stays empty until the trade's effect has been folded into
// a closed period's holdings.
type Trade struct {
	ID            int64
	OrderID       int64
	BaseAsset     AssetRef
	QuoteAsset    AssetRef
	FeeAsset      AssetRef
	Executed      decimal.Decimal
	Total         decimal.Decimal
	Fee           decimal.Decimal
	Side          TradeSide
	BookingPeriod string
	ExecutedAt    time.Time
}

// Booked reports whether the trade has been folded into a closed period.
func (t Trade) Booked() bool { return t.BookingPeriod != "" }

// OrderFunding records what percentage of an order one fund financed. A
// trade's executed/total/fee amounts apply to each funding fund weighted by
// its percentage.
type OrderFunding struct {
	OrderID    int64
	FundID     int64
	Percentage decimal.Decimal
}

// FundedTrade pairs a trade with the weight of one fund's participation in
// the order that produced it.
type FundedTrade struct {
	Trade
	FundPercentage decimal.Decimal
}
