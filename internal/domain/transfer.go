package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferType classifies a money/asset movement.
type TransferType string

const (
	TransferInflow     TransferType = "inflow"
	TransferOutflow    TransferType = "outflow"
	TransferReward     TransferType = "reward"
	TransferProfit     TransferType = "profit"
	TransferCorrection TransferType = "correction"
	TransferWallet     TransferType = "wallet"
	TransferBroker     TransferType = "broker"
	TransferInternal   TransferType = "transfer"
	TransferBank       TransferType = "bank"
)

// Bidirectional reports whether the type moves value between two holdings and
// therefore requires a mirrored opposite transfer.
func (t TransferType) Bidirectional() bool {
	switch t {
	case TransferWallet, TransferBroker, TransferInternal, TransferBank:
		return true
	}
	return false
}

// DeferredToClose reports whether the balance effect is applied only at
// booking-period close. Investor in-/out-flows are booked in shares at close.
func (t TransferType) DeferredToClose() bool {
	return t == TransferInflow || t == TransferOutflow
}

// Valid reports whether t is a known transfer type.
func (t TransferType) Valid() bool {
	switch t {
	case TransferInflow, TransferOutflow, TransferReward, TransferProfit,
		TransferCorrection, TransferWallet, TransferBroker, TransferInternal, TransferBank:
		return true
	}
	return false
}

// Direction is the sign of a transfer's balance effect.
type Direction int

const (
	DirectionIn Direction = iota + 1
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Invert returns the opposite direction.
func (d Direction) Invert() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// ClassifyDirection derives the direction from the transfer type. One-sided
// credit types are inflows to the holding; outflow debits it; bidirectional
// types debit the origin holding, their opposite credits the destination.
func ClassifyDirection(t TransferType) Direction {
	switch t {
	case TransferInflow, TransferReward, TransferProfit, TransferCorrection:
		return DirectionIn
	default:
		return DirectionOut
	}
}

// Transfer is one side of a money/asset movement against a holding. For
// bidirectional types OppositeID links the mirrored pair symmetrically. A
// synthesized cross-fund in-/out-flow instead carries OriginatingID pointing
// at the transfer that caused it, with no back-reference from the origin.
type Transfer struct {
	ID            int64
	HoldingID     int64
	FeeHoldingID  int64
	Type          TransferType
	Direction     Direction
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	ExchangeRate  decimal.Decimal
	OppositeID    *int64
	OriginatingID *int64
	Reference     string
	CreatedAt     time.Time
}

// Synthesized reports whether the transfer is an auto-generated cross-fund
// in-/out-flow leg.
func (t Transfer) Synthesized() bool { return t.OriginatingID != nil }
