package domain

import "github.com/shopspring/decimal"

const percentPrecision = 8

var hundred = decimal.NewFromInt(100)

// Percentage returns part/total*100 rounded to 8 places, and zero when total
// is zero.
func Percentage(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Div(total).Mul(hundred).Round(percentPrecision)
}

// ApplyPercent returns value*percent/100.
func ApplyPercent(value, percent decimal.Decimal) decimal.Decimal {
	return value.Mul(percent).Div(hundred)
}

// SafeDiv returns a/b, and zero when b is zero.
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// DecimalMax returns the greater of a and b.
func DecimalMax(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}
