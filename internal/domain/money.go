package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary value stored as BIGINT minor units (cents) to avoid
// floating point errors. The engine is single-currency; gateways deliver
// decimal strings which are converted at the boundary.
type Money struct {
	Minor int64
}

// NewMoney creates a Money from minor units.
func NewMoney(minor int64) Money {
	return Money{Minor: minor}
}

// ParseAmount converts a gateway decimal string ("1050.25") to minor units.
// Sub-minor precision is rejected rather than rounded: a payin amount that
// cannot be represented exactly must not enter the ledger.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	minor := d.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-minor precision", s)
	}
	return minor.IntPart(), nil
}

// ToDecimal converts minor units to a major-unit decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Minor).Div(decimal.NewFromInt(100))
}

// String renders the amount with two fraction digits.
func (m Money) String() string {
	return m.ToDecimal().StringFixed(2)
}
