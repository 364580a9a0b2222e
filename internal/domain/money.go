package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// amountTolerance is the absolute difference under which two amounts are
// considered equal when reconciling (one centavo).
var amountTolerance = decimal.New(1, -2)

// ParseAmount parses a positive monetary amount with up to two decimal
// places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", s)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("amount %s has more than two decimal places", s)
	}
	return d, nil
}

// FormatAmount renders an amount with exactly two decimal places and a dot
// separator, the form the PIX payload and bank APIs expect.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// AmountsMatch reports whether two amounts agree within the reconciliation
// tolerance.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountTolerance)
}
