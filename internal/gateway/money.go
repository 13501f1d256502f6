package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountEpsilon absorbs fixed-point string round-tripping.
var AmountEpsilon = decimal.RequireFromString("0.01")

// FormatAmount renders the fixed 2-decimal wire form, e.g. "500.00".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// AmountsMatch reports |a-b| <= 0.01.
func AmountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountEpsilon)
}
