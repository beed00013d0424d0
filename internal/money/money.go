// Package money holds the decimal helpers shared by every engine.
// Amounts are shopspring decimals rounded half-up to cents. No floats.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Cents is the number of fractional digits kept on stored amounts.
const Cents = 2

var (
	ErrInvalid   = errors.New("amount is not a decimal number")
	ErrPrecision = errors.New("amount has more than 2 decimal places")

	hundred = decimal.NewFromInt(100)
)

// Round rounds to cents, half away from zero (half-up for the positive
// amounts the ledger deals with).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Cents)
}

// InCents reports whether d needs no rounding to be stored.
func InCents(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// Percent returns pct% of d rounded to cents. pct is expressed in percent
// units, so Percent(x, decimal.NewFromInt(3)) is 3% of x.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return Round(d.Mul(pct).Div(hundred))
}

// Parse reads a decimal string as sent over the API boundary.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalid
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalid
	}
	if !InCents(d) {
		return decimal.Zero, ErrPrecision
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic("money: " + raw + ": " + err.Error())
	}
	return d
}

// Split divides total into n parts. Every part but the last is the flat
// quotient rounded to cents; the last absorbs the remainder so the parts
// always add back to total exactly.
func Split(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	flat := Round(total.Div(decimal.NewFromInt(int64(n))))
	parts := make([]decimal.Decimal, n)
	acc := decimal.Zero
	for i := 0; i < n-1; i++ {
		parts[i] = flat
		acc = acc.Add(flat)
	}
	parts[n-1] = total.Sub(acc)
	return parts
}

// Sum adds amounts.
func Sum(items ...decimal.Decimal) decimal.Decimal {
	out := decimal.Zero
	for _, d := range items {
		out = out.Add(d)
	}
	return out
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
