package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of fractional digits kept by Div before quantization.
const DivisionPrecision = 28

// RoundingMode selects how Quantize treats digits beyond the target scale.
type RoundingMode int

const (
	// RoundHalfEven rounds to the nearest neighbour, ties to even. Used for display figures.
	RoundHalfEven RoundingMode = iota
	// RoundDown rounds toward zero. Used for funds consumed by a spend.
	RoundDown
	// RoundUp rounds away from zero. Used for fees and cost estimates.
	RoundUp
)

// String returns the mode name.
func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "half_even"
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	default:
		return "unknown"
	}
}

// Quantize returns d rounded to exactly scale fractional digits using mode.
// The result always carries exponent -scale, so StringFixed and String agree on the digit count
// once trailing zeros are accounted for.
func Quantize(d decimal.Decimal, scale int32, mode RoundingMode) decimal.Decimal {
	var q decimal.Decimal
	switch mode {
	case RoundDown:
		q = d.RoundDown(scale)
	case RoundUp:
		q = d.RoundUp(scale)
	default:
		q = d.RoundBank(scale)
	}

	// rescale so values already shorter than scale get padded with zeros
	return decimal.NewFromBigInt(q.Shift(scale).BigInt(), -scale)
}

// Div divides a by b keeping DivisionPrecision fractional digits.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, errors.New("division by zero")
	}
	return a.DivRound(b, DivisionPrecision), nil
}

// ParseDecimal parses the textual form used at process boundaries. Empty input is zero,
// meaning "never observed".
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decimal %q", s)
	}
	return d, nil
}

// FormatDecimal serializes d exactly; ParseDecimal(FormatDecimal(d)) equals d.
func FormatDecimal(d decimal.Decimal) string {
	return d.String()
}
