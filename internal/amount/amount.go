// Package amount implements the single strict float64<->integer asset
// amount conversion shared by CreateTx and GetQuote. Any divergence
// between those two call sites is a bug, so there is exactly one
// implementation here.
package amount

import (
	"math"
	"strconv"
	"strings"
)

// ToInt converts a float amount to the asset's integer "satoshi-like"
// unit at the given precision (0..=8 fractional digits). Decimal digits
// beyond precision are truncated, so 0.005 at precision 2 gives 0.
func ToInt(value float64, precision uint8) uint64 {
	intPart, frac, _ := strings.Cut(strconv.FormatFloat(value, 'f', -1, 64), ".")
	p := int(precision)
	if len(frac) > p {
		frac = frac[:p]
	}
	frac += strings.Repeat("0", p-len(frac))
	n, _ := strconv.ParseUint(intPart+frac, 10, 64)
	return n
}

// ToFloat converts an integer amount back to a float at the given
// precision.
func ToFloat(value uint64, precision uint8) float64 {
	scale := math.Pow10(int(precision))
	return float64(value) / scale
}

// CheckRoundTrip converts value to its integer representation at
// precision and back, returning the integer amount only if the round
// trip reproduces value exactly. A mismatch means value is not
// representable at this precision (e.g. 0.005 at precision 2).
func CheckRoundTrip(value float64, precision uint8) (uint64, bool) {
	intAmount := ToInt(value, precision)
	floatAmount := ToFloat(intAmount, precision)
	return intAmount, floatAmount == value
}

// SatSub subtracts b from a, saturating at zero instead of underflowing
// (mirrors the wire protocol's saturating_sub over fee/amount deltas).
func SatSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// SatAdd adds a and b, saturating at math.MaxUint64 instead of
// overflowing.
func SatAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return math.MaxUint64
	}
	return sum
}
