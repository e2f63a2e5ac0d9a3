// internal/math/decimal.go
package math

import (
	stdmath "math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// WadDecimals is the exponent of the protocol's 1e18 fixed-point ratios.
const WadDecimals = 18

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// ToDecimal converts a signed-magnitude integer into magnitude / 10^decimals,
// negated when sign is false. The conversion is exact.
//
// decimals above MaxInt32 cannot be represented as a decimal exponent and are
// treated as 0 (no scaling), matching tokens whose decimals() call reverted.
func ToDecimal(magnitude *uint256.Int, sign bool, decimals uint64) decimal.Decimal {
	if magnitude == nil || magnitude.IsZero() {
		return decimal.Zero
	}

	exp := int32(0)
	if decimals <= stdmath.MaxInt32 {
		exp = -int32(decimals)
	}

	d := decimal.NewFromBigInt(magnitude.ToBig(), exp)
	if !sign {
		d = d.Neg()
	}
	return d
}

// FromWad converts a raw 1e18 fixed-point value into its decimal ratio.
func FromWad(raw *uint256.Int) decimal.Decimal {
	return ToDecimal(raw, true, WadDecimals)
}

// FromWadPlusOne returns raw/1e18 + 1, the encoding used by the protocol for
// liquidation ratio and liquidation reward (stored as the premium over 100%).
func FromWadPlusOne(raw *uint256.Int) decimal.Decimal {
	return FromWad(raw).Add(One)
}

// FromWadSquared returns raw/1e18/1e18 (values quoted in 1e36, e.g. min borrowed value).
func FromWadSquared(raw *uint256.Int) decimal.Decimal {
	return ToDecimal(raw, true, 2*WadDecimals)
}
