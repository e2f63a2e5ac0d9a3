package math_test

import (
	fpmath "MarginIndexer/internal/math"
	stdmath "math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		value    uint64
		sign     bool
		decimals uint64
		want     string
	}{
		{"positive 18 decimals", 1_500_000_000_000_000_000, true, 18, "1.5"},
		{"negative 6 decimals", 20_000_000, false, 6, "-20"},
		{"zero exponent is identity", 42, true, 0, "42"},
		{"negative zero exponent", 42, false, 0, "-42"},
		{"zero magnitude ignores sign", 0, false, 18, "0"},
		{"sub unit", 1, true, 8, "0.00000001"},
		{"malformed exponent treated as zero", 7, true, stdmath.MaxInt32 + 1, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fpmath.ToDecimal(uint256.NewInt(tt.value), tt.sign, tt.decimals)
			want := decimal.RequireFromString(tt.want)
			assert.Truef(t, got.Equal(want), "got %s, want %s", got, want)
		})
	}
}

func TestToDecimalFullWidth(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := fpmath.ToDecimal(max, true, 0)
	assert.Equal(t, max.Dec(), got.String())

	neg := fpmath.ToDecimal(max, false, 18)
	require.Equal(t, -1, neg.Sign())
}

func TestToDecimalNil(t *testing.T) {
	assert.True(t, fpmath.ToDecimal(nil, true, 18).IsZero())
}

func TestWadConversions(t *testing.T) {
	// 0.15 * 1e18
	raw := uint256.NewInt(150_000_000_000_000_000)

	assert.Equal(t, "0.15", fpmath.FromWad(raw).String())
	assert.Equal(t, "1.15", fpmath.FromWadPlusOne(raw).String())

	// 100 * 1e36
	minBorrow, err := uint256.FromDecimal("100000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "100", fpmath.FromWadSquared(minBorrow).String())
}
