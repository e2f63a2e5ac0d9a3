package state_test

import (
	"testing"

	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func wad(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

// ============================================================================
// Test: Asset metadata
// ============================================================================

func TestNewAsset_PayloadMetadata(t *testing.T) {
	dec := uint8(6)
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	a := state.NewAsset(token, 2, state.TokenMetadata{Name: "USD Coin", Symbol: "USDC", Decimals: &dec})
	assert.Equal(t, uint64(2), a.MarketID)
	assert.Equal(t, "USDC", a.Symbol)
	assert.Equal(t, uint8(6), a.Decimals)
}

func TestNewAsset_Overrides(t *testing.T) {
	aave := common.HexToAddress("0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9")
	a := state.NewAsset(aave, 9, state.TokenMetadata{Name: "junk"})
	assert.Equal(t, "Aave Token", a.Name)
	assert.Equal(t, "AAVE", a.Symbol)
	assert.Equal(t, uint8(18), a.Decimals)

	dgd := common.HexToAddress("0xe0b7927c4af23765cb51314a0e0521a9645f0e2a")
	d := state.NewAsset(dgd, 3, state.TokenMetadata{})
	assert.Equal(t, "DGD", d.Name)
	assert.Equal(t, "DGD", d.Symbol)
	assert.Equal(t, uint8(0), d.Decimals)
}

func TestNewAsset_MissingMetadataIsUnknown(t *testing.T) {
	a := state.NewAsset(common.HexToAddress("0x01"), 0, state.TokenMetadata{})
	assert.Equal(t, "unknown", a.Name)
	assert.Equal(t, "unknown", a.Symbol)
	assert.Equal(t, uint8(0), a.Decimals)
}

// ============================================================================
// Test: Risk parameters
// ============================================================================

func TestMarketRiskInfo_Defaults(t *testing.T) {
	m := state.NewMarketRiskInfo(1, common.HexToAddress("0x02"))
	assert.True(t, m.MarginPremium.IsZero())
	assert.True(t, m.LiquidationRewardPremium.IsZero())
	assert.False(t, m.IsBorrowingDisabled)
}

func TestMarketRiskInfo_Updates(t *testing.T) {
	m := state.NewMarketRiskInfo(1, common.HexToAddress("0x02"))
	m.SetMarginPremium(wad("50000000000000000"))
	m.SetSpreadPremium(wad("250000000000000000"))
	m.SetIsClosing(true)

	assert.True(t, m.MarginPremium.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, m.LiquidationRewardPremium.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, m.IsBorrowingDisabled)
}

func TestProtocolGlobals_Updates(t *testing.T) {
	g := state.NewProtocolGlobals(common.HexToAddress("0x03"))
	g.SetEarningsRate(wad("900000000000000000"))
	g.SetLiquidationSpread(wad("50000000000000000"))
	g.SetMarginRatio(wad("150000000000000000"))
	g.SetMinBorrowedValue(wad("50000000000000000000000000000000000"))

	assert.True(t, g.EarningsRate.Equal(decimal.RequireFromString("0.9")))
	assert.True(t, g.LiquidationReward.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, g.LiquidationRatio.Equal(decimal.RequireFromString("1.15")))
	assert.True(t, g.MinBorrowedValue.Equal(decimal.RequireFromString("0.05")))
}
