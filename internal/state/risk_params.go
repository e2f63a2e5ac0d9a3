package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	fpmath "MarginIndexer/internal/math"
)

// MarketRiskInfo holds the per-market risk premiums set by the protocol
// admin. A fresh record has zero premiums and borrowing enabled.
type MarketRiskInfo struct {
	MarketID                 uint64
	Token                    common.Address
	MarginPremium            decimal.Decimal
	LiquidationRewardPremium decimal.Decimal
	IsBorrowingDisabled      bool
}

func NewMarketRiskInfo(marketID uint64, token common.Address) *MarketRiskInfo {
	return &MarketRiskInfo{
		MarketID:                 marketID,
		Token:                    token,
		MarginPremium:            decimal.Zero,
		LiquidationRewardPremium: decimal.Zero,
	}
}

// SetMarginPremium stores raw / 1e18.
func (m *MarketRiskInfo) SetMarginPremium(raw *uint256.Int) {
	m.MarginPremium = fpmath.FromWad(raw)
}

// SetSpreadPremium stores raw / 1e18 as the liquidation reward premium.
func (m *MarketRiskInfo) SetSpreadPremium(raw *uint256.Int) {
	m.LiquidationRewardPremium = fpmath.FromWad(raw)
}

func (m *MarketRiskInfo) SetIsClosing(closing bool) {
	m.IsBorrowingDisabled = closing
}

func (m *MarketRiskInfo) Clone() *MarketRiskInfo {
	c := *m
	return &c
}

// ProtocolGlobals is the singleton risk configuration of one margin contract.
type ProtocolGlobals struct {
	ID                common.Address
	NumberOfMarkets   uint64
	EarningsRate      decimal.Decimal
	LiquidationReward decimal.Decimal
	LiquidationRatio  decimal.Decimal
	MinBorrowedValue  decimal.Decimal
}

func NewProtocolGlobals(margin common.Address) *ProtocolGlobals {
	return &ProtocolGlobals{
		ID:                margin,
		EarningsRate:      decimal.Zero,
		LiquidationReward: decimal.Zero,
		LiquidationRatio:  decimal.Zero,
		MinBorrowedValue:  decimal.Zero,
	}
}

// SetEarningsRate stores raw / 1e18.
func (g *ProtocolGlobals) SetEarningsRate(raw *uint256.Int) {
	g.EarningsRate = fpmath.FromWad(raw)
}

// SetLiquidationSpread stores raw / 1e18 + 1.
func (g *ProtocolGlobals) SetLiquidationSpread(raw *uint256.Int) {
	g.LiquidationReward = fpmath.FromWadPlusOne(raw)
}

// SetMarginRatio stores raw / 1e18 + 1.
func (g *ProtocolGlobals) SetMarginRatio(raw *uint256.Int) {
	g.LiquidationRatio = fpmath.FromWadPlusOne(raw)
}

// SetMinBorrowedValue stores raw / 1e36; the value is a 1e18 price times a
// 1e18 amount.
func (g *ProtocolGlobals) SetMinBorrowedValue(raw *uint256.Int) {
	g.MinBorrowedValue = fpmath.FromWadSquared(raw)
}

func (g *ProtocolGlobals) Clone() *ProtocolGlobals {
	c := *g
	return &c
}
