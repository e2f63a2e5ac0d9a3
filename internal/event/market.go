package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AddMarket registers a token as a protocol market. Name, Symbol and Decimals
// are the ERC20 metadata resolved by the upstream decoder; Decimals is nil
// when the token's decimals() call reverted.
type AddMarket struct {
	LogMeta
	MarketID uint64
	Token    common.Address
	Name     string
	Symbol   string
	Decimals *uint8
}

func (a *AddMarket) EventType() EventType {
	return EventTypeAddMarket
}

// RemoveMarket deregisters a market.
type RemoveMarket struct {
	LogMeta
	MarketID uint64
	Token    common.Address
}

func (r *RemoveMarket) EventType() EventType {
	return EventTypeRemoveMarket
}

// Global risk parameter updates. Value is the raw 1e18 fixed-point amount.

type SetEarningsRate struct {
	LogMeta
	Value *uint256.Int
}

func (s *SetEarningsRate) EventType() EventType {
	return EventTypeSetEarningsRate
}

type SetLiquidationSpread struct {
	LogMeta
	Value *uint256.Int
}

func (s *SetLiquidationSpread) EventType() EventType {
	return EventTypeSetLiquidationSpread
}

type SetMarginRatio struct {
	LogMeta
	Value *uint256.Int
}

func (s *SetMarginRatio) EventType() EventType {
	return EventTypeSetMarginRatio
}

type SetMinBorrowedValue struct {
	LogMeta
	Value *uint256.Int
}

func (s *SetMinBorrowedValue) EventType() EventType {
	return EventTypeSetMinBorrowedValue
}

// Per-market risk updates.

type SetMarginPremium struct {
	LogMeta
	MarketID uint64
	Value    *uint256.Int
}

func (s *SetMarginPremium) EventType() EventType {
	return EventTypeSetMarginPremium
}

type SetSpreadPremium struct {
	LogMeta
	MarketID uint64
	Value    *uint256.Int
}

func (s *SetSpreadPremium) EventType() EventType {
	return EventTypeSetSpreadPremium
}

type SetIsClosing struct {
	LogMeta
	MarketID  uint64
	IsClosing bool
}

func (s *SetIsClosing) EventType() EventType {
	return EventTypeSetIsClosing
}
