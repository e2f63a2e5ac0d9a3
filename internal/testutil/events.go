package testutil

import (
	"crypto/sha256"
	"encoding/binary"

	"MarginIndexer/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Well-known addresses used across tests.
var (
	MarginAddress = common.HexToAddress("0x1E0447b19BB6EcFdAe1e4AE1694b0C3659614e4e")
	ExpiryAddress = common.HexToAddress("0x0ECE224FBC24D40B446c6a94a142dc41fAe76f2d")
	DAI           = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	WETH          = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDC          = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	Alice         = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	Bob           = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// Chain hands out log metadata in strictly increasing log order. Every
// call to Next is a new transaction in the current block.
type Chain struct {
	Contract  common.Address
	block     uint64
	timestamp uint64
	txIndex   uint64
	logIndex  uint64
}

func NewChain(contract common.Address) *Chain {
	return &Chain{Contract: contract, block: 1000, timestamp: 1_700_000_000}
}

// Next returns the metadata of the next log emitted by c.Contract.
func (c *Chain) Next() event.LogMeta {
	return c.NextFrom(c.Contract)
}

// NextFrom returns the metadata of the next log emitted by contract.
func (c *Chain) NextFrom(contract common.Address) event.LogMeta {
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], c.block)
	binary.BigEndian.PutUint64(seed[8:], c.txIndex)
	m := event.LogMeta{
		Contract:       contract,
		BlockNumber:    c.block,
		BlockTimestamp: c.timestamp,
		TxHash:         common.Hash(sha256.Sum256(seed[:])),
		TxIndex:        c.txIndex,
		LogIndex:       c.logIndex,
	}
	c.txIndex++
	c.logIndex++
	return m
}

// NextBlock advances to a new block 12 seconds later.
func (c *Chain) NextBlock() {
	c.block++
	c.timestamp += 12
	c.txIndex = 0
	c.logIndex = 0
}

// Account builds an account reference.
func Account(owner common.Address, number uint64) event.AccountRef {
	return event.AccountRef{Owner: owner, Number: uint256.NewInt(number)}
}

// Wad returns v * 1e18 as a raw fixed-point value.
func Wad(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1_000_000_000_000_000_000))
}

// Decimals returns a pointer to d for AddMarket payloads.
func Decimals(d uint8) *uint8 {
	return &d
}
