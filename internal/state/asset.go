package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// Asset is a token registered as a protocol market. Asset records are never
// deleted; removing a market only drops its market-id mapping.
type Asset struct {
	Address  common.Address
	MarketID uint64
	Name     string
	Symbol   string
	Decimals uint8
}

// TokenMetadata is the ERC20 metadata known for a token address.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals *uint8 // nil when decimals() reverted
}

const unknownMetadata = "unknown"

type metadataOverride struct {
	name     string
	symbol   string
	decimals *uint8
}

func u8(v uint8) *uint8 { return &v }

// Tokens whose on-chain metadata is non-standard.
var metadataOverrides = map[common.Address]metadataOverride{
	common.HexToAddress("0xe0b7927c4af23765cb51314a0e0521a9645f0e2a"): {name: "DGD", symbol: "DGD"},
	common.HexToAddress("0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9"): {name: "Aave Token", symbol: "AAVE", decimals: u8(18)},
}

// ResolveMetadata merges payload metadata with the hard-coded overrides.
// Empty names and symbols become "unknown"; missing decimals become 0.
func ResolveMetadata(token common.Address, md TokenMetadata) TokenMetadata {
	out := md
	if o, ok := metadataOverrides[token]; ok {
		out.Name = o.name
		out.Symbol = o.symbol
		if o.decimals != nil {
			out.Decimals = o.decimals
		}
	}
	if out.Name == "" {
		out.Name = unknownMetadata
	}
	if out.Symbol == "" {
		out.Symbol = unknownMetadata
	}
	if out.Decimals == nil {
		out.Decimals = u8(0)
	}
	return out
}

// NewAsset builds an Asset from resolved metadata.
func NewAsset(token common.Address, marketID uint64, md TokenMetadata) *Asset {
	md = ResolveMetadata(token, md)
	return &Asset{
		Address:  token,
		MarketID: marketID,
		Name:     md.Name,
		Symbol:   md.Symbol,
		Decimals: *md.Decimals,
	}
}

func (a *Asset) Clone() *Asset {
	c := *a
	return &c
}
