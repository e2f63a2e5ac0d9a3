package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network holds the well-known contract addresses of one deployment.
// A zero ExpiryAddress disables the source check for ExpirySet events.
type Network struct {
	Name          string
	MarginAddress common.Address
	ExpiryAddress common.Address
	Tokens        map[string]common.Address // symbol -> token address
}

const (
	NetworkMainnet = "mainnet"
	NetworkMumbai  = "mumbai"
	NetworkLocal   = "local"
)

var networks = map[string]Network{
	NetworkMainnet: {
		Name:          NetworkMainnet,
		MarginAddress: common.HexToAddress("0x1E0447b19BB6EcFdAe1e4AE1694b0C3659614e4e"),
		Tokens: map[string]common.Address{
			"DAI":  common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f"),
			"USDC": common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"),
			"WETH": common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
		},
	},
	NetworkMumbai: {
		Name:          NetworkMumbai,
		MarginAddress: common.HexToAddress("0x2099Ec20e4CDE118ceCa32D0357F3a7713514960"),
		Tokens: map[string]common.Address{
			"DAI":  common.HexToAddress("0x8ac8ae0a208bef466512cd26142ac5a3ddb5b99e"),
			"USDC": common.HexToAddress("0xade692c9b8c36e6b04bcfd01f0e91c7ebee0a160"),
			"WETH": common.HexToAddress("0xa38ef095d071ebbafea5e7d1ce02be79fc376793"),
		},
	},
	// local has no built-in addresses; MI_MARGIN_ADDRESS is required.
	NetworkLocal: {
		Name:   NetworkLocal,
		Tokens: map[string]common.Address{},
	},
}

// LookupNetwork returns the address table for name.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(name)]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(KnownNetworks(), ", "))
	}

	// Copy the token table so callers cannot mutate the shared entry.
	tokens := make(map[string]common.Address, len(n.Tokens))
	for k, v := range n.Tokens {
		tokens[k] = v
	}
	n.Tokens = tokens
	return n, nil
}

// KnownNetworks lists the configured network names in sorted order.
func KnownNetworks() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
