// Package core defines the domain types shared by every gyield component:
// the chain table, chain-tagged transaction payloads, signals, plans,
// transaction records, positions and the error taxonomy.
package core

import "strings"

// ChainFamily groups chains by their execution environment. The executor
// switches exhaustively over the family; adding a family without a matching
// executor arm is a compile-time reminder, not a runtime surprise.
type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
	FamilyAptos  ChainFamily = "aptos"
	FamilySui    ChainFamily = "sui"
)

// Chain identifies one supported network.
type Chain string

const (
	ChainEthereum  Chain = "ethereum"
	ChainArbitrum  Chain = "arbitrum"
	ChainOptimism  Chain = "optimism"
	ChainBase      Chain = "base"
	ChainPolygon   Chain = "polygon"
	ChainBSC       Chain = "bsc"
	ChainAvalanche Chain = "avalanche"
	ChainSolana    Chain = "solana"
	ChainAptos     Chain = "aptos"
	ChainSui       Chain = "sui"
)

// ChainInfo carries the static per-chain parameters the pipeline needs.
type ChainInfo struct {
	Chain        Chain
	Family       ChainFamily
	ChainID      uint64 // EVM only, 0 otherwise
	NativeSymbol string
	WrappedToken string // wrapped-native sentinel address, EVM only
	ExplorerURL  string
	RPCEnv       string // environment variable holding the primary RPC URL
	Rollup       bool   // ethereum rollups skip gas gating
}

var chainTable = map[Chain]ChainInfo{
	ChainEthereum: {
		Chain: ChainEthereum, Family: FamilyEVM, ChainID: 1,
		NativeSymbol: "ETH",
		WrappedToken: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		ExplorerURL:  "https://etherscan.io",
		RPCEnv:       "ETHEREUM_RPC_URL",
	},
	ChainArbitrum: {
		Chain: ChainArbitrum, Family: FamilyEVM, ChainID: 42161,
		NativeSymbol: "ETH",
		WrappedToken: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		ExplorerURL:  "https://arbiscan.io",
		RPCEnv:       "ARBITRUM_RPC_URL",
		Rollup:       true,
	},
	ChainOptimism: {
		Chain: ChainOptimism, Family: FamilyEVM, ChainID: 10,
		NativeSymbol: "ETH",
		WrappedToken: "0x4200000000000000000000000000000000000006",
		ExplorerURL:  "https://optimistic.etherscan.io",
		RPCEnv:       "OPTIMISM_RPC_URL",
		Rollup:       true,
	},
	ChainBase: {
		Chain: ChainBase, Family: FamilyEVM, ChainID: 8453,
		NativeSymbol: "ETH",
		WrappedToken: "0x4200000000000000000000000000000000000006",
		ExplorerURL:  "https://basescan.org",
		RPCEnv:       "BASE_RPC_URL",
		Rollup:       true,
	},
	ChainPolygon: {
		Chain: ChainPolygon, Family: FamilyEVM, ChainID: 137,
		NativeSymbol: "POL",
		WrappedToken: "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
		ExplorerURL:  "https://polygonscan.com",
		RPCEnv:       "POLYGON_RPC_URL",
		Rollup:       true,
	},
	ChainBSC: {
		Chain: ChainBSC, Family: FamilyEVM, ChainID: 56,
		NativeSymbol: "BNB",
		WrappedToken: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
		ExplorerURL:  "https://bscscan.com",
		RPCEnv:       "BSC_RPC_URL",
	},
	ChainAvalanche: {
		Chain: ChainAvalanche, Family: FamilyEVM, ChainID: 43114,
		NativeSymbol: "AVAX",
		WrappedToken: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7",
		ExplorerURL:  "https://snowtrace.io",
		RPCEnv:       "AVALANCHE_RPC_URL",
	},
	ChainSolana: {
		Chain: ChainSolana, Family: FamilySolana,
		NativeSymbol: "SOL",
		ExplorerURL:  "https://solscan.io",
		RPCEnv:       "SOLANA_RPC_URL",
	},
	ChainAptos: {
		Chain: ChainAptos, Family: FamilyAptos,
		NativeSymbol: "APT",
		ExplorerURL:  "https://explorer.aptoslabs.com",
		RPCEnv:       "APTOS_RPC_URL",
	},
	ChainSui: {
		Chain: ChainSui, Family: FamilySui,
		NativeSymbol: "SUI",
		ExplorerURL:  "https://suiscan.xyz",
		RPCEnv:       "SUI_RPC_URL",
	},
}

// Info returns the static parameters for chain, or false for unknown chains.
func (c Chain) Info() (ChainInfo, bool) {
	info, ok := chainTable[c]
	return info, ok
}

// Family returns the execution family of the chain. Unknown chains report
// the EVM family so that payload validation, not chain lookup, rejects them.
func (c Chain) Family() ChainFamily {
	if info, ok := chainTable[c]; ok {
		return info.Family
	}
	return FamilyEVM
}

// IsRollup reports whether the chain is an ethereum rollup. Rollups bypass
// the gas gate.
func (c Chain) IsRollup() bool {
	info, ok := chainTable[c]
	return ok && info.Rollup
}

// ParseChain normalizes a chain name from an external message.
func ParseChain(s string) (Chain, bool) {
	c := Chain(strings.ToLower(strings.TrimSpace(s)))
	_, ok := chainTable[c]
	return c, ok
}

// Chains returns all known chains in no particular order.
func Chains() []Chain {
	out := make([]Chain, 0, len(chainTable))
	for c := range chainTable {
		out = append(out, c)
	}
	return out
}
