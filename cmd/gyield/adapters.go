package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

// Adapter deployments come from ADAPTERS_JSON: a list of entries the
// operator curates per environment. Only chains with a dialed client get
// their adapters built.
//
//	[{"type":"aave-v3","chain":"ethereum","pool":"0x...","aTokens":{"0xusdc":"0xausdc"}},
//	 {"type":"gauge-lp","chain":"arbitrum","protocolId":"ramses","router":"0x..."},
//	 {"type":"solana-stake","protocolId":"meteora","programId":"..."},
//	 {"type":"htlc-bridge","contracts":{"ethereum":"0x...","arbitrum":"0x..."}}]
const envAdapters = "ADAPTERS_JSON"

type adapterSpec struct {
	Type       string            `json:"type"`
	Chain      string            `json:"chain,omitempty"`
	ProtocolID string            `json:"protocolId,omitempty"`
	Pool       string            `json:"pool,omitempty"`
	Router     string            `json:"router,omitempty"`
	ProgramID  string            `json:"programId,omitempty"`
	ATokens    map[string]string `json:"aTokens,omitempty"`
	Contracts  map[string]string `json:"contracts,omitempty"`
}

func defaultAdapters(clients *chainclients.Registry) []adapters.Adapter {
	raw := os.Getenv(envAdapters)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	specs, err := parseAdapterSpecs(raw)
	if err != nil {
		// Surfaced by Initialize failing later would be confusing; die here.
		fmt.Fprintf(os.Stderr, "bad %s: %v\n", envAdapters, err)
		os.Exit(1)
	}
	built := make([]adapters.Adapter, 0, len(specs))
	for _, spec := range specs {
		if a := buildAdapter(spec, clients); a != nil {
			built = append(built, a)
		}
	}
	return built
}

func parseAdapterSpecs(raw string) ([]adapterSpec, error) {
	var specs []adapterSpec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil, err
	}
	for i, spec := range specs {
		if spec.Type == "" {
			return nil, fmt.Errorf("entry %d: missing type", i)
		}
	}
	return specs, nil
}

func buildAdapter(spec adapterSpec, clients *chainclients.Registry) adapters.Adapter {
	chain, _ := core.ParseChain(spec.Chain)
	switch spec.Type {
	case "aave-v3":
		aTokens := make(map[string]common.Address, len(spec.ATokens))
		for asset, aToken := range spec.ATokens {
			aTokens[asset] = common.HexToAddress(aToken)
		}
		return adapters.NewAaveV3(chain, common.HexToAddress(spec.Pool), aTokens, clients)
	case "gauge-lp":
		return adapters.NewGaugeLP(chain, spec.ProtocolID, common.HexToAddress(spec.Router), clients)
	case "solana-stake":
		return adapters.NewSolanaStake(spec.ProtocolID, spec.ProgramID, clients)
	case "htlc-bridge":
		contracts := make(map[core.Chain]common.Address, len(spec.Contracts))
		for name, addr := range spec.Contracts {
			if c, ok := core.ParseChain(name); ok {
				contracts[c] = common.HexToAddress(addr)
			}
		}
		return adapters.NewHTLCBridge(contracts)
	}
	return nil
}
