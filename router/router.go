// Package router picks the submission path for each payload: direct RPC,
// an MEV-protected relay, or an off-chain order flow. Non-direct routes
// handle submission end to end and hand the executor a canonical status.
package router

import (
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/core"
)

// Route names one submission strategy.
type Route string

const (
	RouteDirect           Route = "direct"
	RouteMevBlocker       Route = "mev_blocker"
	RouteFlashbotsProtect Route = "flashbots_protect"
	RouteCowProtocol      Route = "cow_protocol"
	RouteUniswapX         Route = "uniswapx"
	RouteOneInchFusion    Route = "1inch_fusion"
	RouteJupiter          Route = "jupiter"
)

// EnvFusionAPIKey enables the 1inch Fusion route when set.
const EnvFusionAPIKey = "ONEINCH_FUSION_API_KEY"

// SubmitStatus is the canonical cross-route status vocabulary.
type SubmitStatus string

const (
	StatusSubmitted SubmitStatus = "submitted" // tx hash known, confirmation pending
	StatusOpen      SubmitStatus = "open"      // order placed, settlement pending
	StatusFilled    SubmitStatus = "filled"    // order settled on-chain
	StatusExpired   SubmitStatus = "expired"   // validity window lapsed unfilled
	StatusRejected  SubmitStatus = "rejected"
)

// Submission is what a non-direct route returns to the executor.
type Submission struct {
	Method        Route
	OrderID       string
	TxHash        string
	Status        SubmitStatus
	MevProtection bool
	Err           string
}

// amount thresholds of the route decision table, in USD.
const (
	ethCowThreshold   = 5000
	ethMevThreshold   = 500
	l2CowThreshold    = 2000
	l2UniswapXThresh  = 1000
)

// l2Set is the rollup family eligible for order-flow routes.
func isOrderFlowL2(chain core.Chain) bool {
	switch chain {
	case core.ChainArbitrum, core.ChainBase, core.ChainOptimism, core.ChainPolygon:
		return true
	}
	return false
}

// Router decides routes and owns the non-direct submitters.
type Router struct {
	relays map[Route]*Relay
	orders map[Route]*OrderFlow

	// cowSupported gates CoW on L2s where the settlement contract exists.
	cowSupported map[core.Chain]bool
	fusionKey    string
	logger       log.Logger
}

// New builds a router with the default relay and order endpoints.
func New() *Router {
	r := &Router{
		relays: map[Route]*Relay{
			RouteFlashbotsProtect: NewRelay(RouteFlashbotsProtect, "https://rpc.flashbots.net"),
			RouteMevBlocker:       NewRelay(RouteMevBlocker, "https://rpc.mevblocker.io"),
		},
		orders: map[Route]*OrderFlow{
			RouteCowProtocol:   NewOrderFlow(RouteCowProtocol, "https://api.cow.fi/mainnet/api/v1"),
			RouteUniswapX:      NewOrderFlow(RouteUniswapX, "https://api.uniswap.org/v2"),
			RouteOneInchFusion: NewOrderFlow(RouteOneInchFusion, "https://api.1inch.dev/fusion"),
		},
		cowSupported: map[core.Chain]bool{
			core.ChainEthereum: true,
			core.ChainArbitrum: true,
			core.ChainBase:     true,
		},
		fusionKey: os.Getenv(EnvFusionAPIKey),
		logger:    log.New("module", "router"),
	}
	if r.fusionKey != "" {
		r.orders[RouteOneInchFusion].SetAPIKey(r.fusionKey)
	}
	return r
}

// Pick applies the decision table. Rules are ordered; the first match
// wins.
func (r *Router) Pick(chain core.Chain, amountUsd float64, urgency string) Route {
	switch chain.Family() {
	case core.FamilySolana:
		return RouteJupiter
	case core.FamilyAptos:
		return RouteDirect
	}
	if chain == core.ChainEthereum && urgency == "high" {
		return RouteFlashbotsProtect
	}
	if chain == core.ChainEthereum && amountUsd > ethCowThreshold {
		return RouteCowProtocol
	}
	if isOrderFlowL2(chain) && amountUsd > l2CowThreshold && r.cowSupported[chain] {
		return RouteCowProtocol
	}
	if isOrderFlowL2(chain) && r.fusionKey != "" {
		return RouteOneInchFusion
	}
	if chain == core.ChainEthereum && amountUsd > ethMevThreshold {
		return RouteMevBlocker
	}
	if isOrderFlowL2(chain) && amountUsd > l2UniswapXThresh {
		return RouteUniswapX
	}
	return RouteDirect
}

// Relay returns the raw-tx relay for a route, if the route is relay-based.
func (r *Router) Relay(route Route) (*Relay, bool) {
	rel, ok := r.relays[route]
	return rel, ok
}

// Order returns the order-flow submitter for a route, if any.
func (r *Router) Order(route Route) (*OrderFlow, bool) {
	of, ok := r.orders[route]
	return of, ok
}

// SetOrderEndpoint repoints an order-flow route at a different API base,
// for private deployments and tests.
func (r *Router) SetOrderEndpoint(route Route, base string) {
	if of, ok := r.orders[route]; ok {
		of.base = base
	}
}

// IsDirect reports whether the executor performs signing and submission
// itself for this route. Jupiter rides the direct Solana send path.
func (r Route) IsDirect() bool {
	return r == RouteDirect || r == RouteJupiter
}

// MevProtected reports whether the route shields against sandwiching.
func (r Route) MevProtected() bool {
	switch r {
	case RouteFlashbotsProtect, RouteMevBlocker, RouteCowProtocol, RouteUniswapX, RouteOneInchFusion:
		return true
	}
	return false
}
