package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tos-network/gyield/core"
)

func TestPickDecisionTable(t *testing.T) {
	t.Setenv(EnvFusionAPIKey, "")
	r := New()

	cases := []struct {
		name    string
		chain   core.Chain
		amount  float64
		urgency string
		want    Route
	}{
		{"solana always jupiter", core.ChainSolana, 50000, "high", RouteJupiter},
		{"aptos always direct", core.ChainAptos, 50000, "high", RouteDirect},
		{"eth high urgency", core.ChainEthereum, 100, "high", RouteFlashbotsProtect},
		{"eth large order", core.ChainEthereum, 6000, "", RouteCowProtocol},
		{"eth mid size", core.ChainEthereum, 600, "", RouteMevBlocker},
		{"eth small", core.ChainEthereum, 100, "", RouteDirect},
		{"arbitrum large", core.ChainArbitrum, 3000, "", RouteCowProtocol},
		{"base large", core.ChainBase, 3000, "", RouteCowProtocol},
		{"optimism large no cow", core.ChainOptimism, 3000, "", RouteUniswapX},
		{"arbitrum mid", core.ChainArbitrum, 1500, "", RouteUniswapX},
		{"arbitrum small", core.ChainArbitrum, 500, "", RouteDirect},
		{"bsc", core.ChainBSC, 6000, "", RouteDirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Pick(tc.chain, tc.amount, tc.urgency); got != tc.want {
				t.Errorf("Pick(%s, %v, %q) = %s, want %s", tc.chain, tc.amount, tc.urgency, got, tc.want)
			}
		})
	}
}

func TestPickFusionNeedsKey(t *testing.T) {
	t.Setenv(EnvFusionAPIKey, "k")
	r := New()
	if got := r.Pick(core.ChainArbitrum, 500, ""); got != RouteOneInchFusion {
		t.Errorf("L2 with fusion key = %s, want %s", got, RouteOneInchFusion)
	}
	// The large-order CoW rule still outranks fusion.
	if got := r.Pick(core.ChainArbitrum, 3000, ""); got != RouteCowProtocol {
		t.Errorf("large L2 with fusion key = %s, want %s", got, RouteCowProtocol)
	}
}

func TestRouteProperties(t *testing.T) {
	if !RouteDirect.IsDirect() || !RouteJupiter.IsDirect() {
		t.Error("direct routes misreported")
	}
	if RouteCowProtocol.IsDirect() || RouteFlashbotsProtect.IsDirect() {
		t.Error("managed routes counted direct")
	}
	for _, route := range []Route{RouteFlashbotsProtect, RouteMevBlocker, RouteCowProtocol, RouteUniswapX, RouteOneInchFusion} {
		if !route.MevProtected() {
			t.Errorf("%s not MEV protected", route)
		}
	}
	if RouteDirect.MevProtected() || RouteJupiter.MevProtected() {
		t.Error("unprotected routes misreported")
	}
}

func TestRouteLookups(t *testing.T) {
	t.Setenv(EnvFusionAPIKey, "")
	r := New()
	if _, ok := r.Relay(RouteFlashbotsProtect); !ok {
		t.Error("flashbots relay missing")
	}
	if _, ok := r.Relay(RouteCowProtocol); ok {
		t.Error("cow resolved as relay")
	}
	if _, ok := r.Order(RouteCowProtocol); !ok {
		t.Error("cow order flow missing")
	}
	if _, ok := r.Order(RouteDirect); ok {
		t.Error("direct resolved as order flow")
	}
}

func TestGasLimitMultiplier(t *testing.T) {
	for agg, want := range map[string]float64{
		"1inch":      1.0,
		"paraswap":   1.1,
		"uniswap-v3": 1.2,
		"unknown":    1.0,
		"":           1.0,
	} {
		if got := GasLimitMultiplier(agg); got != want {
			t.Errorf("GasLimitMultiplier(%q) = %v, want %v", agg, got, want)
		}
	}
}

func TestSlippageFor(t *testing.T) {
	cases := []struct {
		requested float64
		widened   bool
		want      float64
	}{
		{0, false, 0.5},   // default
		{0, true, 1.0},    // default doubled
		{1.5, false, 1.5}, // explicit
		{1.5, true, 3.0},  // doubled
		{3, true, 5.0},    // capped
		{8, false, 5.0},   // capped even unwidened
	}
	for _, tc := range cases {
		if got := SlippageFor(tc.requested, tc.widened); got != tc.want {
			t.Errorf("SlippageFor(%v, %v) = %v, want %v", tc.requested, tc.widened, got, tc.want)
		}
	}
}

func TestOrderStatus(t *testing.T) {
	answer := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}))
	t.Cleanup(srv.Close)
	of := NewOrderFlow(RouteCowProtocol, srv.URL)
	ctx := context.Background()

	cases := []struct {
		name     string
		status   string
		hash     string
		want     SubmitStatus
		wantHash string
	}{
		{"fulfilled", "fulfilled", "0xabc", StatusFilled, "0xabc"},
		{"executed", "executed", "", StatusFilled, ""},
		{"open", "open", "", StatusOpen, ""},
		{"pending", "pendingFulfillment", "", StatusOpen, ""},
		{"cancelled", "cancelled", "", StatusRejected, ""},
		{"expired", "expired", "", StatusExpired, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer = map[string]string{"status": tc.status, "txHash": tc.hash}
			got, hash, err := of.OrderStatus(ctx, "order-1")
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want || hash != tc.wantHash {
				t.Errorf("status = %s/%q, want %s/%q", got, hash, tc.want, tc.wantHash)
			}
		})
	}
}

func TestOrderStatusHTTPErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	of := NewOrderFlow(RouteCowProtocol, srv.URL)

	// A fresh order can 404 before the API indexes it; the caller keeps
	// polling instead of taking a verdict.
	_, _, err := of.OrderStatus(context.Background(), "order-1")
	if core.Classify(err) != core.KindRpcTransient {
		t.Errorf("err = %v, want RpcTransient", err)
	}
}
