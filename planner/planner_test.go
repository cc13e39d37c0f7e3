package planner

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/preparer"
	"github.com/tos-network/gyield/store"
)

// stubAdapter is a canned protocol encoder on a non-EVM chain, which keeps
// plans free of balance and allowance reads.
type stubAdapter struct {
	chain      core.Chain
	protocolID string
	noHarvest  bool
	compoundN  int
}

func (a *stubAdapter) Initialize(context.Context) error { return nil }
func (a *stubAdapter) Chain() core.Chain                { return a.chain }
func (a *stubAdapter) ProtocolID() string               { return a.protocolID }
func (a *stubAdapter) Category() adapters.Category      { return adapters.CategoryYield }
func (a *stubAdapter) Spender(string) string            { return "" }

func (a *stubAdapter) GetPosition(context.Context, string, string) (*core.Position, error) {
	return nil, adapters.ErrNotSupported
}

func (a *stubAdapter) GetAllPositions(context.Context, string) ([]*core.Position, error) {
	return nil, adapters.ErrNotSupported
}

func (a *stubAdapter) payload() core.TxPayload {
	if a.chain.Family() == core.FamilyAptos {
		return core.NewAptosPayload(core.AptosPayload{Function: "0x1::pool::op"})
	}
	return core.NewSolanaPayload(core.SolanaPayload{ProgramID: "Prog111", Data: []byte{1}})
}

func (a *stubAdapter) Deposit(context.Context, adapters.DepositParams) (core.TxPayload, error) {
	return a.payload(), nil
}

func (a *stubAdapter) Withdraw(context.Context, adapters.WithdrawParams) (core.TxPayload, error) {
	return a.payload(), nil
}

func (a *stubAdapter) Harvest(context.Context, adapters.HarvestParams) (core.TxPayload, error) {
	if a.noHarvest {
		return core.TxPayload{}, adapters.ErrNotSupported
	}
	return a.payload(), nil
}

func (a *stubAdapter) Compound(context.Context, adapters.HarvestParams) ([]core.TxPayload, error) {
	out := make([]core.TxPayload, a.compoundN)
	for i := range out {
		out[i] = a.payload()
	}
	return out, nil
}

func (a *stubAdapter) Swap(context.Context, adapters.SwapParams) (core.TxPayload, error) {
	return a.payload(), nil
}

func (a *stubAdapter) QuoteDeposit(context.Context, adapters.DepositParams) (*adapters.Quote, error) {
	return &adapters.Quote{AmountOut: big.NewInt(1)}, nil
}

func (a *stubAdapter) QuoteWithdraw(context.Context, adapters.WithdrawParams) (*adapters.Quote, error) {
	return &adapters.Quote{AmountOut: big.NewInt(1)}, nil
}

// stubBridge is an HTLC bridge whose claim lands on the Aptos side.
type stubBridge struct {
	stubAdapter
}

func (b *stubBridge) Lock(_ context.Context, _, _ core.Chain, _ string, _ *big.Int, _ string) (*adapters.BridgeLock, error) {
	return &adapters.BridgeLock{
		SwapID:     "swap-1",
		SecretHash: "0xdeadbeef",
		Timelock:   1700000000,
		Payload:    b.payload(),
	}, nil
}

func (b *stubBridge) Claim(context.Context, string, string, string) (core.TxPayload, error) {
	return core.NewAptosPayload(core.AptosPayload{Function: "0x1::htlc::claim"}), nil
}

func (b *stubBridge) Refund(context.Context, string, string) (core.TxPayload, error) {
	return b.payload(), nil
}

func newTestPlanner(t *testing.T, adapterList ...adapters.Adapter) (*Planner, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetConfig(store.KeySolanaWallet, "SoLWaLLet111")
	db.SetConfig(store.KeyAptosWallet, "0xaptoswallet")

	registry := adapters.NewRegistry()
	for _, a := range adapterList {
		registry.Register(a)
	}
	watcher := policy.NewWatcher(db, 0)
	prep := preparer.New(chainclients.NewRegistry())
	return New(registry, prep, watcher, db), db
}

func enterSignal() *core.Signal {
	return &core.Signal{
		SignalID: "sig-1", Action: core.ActionEnter,
		PoolID: "pool-a", Chain: core.ChainSolana, ProtocolID: "stub",
		AmountUsd: 1000,
		Params: map[string]string{
			"token":     "TokenMint111",
			"amountRaw": "1000000",
		},
	}
}

func TestBuildPlanEnter(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})
	plan, err := p.BuildPlan(context.Background(), enterSignal())
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(plan.Steps))
	}
	deposit := plan.Steps[0]
	if deposit.Kind != core.StepDeposit || !deposit.Enqueuable {
		t.Errorf("deposit step = %+v", deposit)
	}
	if deposit.UsdValue != 1000 || deposit.Meta["poolId"] != "pool-a" {
		t.Errorf("deposit meta = %+v", deposit)
	}
}

func TestBuildPlanEnterStructuredTokens(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})
	sig, err := core.DecodeSignal([]byte(`{
		"signalId": "sig-1",
		"action": "enter",
		"chain": "solana",
		"protocolId": "stub",
		"poolId": "pool-a",
		"amountUsd": 1000,
		"params": {"tokens": [{"address": "TokenMint111", "amount": "1000000"}]}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != core.StepDeposit {
		t.Fatalf("steps = %+v", plan.Steps)
	}
}

func TestBuildPlanEnterWithSwap(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})
	sig := enterSignal()
	sig.Params["swapFrom"] = "OtherMint111"
	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want swap+deposit", len(plan.Steps))
	}
	if plan.Steps[0].Kind != core.StepSwap {
		t.Errorf("step 0 = %s", plan.Steps[0].Kind)
	}
	if plan.Steps[0].Meta["tokenIn"] != "OtherMint111" || plan.Steps[0].Meta["tokenOut"] != "TokenMint111" {
		t.Errorf("swap meta = %+v", plan.Steps[0].Meta)
	}
	deposit := plan.Steps[1]
	if len(deposit.DependsOn) != 1 || deposit.DependsOn[0] != 0 {
		t.Errorf("deposit deps = %v", deposit.DependsOn)
	}
}

func TestBuildPlanExit(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})
	sig := enterSignal()
	sig.Action = core.ActionExit
	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want harvest+withdraw", len(plan.Steps))
	}
	if plan.Steps[0].Kind != core.StepHarvest || plan.Steps[1].Kind != core.StepWithdraw {
		t.Errorf("kinds = %s, %s", plan.Steps[0].Kind, plan.Steps[1].Kind)
	}
	if deps := plan.Steps[1].DependsOn; len(deps) != 1 || deps[0] != 0 {
		t.Errorf("withdraw deps = %v", deps)
	}
}

func TestBuildPlanExitSkipsHarvest(t *testing.T) {
	// Opted out by the signal.
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})
	sig := enterSignal()
	sig.Action = core.ActionExit
	sig.Params["harvest"] = "false"
	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != core.StepWithdraw {
		t.Fatalf("steps = %+v", plan.Steps)
	}

	// Unsupported by the protocol.
	p2, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub", noHarvest: true})
	sig2 := enterSignal()
	sig2.Action = core.ActionExit
	plan, err = p2.BuildPlan(context.Background(), sig2)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Kind != core.StepWithdraw {
		t.Fatalf("steps = %+v", plan.Steps)
	}
}

func TestBuildPlanCompound(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub", compoundN: 3})
	sig := enterSignal()
	sig.Action = core.ActionCompound
	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	wantKinds := []core.StepKind{core.StepHarvest, core.StepSwap, core.StepDeposit}
	if len(plan.Steps) != len(wantKinds) {
		t.Fatalf("steps = %d", len(plan.Steps))
	}
	for i, step := range plan.Steps {
		if step.Kind != wantKinds[i] {
			t.Errorf("step %d kind = %s, want %s", i, step.Kind, wantKinds[i])
		}
		if i > 0 && (len(step.DependsOn) != 1 || step.DependsOn[0] != i-1) {
			t.Errorf("step %d deps = %v", i, step.DependsOn)
		}
	}
}

func TestBuildPlanRebalanceCrossChain(t *testing.T) {
	bridge := &stubBridge{stubAdapter{chain: core.ChainSolana, protocolID: "htlc-bridge"}}
	p, db := newTestPlanner(t,
		&stubAdapter{chain: core.ChainSolana, protocolID: "stub"},
		&stubAdapter{chain: core.ChainAptos, protocolID: "stub-apt"},
		bridge,
	)
	db.UpsertPool(&core.Pool{PoolID: "pool-b", Chain: core.ChainAptos, ProtocolID: "stub-apt"})

	sig := enterSignal()
	sig.Action = core.ActionRebalance
	sig.Params["targetPoolId"] = "pool-b"
	sig.Params["bridgeToken"] = "TokenMint111"

	plan, err := p.BuildPlan(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	// harvest, withdraw, bridge lock, bridge claim, deposit on target.
	wantKinds := []core.StepKind{
		core.StepHarvest, core.StepWithdraw,
		core.StepBridgeLock, core.StepBridgeClaim, core.StepDeposit,
	}
	if len(plan.Steps) != len(wantKinds) {
		t.Fatalf("steps = %d, want %d", len(plan.Steps), len(wantKinds))
	}
	for i, step := range plan.Steps {
		if step.Kind != wantKinds[i] {
			t.Errorf("step %d kind = %s, want %s", i, step.Kind, wantKinds[i])
		}
	}
	lock := plan.Steps[2]
	if lock.Meta["swapId"] != "swap-1" || lock.Meta["secretHash"] != "0xdeadbeef" {
		t.Errorf("lock meta = %+v", lock.Meta)
	}
	if deps := lock.DependsOn; len(deps) != 1 || deps[0] != 1 {
		t.Errorf("lock deps = %v", deps)
	}
	if deps := plan.Steps[3].DependsOn; len(deps) != 1 || deps[0] != 2 {
		t.Errorf("claim deps = %v", deps)
	}
	deposit := plan.Steps[4]
	if deposit.Payload.Chain != core.ChainAptos {
		t.Errorf("target deposit chain = %s", deposit.Payload.Chain)
	}
	if deps := deposit.DependsOn; len(deps) != 1 || deps[0] != 3 {
		t.Errorf("deposit deps = %v", deps)
	}
}

func TestBuildPlanRejects(t *testing.T) {
	p, _ := newTestPlanner(t, &stubAdapter{chain: core.ChainSolana, protocolID: "stub"})

	noTokens := enterSignal()
	noTokens.Params = nil
	if _, err := p.BuildPlan(context.Background(), noTokens); !errors.Is(err, core.ErrMalformedSignal) {
		t.Errorf("no tokens: %v", err)
	}

	badAmount := enterSignal()
	badAmount.Params["amountRaw"] = "-3"
	if _, err := p.BuildPlan(context.Background(), badAmount); !errors.Is(err, core.ErrMalformedSignal) {
		t.Errorf("bad amount: %v", err)
	}

	noTarget := enterSignal()
	noTarget.Action = core.ActionRebalance
	if _, err := p.BuildPlan(context.Background(), noTarget); !errors.Is(err, core.ErrMalformedSignal) {
		t.Errorf("rebalance without target: %v", err)
	}

	unknown := enterSignal()
	unknown.ProtocolID = "nope"
	if _, err := p.BuildPlan(context.Background(), unknown); !errors.Is(err, adapters.ErrUnknownAdapter) {
		t.Errorf("unknown protocol: %v", err)
	}
}
