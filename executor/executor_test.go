package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/gasgate"
	"github.com/tos-network/gyield/keyvault"
	"github.com/tos-network/gyield/nonce"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/router"
	"github.com/tos-network/gyield/simulator"
	"github.com/tos-network/gyield/store"
)

// newTestExecutor wires an executor over an in-memory store. configure runs
// before the watcher takes its config snapshot.
func newTestExecutor(t *testing.T, configure func(*store.DB)) (*Executor, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if configure != nil {
		configure(db)
	}
	watcher := policy.NewWatcher(db, 0)
	clients := chainclients.NewRegistry()
	vault, err := keyvault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	gas := gasgate.NewScheduler(clients, watcher)
	t.Cleanup(gas.Stop)
	exec := New(Config{StepTimeout: 5 * time.Second},
		policy.NewGate(watcher, db), watcher, gas,
		simulator.New(clients), router.New(), nonce.NewManager(clients),
		vault, pending.NewBridge(db), clients, db, nil)
	return exec, db
}

func engageKillSwitch(db *store.DB) {
	db.SetConfig(store.KeyKillSwitch, "true")
}

func depositStep() core.Step {
	return core.Step{
		Payload:  core.NewEvmPayload(core.ChainEthereum, core.EvmPayload{To: common.Address{1}}),
		Kind:     core.StepDeposit,
		UsdValue: 100,
	}
}

func TestExecutePolicyRejection(t *testing.T) {
	exec, db := newTestExecutor(t, engageKillSwitch)

	sig := &core.Signal{SignalID: "sig-1", Action: core.ActionEnter, Chain: core.ChainEthereum}
	rec, err := exec.Execute(context.Background(), sig, 0, depositStep())
	if err == nil {
		t.Fatal("rejected step returned nil error")
	}
	if core.Classify(err) != core.KindPolicyRejection {
		t.Errorf("kind = %s", core.Classify(err))
	}
	if rec.Status != core.StatusRejected {
		t.Errorf("status = %s", rec.Status)
	}

	stored, err := db.TxRecord("sig-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != core.StatusRejected || stored.Metadata["failureReason"] == "" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestExecuteReplayReturnsTerminalRecord(t *testing.T) {
	exec, _ := newTestExecutor(t, engageKillSwitch)

	sig := &core.Signal{SignalID: "sig-1", Action: core.ActionEnter, Chain: core.ChainEthereum}
	if _, err := exec.Execute(context.Background(), sig, 0, depositStep()); err == nil {
		t.Fatal("first attempt should reject")
	}

	// Redelivery of an already-terminal step surfaces the prior record
	// without re-running the pipeline.
	rec, err := exec.Execute(context.Background(), sig, 0, depositStep())
	if err != nil {
		t.Fatalf("replay err = %v", err)
	}
	if rec.Status != core.StatusRejected {
		t.Errorf("replay status = %s", rec.Status)
	}
}

func TestExecuteDryRun(t *testing.T) {
	exec, db := newTestExecutor(t, func(db *store.DB) {
		db.SetConfig(store.KeyAutopilotDryRun, "true")
	})

	sig := &core.Signal{SignalID: "sig-dry", Action: core.ActionEnter, Chain: core.ChainEthereum}
	rec, err := exec.Execute(context.Background(), sig, 0, depositStep())
	if err != nil {
		t.Fatalf("dry run err = %v", err)
	}
	if rec.Status != core.StatusPending {
		t.Errorf("status = %s, want PENDING", rec.Status)
	}
	if rec.Metadata["dryRun"] != "true" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}

	entries, err := db.AuditTail(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].EventType != "dry_run_planned" {
		t.Fatalf("audit = %+v", entries)
	}

	// Redelivery surfaces the recorded rehearsal without auditing again.
	rec, err = exec.Execute(context.Background(), sig, 0, depositStep())
	if err != nil {
		t.Fatalf("replay err = %v", err)
	}
	if rec.Status != core.StatusPending || rec.Metadata["dryRun"] != "true" {
		t.Errorf("replay record = %+v", rec)
	}
	entries, err = db.AuditTail(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("audit after replay = %d entries", len(entries))
	}
}

// orderAPI serves a fixed settlement answer for any order id.
func orderAPI(t *testing.T, body map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func submittedOrderRecord(t *testing.T, db *store.DB) {
	t.Helper()
	prior := &core.TxRecord{
		Chain:     core.ChainEthereum,
		SignalID:  "sig-1",
		StepIndex: 0,
		Kind:      core.StepSwap,
		Status:    core.StatusSubmitted,
		AmountUsd: 6000,
		CreatedAt: time.Now().UTC(),
	}
	prior.SetMeta("route", string(router.RouteCowProtocol))
	prior.SetMeta("orderId", "order-1")
	if err := db.InsertTxRecord(prior); err != nil {
		t.Fatal(err)
	}
}

func TestRedeliveryResumesOpenOrder(t *testing.T) {
	exec, db := newTestExecutor(t, nil)
	srv := orderAPI(t, map[string]string{"status": "fulfilled", "txHash": "0xsettled"})
	exec.routes.SetOrderEndpoint(router.RouteCowProtocol, srv.URL)
	submittedOrderRecord(t, db)

	// A redelivered step with an open order must settle through the
	// stored order id, never through a second signing pass. Anything
	// that re-entered the pipeline here would fail on simulation.
	sig := &core.Signal{SignalID: "sig-1", Action: core.ActionEnter, Chain: core.ChainEthereum}
	step := core.Step{
		Payload:  core.NewEvmPayload(core.ChainEthereum, core.EvmPayload{To: common.Address{1}}),
		Kind:     core.StepSwap,
		UsdValue: 6000,
	}
	rec, err := exec.Execute(context.Background(), sig, 0, step)
	if err != nil {
		t.Fatalf("resume err = %v", err)
	}
	if rec.Status != core.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", rec.Status)
	}
	if rec.TxHash != "0xsettled" {
		t.Errorf("txHash = %q", rec.TxHash)
	}

	stored, err := db.TxRecord("sig-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != core.StatusConfirmed || stored.ConfirmedAt == nil {
		t.Errorf("stored = %+v", stored)
	}
}

func TestOrderExpiryFailsStep(t *testing.T) {
	exec, db := newTestExecutor(t, nil)
	srv := orderAPI(t, map[string]string{"status": "expired"})
	exec.routes.SetOrderEndpoint(router.RouteCowProtocol, srv.URL)
	submittedOrderRecord(t, db)

	sig := &core.Signal{SignalID: "sig-1", Action: core.ActionEnter, Chain: core.ChainEthereum}
	step := core.Step{
		Payload:  core.NewEvmPayload(core.ChainEthereum, core.EvmPayload{To: common.Address{1}}),
		Kind:     core.StepSwap,
		UsdValue: 6000,
	}
	rec, err := exec.Execute(context.Background(), sig, 0, step)
	if err == nil {
		t.Fatal("expired order returned nil error")
	}
	if core.Classify(err) != core.KindSlippageExceeded {
		t.Errorf("kind = %s", core.Classify(err))
	}
	if rec.Status != core.StatusFailed {
		t.Errorf("status = %s, want FAILED", rec.Status)
	}
}

func TestGasMaxWait(t *testing.T) {
	if got := gasMaxWait(&core.Signal{Params: map[string]string{"maxWaitMs": "1500"}}); got != 1500*time.Millisecond {
		t.Errorf("maxWaitMs=1500 -> %v", got)
	}
	if got := gasMaxWait(&core.Signal{}); got != defaultGasMaxWait {
		t.Errorf("unset -> %v", got)
	}
	if got := gasMaxWait(&core.Signal{Params: map[string]string{"maxWaitMs": "-2"}}); got != defaultGasMaxWait {
		t.Errorf("negative -> %v", got)
	}
}

func TestConfigSanitize(t *testing.T) {
	cfg := Config{MaxRetries: -1}
	cfg.sanitize()
	if cfg.StepTimeout != DefaultStepTimeout || cfg.ConfirmInterval != DefaultConfirmInterval || cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("sanitized = %+v", cfg)
	}
	keep := Config{StepTimeout: time.Minute, ConfirmInterval: time.Second, MaxRetries: 0}
	keep.sanitize()
	if keep.StepTimeout != time.Minute || keep.MaxRetries != 0 {
		t.Errorf("explicit values overridden: %+v", keep)
	}
}

func TestRetryable(t *testing.T) {
	e := &Executor{}
	swap := core.Step{Kind: core.StepSwap}
	widened := core.Step{Kind: core.StepSwap, Meta: map[string]string{"widenSlippage": "true"}}
	approve := core.Step{Kind: core.StepApprove}

	cases := []struct {
		name string
		step core.Step
		err  error
		want bool
	}{
		{"transient", swap, core.NewError(core.KindRpcTransient, "x", nil), true},
		{"nonce", swap, core.NewError(core.KindNonceMismatch, "x", nil), true},
		{"revert", swap, core.NewError(core.KindReverted, "x", nil), false},
		{"slippage without opt-in", swap, core.NewError(core.KindSlippageExceeded, "x", nil), false},
		{"slippage with opt-in", widened, core.NewError(core.KindSlippageExceeded, "x", nil), true},
		{"approve revert", approve, core.NewError(core.KindReverted, "x", nil), true},
		{"approve policy", approve, core.NewError(core.KindPolicyRejection, "x", nil), false},
		{"opaque error", swap, errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.retryable(tc.step, tc.err); got != tc.want {
				t.Errorf("retryable = %v, want %v", got, tc.want)
			}
		})
	}
}
