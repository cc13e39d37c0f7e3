package ledger

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

// bookAdapter serves canned on-chain reads to the reconciler.
type bookAdapter struct {
	chain      core.Chain
	protocolID string
	onchain    *core.Position
	err        error
}

func (a *bookAdapter) Initialize(context.Context) error { return nil }
func (a *bookAdapter) Chain() core.Chain                { return a.chain }
func (a *bookAdapter) ProtocolID() string               { return a.protocolID }
func (a *bookAdapter) Category() adapters.Category      { return adapters.CategoryYield }
func (a *bookAdapter) Spender(string) string            { return "" }

func (a *bookAdapter) GetPosition(context.Context, string, string) (*core.Position, error) {
	return a.onchain, a.err
}

func (a *bookAdapter) GetAllPositions(context.Context, string) ([]*core.Position, error) {
	return nil, adapters.ErrNotSupported
}

func (a *bookAdapter) Deposit(context.Context, adapters.DepositParams) (core.TxPayload, error) {
	return core.TxPayload{}, adapters.ErrNotSupported
}

func (a *bookAdapter) Withdraw(context.Context, adapters.WithdrawParams) (core.TxPayload, error) {
	return core.TxPayload{}, adapters.ErrNotSupported
}

func (a *bookAdapter) Harvest(context.Context, adapters.HarvestParams) (core.TxPayload, error) {
	return core.TxPayload{}, adapters.ErrNotSupported
}

func (a *bookAdapter) Compound(context.Context, adapters.HarvestParams) ([]core.TxPayload, error) {
	return nil, adapters.ErrNotSupported
}

func newTestLedger(t *testing.T, adapter adapters.Adapter) (*Ledger, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	registry := adapters.NewRegistry()
	if adapter != nil {
		registry.Register(adapter)
	}
	return New(db, registry, NewPriceCache(db)), db
}

func depositRecord(amount float64) *core.TxRecord {
	return &core.TxRecord{
		SignalID: "sig-1", StepIndex: 0, Chain: core.ChainArbitrum,
		Kind: core.StepDeposit, Status: core.StatusConfirmed, AmountUsd: amount,
		Metadata: map[string]string{"poolId": "pool-a", "protocolId": "proto"},
	}
}

func testSig() *core.Signal {
	return &core.Signal{SignalID: "sig-1", PoolID: "pool-a", ProtocolID: "proto", Chain: core.ChainArbitrum}
}

func TestApplyDepositOpensPosition(t *testing.T) {
	l, db := newTestLedger(t, nil)
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	pos, err := db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	require.Equal(t, core.PositionActive, pos.Status)
	require.Equal(t, 1000.0, pos.ValueUsd)
	require.Equal(t, 1000.0, pos.EntryValueUsd)
	require.Equal(t, "proto", pos.ProtocolID)

	// A second deposit increases the existing position instead of opening
	// a new one.
	rec := depositRecord(500)
	rec.SignalID = "sig-2"
	require.NoError(t, l.ApplyRecord(testSig(), rec, "0xw"))
	pos, err = db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	require.Equal(t, 1500.0, pos.ValueUsd)

	all, err := db.Positions("")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestApplyRecordIgnoresNonMutations(t *testing.T) {
	l, db := newTestLedger(t, nil)

	pending := depositRecord(1000)
	pending.Status = core.StatusSubmitted
	require.NoError(t, l.ApplyRecord(testSig(), pending, "0xw"))

	swap := depositRecord(1000)
	swap.Kind = core.StepSwap
	require.NoError(t, l.ApplyRecord(testSig(), swap, "0xw"))

	all, err := db.Positions("")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestApplyWithdrawRealizesPnl(t *testing.T) {
	l, db := newTestLedger(t, nil)
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	// The pool appreciated to 1200 before the withdrawal.
	pos, err := db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	pos.ValueUsd = 1200
	require.NoError(t, db.UpsertPosition(pos))

	withdraw := depositRecord(600)
	withdraw.Kind = core.StepWithdraw
	require.NoError(t, l.ApplyRecord(testSig(), withdraw, "0xw"))

	pos, err = db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	require.InDelta(t, 100.0, pos.RealizedPnlUsd, 1e-9) // 600 out vs 500 entry share
	require.InDelta(t, 600.0, pos.ValueUsd, 1e-9)
	require.InDelta(t, 500.0, pos.EntryValueUsd, 1e-9)
	require.Equal(t, core.PositionActive, pos.Status)
}

func TestApplyWithdrawDustCloses(t *testing.T) {
	l, db := newTestLedger(t, nil)
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	withdraw := depositRecord(0) // zero amount means drain everything
	withdraw.Kind = core.StepWithdraw
	require.NoError(t, l.ApplyRecord(testSig(), withdraw, "0xw"))

	_, err := db.PositionByPool("pool-a", "0xw")
	require.ErrorIs(t, err, store.ErrNotFound)

	closed, err := db.Positions(core.PositionClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	require.NotNil(t, closed[0].ClosedAt)
	require.Zero(t, closed[0].ValueUsd)
}

func TestApplyWithdrawUntrackedPool(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	withdraw := depositRecord(100)
	withdraw.Kind = core.StepWithdraw
	withdraw.Metadata["poolId"] = "never-entered"
	require.NoError(t, l.ApplyRecord(testSig(), withdraw, "0xw"))
}

func TestReconcileOnchainRead(t *testing.T) {
	adapter := &bookAdapter{
		chain: core.ChainArbitrum, protocolID: "proto",
		onchain: &core.Position{AmountToken0: 2.5, ValueUsd: 1100},
	}
	l, db := newTestLedger(t, adapter)
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	l.ReconcileOnce(context.Background())

	pos, err := db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	require.Equal(t, 2.5, pos.AmountToken0)
	require.Equal(t, 1100.0, pos.ValueUsd)
	require.InDelta(t, 100.0, pos.UnrealizedPnlUsd, 1e-9)

	snaps, err := db.Snapshots(pos.PositionID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.False(t, snaps[0].Estimated)
}

func TestReconcileClosesDrainedPosition(t *testing.T) {
	adapter := &bookAdapter{chain: core.ChainArbitrum, protocolID: "proto", onchain: nil}
	l, db := newTestLedger(t, adapter)
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	l.ReconcileOnce(context.Background())

	closed, err := db.Positions(core.PositionClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
}

func TestReconcileAprFallback(t *testing.T) {
	adapter := &bookAdapter{chain: core.ChainArbitrum, protocolID: "proto", err: adapters.ErrNotSupported}
	l, db := newTestLedger(t, adapter)
	require.NoError(t, db.UpsertPool(&core.Pool{PoolID: "pool-a", Apr: 36.5}))
	require.NoError(t, l.ApplyRecord(testSig(), depositRecord(1000), "0xw"))

	// Backdate the opening so the estimator sees ten days of holding.
	pos, err := db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	pos.OpenedAt = time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, db.UpsertPosition(pos))

	l.ReconcileOnce(context.Background())

	pos, err = db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	// 1000 × 36.5% × 10/365 = 10.
	require.True(t, math.Abs(pos.UnrealizedPnlUsd-10) < 0.1, "pnl = %v", pos.UnrealizedPnlUsd)
	require.True(t, math.Abs(pos.ValueUsd-1010) < 0.1, "value = %v", pos.ValueUsd)

	snaps, err := db.Snapshots(pos.PositionID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.True(t, snaps[0].Estimated)
}
