package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tos-network/gyield/core"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTxRecordIdempotency(t *testing.T) {
	db := openTestDB(t)
	rec := &core.TxRecord{
		SignalID: "sig-1", StepIndex: 0,
		Chain: core.ChainEthereum, Kind: core.StepDeposit,
		Status: core.StatusPending, AmountUsd: 100,
	}
	require.NoError(t, db.InsertTxRecord(rec))
	require.ErrorIs(t, db.InsertTxRecord(rec), ErrDuplicate)

	rec.Status = core.StatusConfirmed
	rec.TxHash = "0xabc"
	require.NoError(t, db.UpdateTxRecord(rec))

	got, err := db.TxRecord("sig-1", 0)
	require.NoError(t, err)
	require.Equal(t, core.StatusConfirmed, got.Status)

	byHash, err := db.TxRecordByHash("0xabc")
	require.NoError(t, err)
	require.Equal(t, "sig-1", byHash.SignalID)

	require.ErrorIs(t, db.UpdateTxRecord(&core.TxRecord{SignalID: "missing", StepIndex: 7}), ErrNotFound)
}

func TestTxRecordsBySignal(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertTxRecord(&core.TxRecord{
			SignalID: "sig-2", StepIndex: i, Chain: core.ChainBase,
			Kind: core.StepApprove, Status: core.StatusConfirmed,
		}))
	}
	// A different signal must not leak into the prefix scan.
	require.NoError(t, db.InsertTxRecord(&core.TxRecord{
		SignalID: "sig-20", StepIndex: 0, Chain: core.ChainBase,
		Kind: core.StepApprove, Status: core.StatusConfirmed,
	}))
	recs, err := db.TxRecordsBySignal("sig-2")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		require.Equal(t, i, rec.StepIndex)
	}
}

func TestPlanAtMostOnce(t *testing.T) {
	db := openTestDB(t)
	plan := &core.Plan{SignalID: "sig-3"}
	has, err := db.HasPlan("sig-3")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, db.InsertPlan(plan))
	require.ErrorIs(t, db.InsertPlan(plan), ErrDuplicate)

	has, err = db.HasPlan("sig-3")
	require.NoError(t, err)
	require.True(t, has)
}

func TestSignalRoundTrip(t *testing.T) {
	db := openTestDB(t)
	sig := &core.Signal{SignalID: "sig-4", Action: core.ActionExit, Chain: core.ChainSolana, AmountUsd: 12}
	require.NoError(t, db.PutSignal(sig))
	require.NoError(t, db.PutSignal(sig)) // rewrites are fine
	got, err := db.Signal("sig-4")
	require.NoError(t, err)
	require.Equal(t, core.ActionExit, got.Action)
	_, err = db.Signal("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJournalAppendAck(t *testing.T) {
	db := openTestDB(t)
	for i, msg := range []string{"a", "b", "c", "d"} {
		seq, err := db.AppendJournal([]byte(msg))
		require.NoError(t, err)
		require.Equal(t, uint64(i), seq)
	}
	entries, err := db.UnackedJournal(0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, []byte("a"), entries[0].Raw)

	require.NoError(t, db.AckJournal(1))
	entries, err = db.UnackedJournal(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[0].Seq)

	limited, err := db.UnackedJournal(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestConfigTypes(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SetConfig(KeyKillSwitch, "true"))
	require.NoError(t, db.SetConfig(KeyMaxSingleTxUsd, "2500.5"))
	require.True(t, db.ConfigBool(KeyKillSwitch, false))
	require.Equal(t, 2500.5, db.ConfigFloat(KeyMaxSingleTxUsd, 0))
	require.Equal(t, 7.0, db.ConfigFloat("unset", 7))
	require.True(t, db.ConfigBool("unset", true))
	require.Equal(t, "garbage-default", db.Config("unset", "garbage-default"))

	require.NoError(t, db.SetConfig(KeyMinHealthScore, "not a number"))
	require.Equal(t, 3.0, db.ConfigFloat(KeyMinHealthScore, 3))

	all, err := db.AllConfig()
	require.NoError(t, err)
	require.Equal(t, "true", all[KeyKillSwitch])
}

func TestPositionsAndPools(t *testing.T) {
	db := openTestDB(t)
	pos := &core.Position{
		PositionID: "pos-1", PoolID: "pool-a", WalletAddress: "0xw",
		Chain: core.ChainArbitrum, Status: core.PositionActive, ValueUsd: 100,
	}
	require.NoError(t, db.UpsertPosition(pos))
	require.NoError(t, db.UpsertPosition(&core.Position{
		PositionID: "pos-2", PoolID: "pool-b", WalletAddress: "0xw",
		Chain: core.ChainArbitrum, Status: core.PositionClosed,
	}))

	active, err := db.Positions(core.PositionActive)
	require.NoError(t, err)
	require.Len(t, active, 1)

	byPool, err := db.PositionByPool("pool-a", "0xw")
	require.NoError(t, err)
	require.Equal(t, "pos-1", byPool.PositionID)
	_, err = db.PositionByPool("pool-a", "0xother")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.UpsertPool(&core.Pool{PoolID: "pool-a", Apr: 12.5, HealthScore: 0.9}))
	pool, err := db.Pool("pool-a")
	require.NoError(t, err)
	require.Equal(t, 12.5, pool.Apr)

	require.NoError(t, db.InsertSnapshot(&core.PositionSnapshot{PositionID: "pos-1", ValueUsd: 101}))
	require.NoError(t, db.InsertSnapshot(&core.PositionSnapshot{PositionID: "pos-1", ValueUsd: 102}))
	snaps, err := db.Snapshots("pos-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
}

func TestPendingSignatures(t *testing.T) {
	db := openTestDB(t)
	row := &core.PendingSignature{
		ID: "psig-1", SignalID: "sig-5", StepIndex: 2,
		Chain: core.ChainAptos, Kind: core.StepDeposit, Status: core.SigPending,
		Payload: core.NewAptosPayload(core.AptosPayload{Function: "0x1::m::f"}),
	}
	require.NoError(t, db.InsertPendingSignature(row))

	row.Status = core.SigBroadcasted
	row.SignatureOrHash = "0xhash"
	require.NoError(t, db.UpdatePendingSignature(row))

	got, err := db.PendingSignature("psig-1")
	require.NoError(t, err)
	require.Equal(t, core.SigBroadcasted, got.Status)
	require.Equal(t, 2, got.StepIndex)

	pendingOnly, err := db.PendingSignatures(core.SigPending)
	require.NoError(t, err)
	require.Empty(t, pendingOnly)

	require.ErrorIs(t, db.UpdatePendingSignature(&core.PendingSignature{ID: "nope"}), ErrNotFound)
}

func TestAuditTail(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendAudit(&core.AuditEntry{
			EventType: "tx_confirmed", Severity: core.SeverityInfo,
			Source: "test", Message: string(rune('a' + i)),
		}))
	}
	tail, err := db.AuditTail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, "d", tail[0].Message)
	require.Equal(t, "e", tail[1].Message)
	require.NotEmpty(t, tail[0].ID)
}

func TestConfirmedUsdSince(t *testing.T) {
	db := openTestDB(t)
	old := &core.TxRecord{
		SignalID: "old", StepIndex: 0, Chain: core.ChainEthereum,
		Kind: core.StepDeposit, Status: core.StatusConfirmed,
		AmountUsd: 999, CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, db.InsertTxRecord(old))
	fresh := &core.TxRecord{
		SignalID: "fresh", StepIndex: 0, Chain: core.ChainEthereum,
		Kind: core.StepDeposit, Status: core.StatusConfirmed, AmountUsd: 300,
	}
	require.NoError(t, db.InsertTxRecord(fresh))
	inflight := &core.TxRecord{
		SignalID: "inflight", StepIndex: 0, Chain: core.ChainEthereum,
		Kind: core.StepDeposit, Status: core.StatusSubmitted, AmountUsd: 200,
	}
	require.NoError(t, db.InsertTxRecord(inflight))
	failed := &core.TxRecord{
		SignalID: "failed", StepIndex: 0, Chain: core.ChainEthereum,
		Kind: core.StepDeposit, Status: core.StatusFailed, AmountUsd: 50,
	}
	require.NoError(t, db.InsertTxRecord(failed))

	sum, err := db.ConfirmedUsdSince(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 500.0, sum)
}
