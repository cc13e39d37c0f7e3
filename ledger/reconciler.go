package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/core"
)

// DefaultReconcileInterval is the position refresh period.
const DefaultReconcileInterval = 5 * time.Minute

var reconcileTimer = metrics.NewRegisteredTimer("ledger/reconcile_duration", nil)

// RunReconciler refreshes every active position until ctx is cancelled.
func (l *Ledger) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			l.ReconcileOnce(ctx)
			reconcileTimer.UpdateSince(start)
		}
	}
}

// ReconcileOnce re-reads every active position, preferring the adapter's
// on-chain view and falling back to the APR estimator, then writes a
// snapshot row for each.
func (l *Ledger) ReconcileOnce(ctx context.Context) {
	positions, err := l.db.Positions(core.PositionActive)
	if err != nil {
		l.logger.Error("Reconcile read failed", "err", err)
		return
	}
	for _, pos := range positions {
		estimated, err := l.reconcilePosition(ctx, pos)
		if err != nil {
			l.logger.Warn("Position not reconciled", "position", pos.PositionID, "err", err)
			continue
		}
		snap := &core.PositionSnapshot{
			PositionID:       pos.PositionID,
			ValueUsd:         pos.ValueUsd,
			UnrealizedPnlUsd: pos.UnrealizedPnlUsd,
			Estimated:        estimated,
			TakenAt:          time.Now().UTC(),
		}
		if err := l.db.InsertSnapshot(snap); err != nil {
			l.logger.Error("Snapshot not persisted", "position", pos.PositionID, "err", err)
		}
	}
}

// reconcilePosition refreshes one position in place and persists it.
// The bool return marks an APR-estimated value rather than a read one.
func (l *Ledger) reconcilePosition(ctx context.Context, pos *core.Position) (bool, error) {
	adapter, err := l.registry.Lookup(pos.ProtocolID, pos.Chain)
	if err != nil {
		return false, err
	}

	onchain, err := adapter.GetPosition(ctx, pos.WalletAddress, pos.PoolID)
	switch {
	case err == nil && onchain != nil:
		pos.AmountToken0 = onchain.AmountToken0
		pos.AmountToken1 = onchain.AmountToken1
		if onchain.ValueUsd > 0 {
			pos.ValueUsd = onchain.ValueUsd
		}
		pos.UnrealizedPnlUsd = pos.ValueUsd - pos.EntryValueUsd
		pos.UpdatedAt = time.Now().UTC()
		return false, l.db.UpsertPosition(pos)

	case err == nil && onchain == nil:
		// Adapter reads zero balance: the position drained outside the
		// pipeline. Close it rather than estimate forever.
		now := time.Now().UTC()
		pos.Status = core.PositionClosed
		pos.ClosedAt = &now
		pos.ValueUsd = 0
		pos.UpdatedAt = now
		closedMeter.Inc(1)
		l.logger.Warn("Position drained externally", "position", pos.PositionID, "pool", pos.PoolID)
		return false, l.db.UpsertPosition(pos)

	case errors.Is(err, adapters.ErrNotSupported):
		return true, l.estimateByApr(pos)

	default:
		return false, err
	}
}

// estimateByApr applies pnl = entry × apr/100 × holdingDays/365, signed.
func (l *Ledger) estimateByApr(pos *core.Position) error {
	pool, err := l.db.Pool(pos.PoolID)
	if err != nil {
		return err
	}
	holdingDays := time.Since(pos.OpenedAt).Hours() / 24
	pnl := pos.EntryValueUsd * pool.Apr / 100 * holdingDays / 365
	pos.UnrealizedPnlUsd = pnl
	pos.ValueUsd = pos.EntryValueUsd + pnl
	pos.UpdatedAt = time.Now().UTC()
	return l.db.UpsertPosition(pos)
}
