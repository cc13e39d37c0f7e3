// Package ledger keeps the position book: openings on confirmed
// deposits, reductions and dust-closes on confirmed withdrawals, and a
// periodic reconciler that re-reads on-chain balances.
package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

var (
	openedMeter = metrics.NewRegisteredCounter("ledger/opened", nil)
	closedMeter = metrics.NewRegisteredCounter("ledger/closed", nil)
)

// Ledger applies confirmed mutations to the position book.
type Ledger struct {
	db       *store.DB
	registry *adapters.Registry
	prices   *PriceCache
	logger   log.Logger
}

// New wires the ledger.
func New(db *store.DB, registry *adapters.Registry, prices *PriceCache) *Ledger {
	return &Ledger{db: db, registry: registry, prices: prices, logger: log.New("module", "ledger")}
}

// ApplyRecord folds one confirmed record into the book. Non-mutating and
// non-terminal records are ignored, so callers can pass every record.
func (l *Ledger) ApplyRecord(sig *core.Signal, rec *core.TxRecord, wallet string) error {
	if rec.Status != core.StatusConfirmed {
		return nil
	}
	switch rec.Kind {
	case core.StepDeposit:
		return l.applyDeposit(sig, rec, wallet)
	case core.StepWithdraw:
		return l.applyWithdraw(sig, rec, wallet)
	}
	return nil
}

func (l *Ledger) applyDeposit(sig *core.Signal, rec *core.TxRecord, wallet string) error {
	poolID := rec.Metadata["poolId"]
	if poolID == "" {
		poolID = sig.PoolID
	}
	now := time.Now().UTC()

	pos, err := l.db.PositionByPool(poolID, wallet)
	if err == nil && pos.Status == core.PositionActive {
		pos.ValueUsd += rec.AmountUsd
		pos.EntryValueUsd += rec.AmountUsd
		pos.UpdatedAt = now
		return l.db.UpsertPosition(pos)
	}

	pos = &core.Position{
		PositionID:    uuid.NewString(),
		PoolID:        poolID,
		WalletAddress: wallet,
		Chain:         rec.Chain,
		ProtocolID:    metaOr(rec, "protocolId", sig.ProtocolID),
		ValueUsd:      rec.AmountUsd,
		EntryValueUsd: rec.AmountUsd,
		Status:        core.PositionActive,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	openedMeter.Inc(1)
	l.logger.Info("Position opened", "position", pos.PositionID, "pool", poolID, "valueUsd", pos.ValueUsd)
	return l.db.UpsertPosition(pos)
}

func (l *Ledger) applyWithdraw(sig *core.Signal, rec *core.TxRecord, wallet string) error {
	poolID := metaOr(rec, "poolId", sig.PoolID)
	pos, err := l.db.PositionByPool(poolID, wallet)
	if err != nil {
		// Withdrawing from an untracked pool is legal (manual entry);
		// nothing to fold.
		l.logger.Debug("Withdraw from untracked pool", "pool", poolID)
		return nil
	}
	now := time.Now().UTC()

	withdrawn := rec.AmountUsd
	if withdrawn <= 0 || withdrawn > pos.ValueUsd {
		withdrawn = pos.ValueUsd
	}
	frac := 0.0
	if pos.ValueUsd > 0 {
		frac = withdrawn / pos.ValueUsd
	}
	pos.RealizedPnlUsd += withdrawn - pos.EntryValueUsd*frac
	pos.ValueUsd -= withdrawn
	pos.EntryValueUsd *= 1 - frac
	pos.AmountToken0 *= 1 - frac
	pos.AmountToken1 *= 1 - frac
	pos.UpdatedAt = now

	if core.BelowDust(pos.AmountToken0, pos.ValueUsd) {
		pos.Status = core.PositionClosed
		pos.ClosedAt = &now
		pos.ValueUsd = 0
		pos.AmountToken0 = 0
		pos.AmountToken1 = 0
		closedMeter.Inc(1)
		l.logger.Info("Position closed", "position", pos.PositionID, "pool", poolID,
			"realizedPnl", pos.RealizedPnlUsd)
	}
	return l.db.UpsertPosition(pos)
}

func metaOr(rec *core.TxRecord, key, def string) string {
	if v := rec.Metadata[key]; v != "" {
		return v
	}
	return def
}
