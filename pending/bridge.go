// Package pending parks payloads that cannot be signed in-process and
// waits for an external signer to broadcast or reject them.
package pending

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

const (
	// DefaultTTL expires an unsigned row.
	DefaultTTL = 30 * time.Minute
	// sweepInterval drives the expiry sweep.
	sweepInterval = 60 * time.Second
	// pollInterval drives waiters between feed events.
	pollInterval = 2 * time.Second
)

var (
	parkedMeter  = metrics.NewRegisteredCounter("pending/parked", nil)
	expiredMeter = metrics.NewRegisteredCounter("pending/expired", nil)
)

// Update is published on every pending-signature transition.
type Update struct {
	ID     string
	Status core.SigStatus
	Hash   string
}

// Bridge owns the pending_signatures lifecycle.
type Bridge struct {
	db     *store.DB
	ttl    time.Duration
	feed   event.Feed
	logger log.Logger
}

// NewBridge builds a bridge with the default TTL.
func NewBridge(db *store.DB) *Bridge {
	return &Bridge{db: db, ttl: DefaultTTL, logger: log.New("module", "pending")}
}

// Park stores an unsigned payload and returns the row id the TxRecord
// references. The (signalID, stepIdx) pair lets the watcher resume the
// owning plan once the row resolves.
func (b *Bridge) Park(signalID string, stepIdx int, kind core.StepKind, amountUsd float64, payload core.TxPayload) (string, error) {
	row := &core.PendingSignature{
		ID:        uuid.NewString(),
		SignalID:  signalID,
		StepIndex: stepIdx,
		Chain:     payload.Chain,
		Kind:      kind,
		AmountUsd: amountUsd,
		Payload:   payload,
		Status:    core.SigPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := b.db.InsertPendingSignature(row); err != nil {
		return "", err
	}
	parkedMeter.Inc(1)
	b.logger.Info("Payload parked for external signature", "id", row.ID, "chain", row.Chain, "kind", kind)
	return row.ID, nil
}

// Resolve applies an external decision: broadcasted with a hash, or
// rejected. Terminal rows reject further transitions.
func (b *Bridge) Resolve(id string, status core.SigStatus, hash string) error {
	row, err := b.db.PendingSignature(id)
	if err != nil {
		return err
	}
	if row.Status != core.SigPending {
		return core.NewError(core.KindConfig, "pending signature already resolved", nil)
	}
	row.Status = status
	row.SignatureOrHash = hash
	row.UpdatedAt = time.Now().UTC()
	if err := b.db.UpdatePendingSignature(row); err != nil {
		return err
	}
	b.feed.Send(Update{ID: id, Status: status, Hash: hash})
	return nil
}

// Subscribe delivers transitions to ch until the subscription is closed.
func (b *Bridge) Subscribe(ch chan<- Update) event.Subscription {
	return b.feed.Subscribe(ch)
}

// Wait blocks until the row leaves pending or ctx ends, returning the
// terminal row. Expiry counts as terminal.
func (b *Bridge) Wait(ctx context.Context, id string) (*core.PendingSignature, error) {
	ch := make(chan Update, 8)
	sub := b.Subscribe(ch)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		row, err := b.db.PendingSignature(id)
		if err != nil {
			return nil, err
		}
		if row.Status != core.SigPending {
			return row, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		case <-ticker.C:
		}
	}
}

// RunSweeper expires stale pending rows until ctx is cancelled.
func (b *Bridge) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bridge) sweep() {
	rows, err := b.db.PendingSignatures(core.SigPending)
	if err != nil {
		b.logger.Error("Pending signature sweep failed", "err", err)
		return
	}
	cutoff := time.Now().Add(-b.ttl)
	for _, row := range rows {
		if row.CreatedAt.After(cutoff) {
			continue
		}
		row.Status = core.SigExpired
		row.UpdatedAt = time.Now().UTC()
		if err := b.db.UpdatePendingSignature(row); err != nil {
			b.logger.Error("Pending signature expiry failed", "id", row.ID, "err", err)
			continue
		}
		expiredMeter.Inc(1)
		b.feed.Send(Update{ID: row.ID, Status: core.SigExpired})
		b.logger.Warn("Pending signature expired", "id", row.ID, "age", time.Since(row.CreatedAt))
	}
}
