// Package dispatcher consumes the durable signal journal and drives each
// signal through plan, policy and execution. One worker per chain keeps
// nonce order; cross-chain signals run in parallel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/errgroup"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/executor"
	"github.com/tos-network/gyield/gasgate"
	"github.com/tos-network/gyield/ledger"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/planner"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/store"
)

const (
	journalPoll  = time.Second
	journalBatch = 64
	queueDepth   = 128
)

var (
	consumedMeter = metrics.NewRegisteredCounter("dispatcher/consumed", nil)
	dedupedMeter  = metrics.NewRegisteredCounter("dispatcher/deduped", nil)
	abortedMeter  = metrics.NewRegisteredCounter("dispatcher/aborted", nil)
)

type work struct {
	sig *core.Signal
	seq uint64
	// hasSeq is false for signals re-entering from the gas gate or the
	// pending-signature watcher; those have no journal row to ack.
	hasSeq bool
	// gasWarned marks a gas-gate timeout release: execute, but audit it.
	gasWarned bool
}

// Dispatcher owns the signal pipeline above the executor.
type Dispatcher struct {
	db    *store.DB
	gate  *policy.Gate
	plans *planner.Planner
	exec  *executor.Executor
	gas   *gasgate.Scheduler
	sigs  *pending.Bridge
	book  *ledger.Ledger
	watch *policy.Watcher

	queues map[core.Chain]chan work

	mu       sync.Mutex
	inflight map[uint64]bool
	done     map[uint64]bool
	ackNext  uint64
	ackInit  bool

	logger log.Logger
}

// New wires the dispatcher.
func New(db *store.DB, gate *policy.Gate, plans *planner.Planner, exec *executor.Executor,
	gas *gasgate.Scheduler, sigs *pending.Bridge, book *ledger.Ledger, watch *policy.Watcher) *Dispatcher {
	queues := make(map[core.Chain]chan work)
	for _, chain := range core.Chains() {
		queues[chain] = make(chan work, queueDepth)
	}
	return &Dispatcher{
		db: db, gate: gate, plans: plans, exec: exec, gas: gas, sigs: sigs,
		book: book, watch: watch,
		queues:   queues,
		inflight: make(map[uint64]bool),
		done:     make(map[uint64]bool),
		logger:   log.New("module", "dispatcher"),
	}
}

// Run blocks until ctx is cancelled or a worker fails hard.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for chain, queue := range d.queues {
		chain, queue := chain, queue
		g.Go(func() error { return d.worker(ctx, chain, queue) })
	}
	g.Go(func() error { return d.journalLoop(ctx) })
	g.Go(func() error { return d.releasedLoop(ctx) })
	g.Go(func() error { return d.pendingLoop(ctx) })
	return g.Wait()
}

// journalLoop tails the un-acked journal and fans entries out by chain.
func (d *Dispatcher) journalLoop(ctx context.Context) error {
	ticker := time.NewTicker(journalPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		entries, err := d.db.UnackedJournal(journalBatch)
		if err != nil {
			d.logger.Error("Journal read failed", "err", err)
			continue
		}
		for _, entry := range entries {
			if d.markInflight(entry.Seq) {
				continue // already queued, not yet acked
			}
			sig, err := core.DecodeSignal(entry.Raw)
			if err != nil {
				d.logger.Warn("Malformed signal dropped", "seq", entry.Seq, "err", err)
				d.auditDrop(entry.Seq, err)
				d.complete(entry.Seq)
				continue
			}
			queue, ok := d.queues[sig.Chain]
			if !ok {
				d.auditDrop(entry.Seq, core.ErrUnsupportedChain)
				d.complete(entry.Seq)
				continue
			}
			select {
			case queue <- work{sig: sig, seq: entry.Seq, hasSeq: true}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// releasedLoop requeues signals the gas gate lets back out.
func (d *Dispatcher) releasedLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rel := <-d.gas.Released():
			queue, ok := d.queues[rel.Signal.Chain]
			if !ok {
				continue
			}
			if rel.TimedOut {
				d.logger.Warn("Gas gate wait expired, executing anyway", "signal", rel.Signal.SignalID)
			}
			select {
			case queue <- work{sig: rel.Signal, gasWarned: rel.TimedOut}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// pendingLoop resumes plans whose parked step got an external decision.
func (d *Dispatcher) pendingLoop(ctx context.Context) error {
	ch := make(chan pending.Update, 16)
	sub := d.sigs.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-ch:
			row, err := d.db.PendingSignature(update.ID)
			if err != nil {
				d.logger.Error("Pending row vanished", "id", update.ID, "err", err)
				continue
			}
			if err := d.exec.FinishParked(ctx, row); err != nil {
				d.logger.Warn("Parked step did not confirm", "id", update.ID, "err", err)
				continue
			}
			sig, err := d.db.Signal(row.SignalID)
			if err != nil {
				continue
			}
			if queue, ok := d.queues[sig.Chain]; ok {
				select {
				case queue <- work{sig: sig}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, chain core.Chain, queue chan work) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w := <-queue:
			d.process(ctx, w)
			if w.hasSeq {
				d.complete(w.seq)
			}
		}
	}
}

// process runs one signal to its plan's conclusion. Redelivered signals
// resume at the first non-terminal step.
func (d *Dispatcher) process(ctx context.Context, w work) {
	sig := w.sig
	consumedMeter.Inc(1)

	plan, fresh, err := d.planFor(ctx, sig)
	if err != nil {
		d.logger.Warn("Signal not planned", "signal", sig.SignalID, "err", err)
		return
	}
	if plan == nil {
		dedupedMeter.Inc(1)
		return
	}
	if fresh && w.gasWarned {
		d.auditGasTimeout(sig)
	}

	for i, step := range plan.Steps {
		prior, err := d.db.TxRecord(sig.SignalID, i)
		if err == nil && prior.Status.Terminal() {
			if prior.Status == core.StatusConfirmed || prior.Status == core.StatusSkipped {
				continue
			}
			// A failed or rejected step already aborted this plan.
			return
		}
		if err == nil && prior.Status == core.StatusPending && prior.Metadata["pendingSignatureId"] != "" {
			return // blocked on an external signature
		}

		rec, err := d.exec.Execute(ctx, sig, i, step)
		if err != nil {
			if errors.Is(err, executor.ErrGasDeferred) {
				return // scheduler owns the signal now
			}
			d.abort(sig, plan, i, err)
			return
		}
		switch rec.Status {
		case core.StatusPending:
			if rec.Metadata["dryRun"] == "true" {
				continue // rehearsal only; keep walking the plan
			}
			return // parked; pendingLoop resumes the plan
		case core.StatusRejected:
			d.abort(sig, plan, i, fmt.Errorf("policy: %s", rec.Metadata["failureReason"]))
			return
		case core.StatusConfirmed:
			if err := d.book.ApplyRecord(sig, rec, d.walletFor(sig.Chain)); err != nil {
				d.logger.Error("Ledger update failed", "signal", sig.SignalID, "step", i, "err", err)
			}
		case core.StatusSkipped:
		default:
			// A dependent step never runs past a non-terminal predecessor.
			return
		}
	}
	d.logger.Info("Plan concluded", "signal", sig.SignalID, "steps", len(plan.Steps))
}

// planFor returns the signal's plan, building and persisting it on first
// delivery. A nil plan with nil error means the signal already concluded.
func (d *Dispatcher) planFor(ctx context.Context, sig *core.Signal) (*core.Plan, bool, error) {
	has, err := d.db.HasPlan(sig.SignalID)
	if err != nil {
		return nil, false, err
	}
	if has {
		plan, err := d.db.Plan(sig.SignalID)
		if err != nil {
			return nil, false, err
		}
		if d.planConcluded(sig.SignalID, plan) {
			return nil, false, nil
		}
		return plan, false, nil
	}

	// First delivery: signal-level policy check, then plan.
	decision := d.gate.Check(sig)
	if !decision.Allowed {
		return nil, false, fmt.Errorf("rejected: %s", decision.Reason)
	}
	plan, err := d.plans.BuildPlan(ctx, sig)
	if err != nil {
		return nil, false, err
	}
	if err := d.db.PutSignal(sig); err != nil {
		return nil, false, err
	}
	if err := d.db.InsertPlan(plan); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			stored, perr := d.db.Plan(sig.SignalID)
			return stored, false, perr
		}
		return nil, false, err
	}
	return plan, true, nil
}

func (d *Dispatcher) planConcluded(signalID string, plan *core.Plan) bool {
	recs, err := d.db.TxRecordsBySignal(signalID)
	if err != nil || len(recs) < len(plan.Steps) {
		return false
	}
	for _, rec := range recs {
		if !rec.Status.Terminal() {
			return false
		}
	}
	return true
}

// abort marks every unstarted step SKIPPED and writes the failure summary.
// No partial rollback: a failed enter-after-exit leaves funds idle and
// alerts instead of retrying against a stale exit.
func (d *Dispatcher) abort(sig *core.Signal, plan *core.Plan, failedStep int, cause error) {
	abortedMeter.Inc(1)
	for i := failedStep + 1; i < len(plan.Steps); i++ {
		rec := &core.TxRecord{
			Chain:     plan.Steps[i].Payload.Chain,
			SignalID:  sig.SignalID,
			StepIndex: i,
			PoolID:    sig.PoolID,
			Kind:      plan.Steps[i].Kind,
			Status:    core.StatusSkipped,
			CreatedAt: time.Now().UTC(),
		}
		rec.SetMeta("skippedBy", fmt.Sprintf("step %d failure", failedStep))
		if err := d.db.InsertTxRecord(rec); err != nil && !errors.Is(err, store.ErrDuplicate) {
			d.logger.Error("Skip record not persisted", "signal", sig.SignalID, "step", i, "err", err)
		}
	}
	severity := core.SeverityError
	if sig.Action == core.ActionRebalance || sig.Action == core.ActionCompound {
		severity = core.SeverityCritical // funds may be idle between legs
	}
	entry := &core.AuditEntry{
		EventType: "plan_aborted",
		Severity:  severity,
		Source:    "dispatcher",
		Message:   fmt.Sprintf("plan aborted at step %d: %v", failedStep, cause),
		Metadata: map[string]string{
			"signalId": sig.SignalID,
			"action":   string(sig.Action),
			"chain":    string(sig.Chain),
		},
	}
	if err := d.db.AppendAudit(entry); err != nil {
		d.logger.Error("Abort audit failed", "signal", sig.SignalID, "err", err)
	}
	d.logger.Error("Plan aborted", "signal", sig.SignalID, "failedStep", failedStep, "err", cause)
}

func (d *Dispatcher) auditDrop(seq uint64, cause error) {
	_ = d.db.AppendAudit(&core.AuditEntry{
		EventType: "signal_dropped",
		Severity:  core.SeverityWarning,
		Source:    "dispatcher",
		Message:   cause.Error(),
		Metadata:  map[string]string{"journalSeq": fmt.Sprintf("%d", seq)},
	})
}

func (d *Dispatcher) auditGasTimeout(sig *core.Signal) {
	_ = d.db.AppendAudit(&core.AuditEntry{
		EventType: "gas_gate_timeout",
		Severity:  core.SeverityWarning,
		Source:    "dispatcher",
		Message:   "max wait expired above gas ceiling, executing anyway",
		Metadata:  map[string]string{"signalId": sig.SignalID, "chain": string(sig.Chain)},
	})
}

func (d *Dispatcher) walletFor(chain core.Chain) string {
	snap := d.watch.Snapshot()
	switch chain.Family() {
	case core.FamilySolana:
		return snap.SolanaWallet
	case core.FamilyAptos:
		return snap.AptosWallet
	default:
		return snap.EvmWallet
	}
}

// markInflight reports whether seq is already queued, recording it if not.
func (d *Dispatcher) markInflight(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[seq] || d.done[seq] {
		return true
	}
	d.inflight[seq] = true
	if !d.ackInit || seq < d.ackNext {
		if !d.ackInit {
			d.ackNext = seq
			d.ackInit = true
		}
	}
	return false
}

// complete advances the cumulative ack watermark in sequence order, so a
// slow chain never loses a faster chain's journal rows on crash.
func (d *Dispatcher) complete(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, seq)
	d.done[seq] = true

	advanced := false
	for d.done[d.ackNext] {
		delete(d.done, d.ackNext)
		d.ackNext++
		advanced = true
	}
	if !advanced {
		return
	}
	if err := d.db.AckJournal(d.ackNext - 1); err != nil {
		d.logger.Error("Journal ack failed", "seq", d.ackNext-1, "err", err)
	}
}
