// Package executor is the single choke point every transaction passes
// through: policy check, gas gate, simulation, route selection, signing,
// submission, confirmation and persistence. Nothing else in the process
// signs or submits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/gasgate"
	"github.com/tos-network/gyield/nonce"
	"github.com/tos-network/gyield/keyvault"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/router"
	"github.com/tos-network/gyield/simulator"
	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/store"
)

// Defaults for the per-step execution budget.
const (
	DefaultStepTimeout     = 120 * time.Second
	DefaultConfirmInterval = 3 * time.Second
	DefaultMaxRetries      = 2
	retryBackoff           = 2 * time.Second
)

// ErrGasDeferred signals the caller enqueued the step's signal on the gas
// gate instead of executing.
var ErrGasDeferred = errors.New("executor: deferred by gas gate")

// PriceSource supplies native token prices for gas-cost accounting.
type PriceSource interface {
	NativeUsd(chain core.Chain) float64
}

// Config tunes the executor's budgets.
type Config struct {
	StepTimeout     time.Duration
	ConfirmInterval time.Duration
	MaxRetries      int
}

func (c *Config) sanitize() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = DefaultConfirmInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Executor runs one step end to end.
type Executor struct {
	cfg     Config
	gate    *policy.Gate
	watcher *policy.Watcher
	gas     *gasgate.Scheduler
	sim     *simulator.Simulator
	routes  *router.Router
	nonces  *nonce.Manager
	vault   *keyvault.Vault
	bridge  *pending.Bridge
	clients *chainclients.Registry
	db      *store.DB
	prices  PriceSource
	logger  log.Logger
}

// New wires the executor. All collaborators are required except prices,
// which degrades gas-cost accounting to zero when nil.
func New(cfg Config, gate *policy.Gate, watcher *policy.Watcher, gas *gasgate.Scheduler,
	sim *simulator.Simulator, routes *router.Router, nonces *nonce.Manager,
	vault *keyvault.Vault, bridge *pending.Bridge, clients *chainclients.Registry,
	db *store.DB, prices PriceSource) *Executor {
	cfg.sanitize()
	return &Executor{
		cfg: cfg, gate: gate, watcher: watcher, gas: gas, sim: sim,
		routes: routes, nonces: nonces, vault: vault, bridge: bridge,
		clients: clients, db: db, prices: prices,
		logger: log.New("module", "executor"),
	}
}

// Execute runs step stepIdx of sig's plan. The returned record is always
// persisted; the error is non-nil only when the step failed or was
// deferred, and its kind drives the dispatcher's abort decision.
func (e *Executor) Execute(ctx context.Context, sig *core.Signal, stepIdx int, step core.Step) (*core.TxRecord, error) {
	rec := &core.TxRecord{
		Chain:     step.Payload.Chain,
		SignalID:  sig.SignalID,
		StepIndex: stepIdx,
		PoolID:    sig.PoolID,
		Kind:      step.Kind,
		Status:    core.StatusPending,
		AmountUsd: step.UsdValue,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.db.InsertTxRecord(rec); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		// Replayed step: surface the existing terminal record.
		prior, perr := e.db.TxRecord(sig.SignalID, stepIdx)
		if perr != nil {
			return nil, perr
		}
		if prior.Status.Terminal() {
			return prior, nil
		}
		// A dry-run rehearsal already recorded this step.
		if prior.Metadata["dryRun"] == "true" {
			return prior, nil
		}
		// Broadcast already happened before the crash: resume
		// confirmation on the stored hash or order instead of signing a
		// second transaction.
		if prior.Status == core.StatusSubmitted && (prior.TxHash != "" || prior.Metadata["orderId"] != "") {
			rctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
			defer cancel()
			if err := e.resume(rctx, sig, prior); err != nil {
				e.fail(prior, err)
				return prior, err
			}
			return prior, nil
		}
		rec = prior
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	defer stepTimer.UpdateSince(time.Now())

	err := e.run(ctx, sig, stepIdx, step, rec)
	if err != nil {
		if errors.Is(err, ErrGasDeferred) {
			return rec, err
		}
		e.fail(rec, err)
		return rec, err
	}
	return rec, nil
}

// run is the pipeline proper; it mutates rec through its states and
// returns nil only on CONFIRMED (or dry-run / parked PENDING).
func (e *Executor) run(ctx context.Context, sig *core.Signal, stepIdx int, step core.Step, rec *core.TxRecord) error {
	// 1. Policy.
	decision := e.gate.CheckStep(step.Kind, step.Payload.Chain, step.UsdValue)
	if !decision.Allowed {
		rec.Status = core.StatusRejected
		rec.SetMeta("failureReason", decision.Rule.Error())
		rejectedMeter.Inc(1)
		return e.persist(rec, core.NewError(core.KindPolicyRejection, decision.Reason, decision.Rule))
	}

	// 2. Gas gate.
	verdict, err := e.gas.ShouldExecuteNow(ctx, step.Payload.Chain)
	if err == nil && !verdict.Execute {
		if step.Enqueuable {
			e.gas.Enqueue(sig, gasMaxWait(sig))
			rec.SetMeta("gasDeferred", fmt.Sprintf("%.1f>%.1f gwei", verdict.CurrentGwei, verdict.MaxGwei))
			deferredMeter.Inc(1)
			_ = e.db.UpdateTxRecord(rec)
			return ErrGasDeferred
		}
		e.logger.Warn("Executing above gas ceiling", "chain", step.Payload.Chain,
			"current", verdict.CurrentGwei, "max", verdict.MaxGwei)
	}

	// 3. Dry run stops before the submission path entirely; the record
	// stays PENDING and the rehearsal is audited. Simulation is best
	// effort so a dead RPC cannot fail a rehearsal.
	if decision.DryRun {
		rec.Status = core.StatusPending
		rec.SetMeta("dryRun", "true")
		wallet := e.walletFor(step.Payload.Chain)
		if sim, serr := e.sim.Simulate(ctx, step.Payload, wallet); serr == nil && sim.Ok {
			rec.SetMeta("gasEstimate", strconv.FormatUint(sim.GasEstimate, 10))
		}
		e.auditDryRun(sig, stepIdx, step)
		e.logger.Info("Dry run: step planned but not submitted",
			"signal", sig.SignalID, "step", stepIdx, "kind", step.Kind)
		return e.persist(rec, nil)
	}

	// 4. Simulate.
	rec.Status = core.StatusSimulating
	_ = e.db.UpdateTxRecord(rec)
	wallet := e.walletFor(step.Payload.Chain)
	sim, err := e.withRetry(ctx, step, func() (*simulator.Result, error) {
		return e.sim.Simulate(ctx, step.Payload, wallet)
	})
	if err != nil {
		return err
	}
	if !sim.Ok {
		kind := simulator.ClassifyReason(sim.RevertReason)
		return core.NewError(kind, sim.RevertReason, nil)
	}

	// 5-6. Route, sign, submit.
	route := e.routes.Pick(step.Payload.Chain, step.UsdValue, sig.Urgency)
	rec.SetMeta("route", string(route))
	hash, orderID, err := e.submit(ctx, sig, stepIdx, step, route, sim, rec)
	if err != nil {
		return err
	}

	// 7. Confirm.
	switch {
	case hash == "" && orderID == "":
		// Parked for external signature; the pending watcher resumes it.
		return e.persist(rec, nil)
	case orderID != "":
		rec.Status = core.StatusSubmitted
		rec.SetMeta("orderId", orderID)
		submittedMeter.Inc(1)
		if err := e.db.UpdateTxRecord(rec); err != nil {
			return err
		}
		// The solver network settles off our hash path; poll the order
		// until it fills or lapses so dependants never run early.
		settled, err := e.confirmOrder(ctx, route, orderID)
		if err != nil {
			return err
		}
		rec.TxHash = settled
	default:
		rec.TxHash = hash
		rec.Status = core.StatusSubmitted
		submittedMeter.Inc(1)
		_ = e.db.UpdateTxRecord(rec)
		if err := e.confirm(ctx, step.Payload.Chain, hash, rec); err != nil {
			return err
		}
	}

	// 8. Persist and audit.
	now := time.Now().UTC()
	rec.Status = core.StatusConfirmed
	rec.ConfirmedAt = &now
	confirmedMeter.Inc(1)
	if err := e.db.UpdateTxRecord(rec); err != nil {
		return err
	}
	if step.Kind.Mutating() {
		e.audit(sig, stepIdx, rec)
	}
	return nil
}

// submit dispatches by route. It returns (txHash, orderID); an empty pair
// with nil error means the payload was parked pending signature.
func (e *Executor) submit(ctx context.Context, sig *core.Signal, stepIdx int, step core.Step, route router.Route, sim *simulator.Result, rec *core.TxRecord) (string, string, error) {
	family := step.Payload.Chain.Family()

	if !e.vault.HasKey(family) {
		id, err := e.bridge.Park(sig.SignalID, stepIdx, step.Kind, step.UsdValue, step.Payload)
		if err != nil {
			return "", "", err
		}
		rec.Status = core.StatusPending
		rec.SetMeta("pendingSignatureId", id)
		return "", "", nil
	}

	switch family {
	case core.FamilyEVM:
		return e.submitEvm(ctx, sig, step, route, sim)
	case core.FamilySolana:
		hash, err := e.submitSolana(ctx, step)
		return hash, "", err
	case core.FamilyAptos:
		hash, err := e.submitAptos(ctx, step, sim)
		return hash, "", err
	}
	return "", "", core.ErrUnsupportedChain
}

// resume finishes a redelivered step whose transaction or order already
// went out, without re-entering the signing path.
func (e *Executor) resume(ctx context.Context, sig *core.Signal, rec *core.TxRecord) error {
	if rec.TxHash != "" {
		if err := e.confirm(ctx, rec.Chain, rec.TxHash, rec); err != nil {
			return err
		}
	} else {
		settled, err := e.confirmOrder(ctx, router.Route(rec.Metadata["route"]), rec.Metadata["orderId"])
		if err != nil {
			return err
		}
		rec.TxHash = settled
	}
	now := time.Now().UTC()
	rec.Status = core.StatusConfirmed
	rec.ConfirmedAt = &now
	confirmedMeter.Inc(1)
	if err := e.db.UpdateTxRecord(rec); err != nil {
		return err
	}
	if rec.Kind.Mutating() {
		e.audit(sig, rec.StepIndex, rec)
	}
	return nil
}

// defaultGasMaxWait bounds a deferred signal's wait when the advisor
// sends no maxWaitMs.
const defaultGasMaxWait = gasgate.DefaultPollInterval * 20

// gasMaxWait reads the per-signal gas-gate wait bound.
func gasMaxWait(sig *core.Signal) time.Duration {
	if ms, err := strconv.Atoi(sig.Param("maxWaitMs", "")); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultGasMaxWait
}

// withRetry applies the per-step retry policy to a transient-prone call.
func (e *Executor) withRetry(ctx context.Context, step core.Step, fn func() (*simulator.Result, error)) (*simulator.Result, error) {
	var last error
	attempts := e.cfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		last = err
		if !e.retryable(step, err) || i == attempts-1 {
			break
		}
		retriedMeter.Inc(1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return nil, last
}

// retryable applies the taxonomy: transients always, slippage only on
// opt-in widening, approve once on anything, reverts never.
func (e *Executor) retryable(step core.Step, err error) bool {
	kind := core.Classify(err)
	if kind.Retryable() {
		return true
	}
	if kind == core.KindSlippageExceeded && step.Meta["widenSlippage"] == "true" {
		return true
	}
	if step.Kind == core.StepApprove && kind != core.KindPolicyRejection {
		return true
	}
	return false
}

func (e *Executor) walletFor(chain core.Chain) string {
	snap := e.watcher.Snapshot()
	switch chain.Family() {
	case core.FamilySolana:
		return snap.SolanaWallet
	case core.FamilyAptos:
		return snap.AptosWallet
	default:
		return snap.EvmWallet
	}
}

func (e *Executor) fail(rec *core.TxRecord, err error) {
	if rec.Status.Terminal() {
		return
	}
	rec.Status = core.StatusFailed
	rec.SetMeta("failureReason", err.Error())
	rec.SetMeta("errorKind", string(core.Classify(err)))
	failedMeter.Inc(1)
	if uerr := e.db.UpdateTxRecord(rec); uerr != nil {
		e.logger.Error("Failed record not persisted", "signal", rec.SignalID, "step", rec.StepIndex, "err", uerr)
	}
	e.logger.Warn("Step failed", "signal", rec.SignalID, "step", rec.StepIndex,
		"kind", rec.Kind, "err", err)
}

func (e *Executor) persist(rec *core.TxRecord, err error) error {
	if uerr := e.db.UpdateTxRecord(rec); uerr != nil {
		return uerr
	}
	return err
}

// FinishParked drives a pending-signature resolution to its record's
// terminal state: broadcasted resumes confirmation under the step budget,
// rejected and expired close the record as REJECTED.
func (e *Executor) FinishParked(ctx context.Context, row *core.PendingSignature) error {
	rec, err := e.db.TxRecord(row.SignalID, row.StepIndex)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	switch row.Status {
	case core.SigBroadcasted:
		rec.TxHash = row.SignatureOrHash
		rec.Status = core.StatusSubmitted
		if err := e.db.UpdateTxRecord(rec); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
		if err := e.confirm(cctx, rec.Chain, rec.TxHash, rec); err != nil {
			e.fail(rec, err)
			return err
		}
		now := time.Now().UTC()
		rec.Status = core.StatusConfirmed
		rec.ConfirmedAt = &now
		confirmedMeter.Inc(1)
		if err := e.db.UpdateTxRecord(rec); err != nil {
			return err
		}
		if rec.Kind.Mutating() {
			if sig, serr := e.db.Signal(row.SignalID); serr == nil {
				e.audit(sig, row.StepIndex, rec)
			}
		}
		return nil
	case core.SigRejected, core.SigExpired:
		rec.Status = core.StatusRejected
		rec.SetMeta("failureReason", "external signature "+string(row.Status))
		rejectedMeter.Inc(1)
		return e.db.UpdateTxRecord(rec)
	}
	return nil
}

func (e *Executor) auditDryRun(sig *core.Signal, stepIdx int, step core.Step) {
	entry := &core.AuditEntry{
		EventType: "dry_run_planned",
		Severity:  core.SeverityInfo,
		Source:    "executor",
		Message:   fmt.Sprintf("%s planned on %s without submission", step.Kind, step.Payload.Chain),
		Metadata: map[string]string{
			"signalId":  sig.SignalID,
			"stepIndex": strconv.Itoa(stepIdx),
		},
	}
	if err := e.db.AppendAudit(entry); err != nil {
		e.logger.Error("Audit append failed", "signal", sig.SignalID, "err", err)
	}
}

func (e *Executor) audit(sig *core.Signal, stepIdx int, rec *core.TxRecord) {
	entry := &core.AuditEntry{
		EventType: "tx_confirmed",
		Severity:  core.SeverityInfo,
		Source:    "executor",
		Message:   fmt.Sprintf("%s confirmed on %s", rec.Kind, rec.Chain),
		Metadata: map[string]string{
			"signalId":   sig.SignalID,
			"stepIndex":  strconv.Itoa(stepIdx),
			"txHash":     rec.TxHash,
			"amountUsd":  fmt.Sprintf("%.2f", rec.AmountUsd),
			"gasCostUsd": fmt.Sprintf("%.4f", rec.GasCostUsd),
		},
	}
	if err := e.db.AppendAudit(entry); err != nil {
		e.logger.Error("Audit append failed", "signal", sig.SignalID, "err", err)
	}
}
