// Package planner expands signals into ordered step plans. It consults
// adapters for payload encoding and the preparer for wrap/approve legs;
// it never signs or submits.
package planner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/policy"
	"github.com/tos-network/gyield/preparer"
	"github.com/tos-network/gyield/router"
	"github.com/tos-network/gyield/store"
)

// Planner builds plans from signals.
type Planner struct {
	registry *adapters.Registry
	prep     *preparer.Preparer
	watcher  *policy.Watcher
	db       *store.DB
	logger   log.Logger
}

// New wires the planner.
func New(registry *adapters.Registry, prep *preparer.Preparer, watcher *policy.Watcher, db *store.DB) *Planner {
	return &Planner{
		registry: registry, prep: prep, watcher: watcher, db: db,
		logger: log.New("module", "planner"),
	}
}

// BuildPlan expands sig into its plan. The plan validates before return;
// a plan that fails validation is a planner bug surfaced loudly.
func (p *Planner) BuildPlan(ctx context.Context, sig *core.Signal) (*core.Plan, error) {
	var (
		steps []core.Step
		err   error
	)
	switch sig.Action {
	case core.ActionEnter, core.ActionIncrease:
		steps, err = p.enterSteps(ctx, sig, sig.PoolID, sig.Chain, sig.ProtocolID, sig.AmountUsd)
	case core.ActionExit, core.ActionDecrease:
		steps, err = p.exitSteps(ctx, sig, sig.PoolID, sig.Chain, sig.ProtocolID, partialAmount(sig))
	case core.ActionCompound:
		steps, err = p.compoundSteps(ctx, sig)
	case core.ActionRebalance:
		steps, err = p.rebalanceSteps(ctx, sig)
	default:
		return nil, fmt.Errorf("%w: action %q", core.ErrMalformedSignal, sig.Action)
	}
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: empty plan for %s", core.ErrMalformedSignal, sig.Action)
	}

	plan := &core.Plan{SignalID: sig.SignalID, Steps: steps}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	p.logger.Debug("Plan built", "signal", sig.SignalID, "action", sig.Action, "steps", len(steps))
	return plan, nil
}

// wallet returns the configured wallet for the chain's family.
func (p *Planner) wallet(chain core.Chain) string {
	snap := p.watcher.Snapshot()
	switch chain.Family() {
	case core.FamilySolana:
		return snap.SolanaWallet
	case core.FamilyAptos:
		return snap.AptosWallet
	default:
		return snap.EvmWallet
	}
}

// tokensFor reads the deposit token set from the signal: the structured
// "tokens" params list, or the flat "token"/"amountRaw" keys.
func tokensFor(sig *core.Signal) ([]adapters.TokenAmount, error) {
	refs := sig.Tokens()
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no deposit tokens in params", core.ErrMalformedSignal)
	}
	out := make([]adapters.TokenAmount, 0, len(refs))
	for _, ref := range refs {
		amt, ok := new(big.Int).SetString(ref.Amount, 10)
		if !ok || amt.Sign() <= 0 {
			return nil, fmt.Errorf("%w: bad token amount %q", core.ErrMalformedSignal, ref.Amount)
		}
		out = append(out, adapters.TokenAmount{Address: ref.Address, Amount: amt})
	}
	return out, nil
}

func partialAmount(sig *core.Signal) *big.Int {
	raw := sig.Param("amountRaw", "")
	if raw == "" {
		if refs := sig.Tokens(); len(refs) > 0 {
			raw = refs[0].Amount
		}
	}
	if raw != "" {
		if amt, ok := new(big.Int).SetString(raw, 10); ok && amt.Sign() > 0 {
			return amt
		}
	}
	return nil // max
}

// enterSteps builds [WRAP?, APPROVE*, SWAP?, DEPOSIT]. The deposit
// depends on every prior step; approves may run in parallel among
// themselves; the swap depends on the approve of its input token.
func (p *Planner) enterSteps(ctx context.Context, sig *core.Signal, poolID string, chain core.Chain, protocolID string, amountUsd float64) ([]core.Step, error) {
	adapter, err := p.registry.Lookup(protocolID, chain)
	if err != nil {
		return nil, err
	}
	tokens, err := tokensFor(sig)
	if err != nil {
		return nil, err
	}
	wallet := p.wallet(chain)

	steps, err := p.prep.PrepSteps(ctx, chain, wallet, adapter.Spender(poolID), tokens)
	if err != nil {
		return nil, err
	}

	slippage := router.SlippageFor(floatParam(sig, "slippagePct"), sig.Param("widenSlippage", "") == "true")

	// Optional swap leg: holding one token of a two-token pool.
	if from := sig.Param("swapFrom", ""); from != "" && len(tokens) >= 1 {
		swapper, err := p.registry.Swapper(protocolID, chain)
		if err != nil {
			return nil, err
		}
		payload, err := swapper.Swap(ctx, adapters.SwapParams{
			Wallet:      wallet,
			TokenIn:     from,
			TokenOut:    tokens[0].Address,
			AmountIn:    tokens[0].Amount,
			SlippagePct: slippage,
		})
		if err != nil {
			return nil, err
		}
		swap := core.Step{
			Payload:  payload,
			Kind:     core.StepSwap,
			UsdValue: amountUsd,
			Meta: map[string]string{
				"tokenIn":  from,
				"tokenOut": tokens[0].Address,
				"amountIn": tokens[0].Amount.String(),
			},
		}
		if sig.Param("widenSlippage", "") == "true" {
			swap.Meta["widenSlippage"] = "true"
		}
		// The swap waits for the approve on its input token.
		for i, s := range steps {
			if s.Kind == core.StepApprove && s.Meta["token"] == from {
				swap.DependsOn = append(swap.DependsOn, i)
			}
		}
		steps = append(steps, swap)
	}

	payload, err := adapter.Deposit(ctx, adapters.DepositParams{
		Wallet:      wallet,
		PoolID:      poolID,
		Tokens:      tokens,
		SlippagePct: slippage,
	})
	if err != nil {
		return nil, err
	}
	deposit := core.Step{
		Payload:    payload,
		Kind:       core.StepDeposit,
		UsdValue:   amountUsd,
		Enqueuable: true,
		Meta:       map[string]string{"poolId": poolID, "protocolId": protocolID},
	}
	for i := range steps {
		deposit.DependsOn = append(deposit.DependsOn, i)
	}
	steps = append(steps, deposit)
	return steps, nil
}

// exitSteps builds [HARVEST?, WITHDRAW]. A nil amount withdraws max.
func (p *Planner) exitSteps(ctx context.Context, sig *core.Signal, poolID string, chain core.Chain, protocolID string, amount *big.Int) ([]core.Step, error) {
	adapter, err := p.registry.Lookup(protocolID, chain)
	if err != nil {
		return nil, err
	}
	wallet := p.wallet(chain)

	var steps []core.Step
	if sig.Param("harvest", "true") == "true" {
		payload, err := adapter.Harvest(ctx, adapters.HarvestParams{Wallet: wallet, PoolID: poolID})
		if err == nil {
			steps = append(steps, core.Step{
				Payload: payload,
				Kind:    core.StepHarvest,
				Meta:    map[string]string{"poolId": poolID},
			})
		} else if err != adapters.ErrNotSupported {
			return nil, err
		}
	}

	payload, err := adapter.Withdraw(ctx, adapters.WithdrawParams{
		Wallet: wallet,
		PoolID: poolID,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	withdraw := core.Step{
		Payload:  payload,
		Kind:     core.StepWithdraw,
		UsdValue: sig.AmountUsd,
		Meta:     map[string]string{"poolId": poolID, "protocolId": protocolID},
	}
	if len(steps) > 0 {
		withdraw.DependsOn = []int{0}
	}
	steps = append(steps, withdraw)
	return steps, nil
}

// compoundSteps builds [HARVEST, SWAP*, DEPOSIT] from the adapter's
// compound expansion, chaining each step on its predecessor.
func (p *Planner) compoundSteps(ctx context.Context, sig *core.Signal) ([]core.Step, error) {
	adapter, err := p.registry.Lookup(sig.ProtocolID, sig.Chain)
	if err != nil {
		return nil, err
	}
	payloads, err := adapter.Compound(ctx, adapters.HarvestParams{
		Wallet: p.wallet(sig.Chain),
		PoolID: sig.PoolID,
	})
	if err != nil {
		return nil, err
	}
	steps := make([]core.Step, 0, len(payloads))
	for i, payload := range payloads {
		kind := core.StepDeposit
		switch {
		case i == 0:
			kind = core.StepHarvest
		case i < len(payloads)-1:
			kind = core.StepSwap
		}
		step := core.Step{
			Payload:  payload,
			Kind:     kind,
			UsdValue: sig.AmountUsd,
			Meta:     map[string]string{"poolId": sig.PoolID, "protocolId": sig.ProtocolID},
		}
		if i > 0 {
			step.DependsOn = []int{i - 1}
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// rebalanceSteps chains exit(from) → bridge lock/claim when cross-chain →
// enter(target). The claim depends on the lock; the first enter step
// depends on the last exit-or-claim step.
func (p *Planner) rebalanceSteps(ctx context.Context, sig *core.Signal) ([]core.Step, error) {
	targetPoolID := sig.Param("targetPoolId", "")
	if targetPoolID == "" {
		return nil, fmt.Errorf("%w: rebalance without targetPoolId", core.ErrMalformedSignal)
	}
	targetPool, err := p.db.Pool(targetPoolID)
	if err != nil {
		return nil, fmt.Errorf("rebalance target pool %q: %w", targetPoolID, err)
	}

	steps, err := p.exitSteps(ctx, sig, sig.PoolID, sig.Chain, sig.ProtocolID, partialAmount(sig))
	if err != nil {
		return nil, err
	}
	lastExit := len(steps) - 1

	barrier := lastExit
	if targetPool.Chain != sig.Chain {
		bridger, err := p.registry.Bridger(sig.Param("bridgeProtocol", "htlc-bridge"), sig.Chain)
		if err != nil {
			return nil, err
		}
		token := sig.Param("bridgeToken", "")
		if token == "" {
			if refs := sig.Tokens(); len(refs) > 0 {
				token = refs[0].Address
			}
		}
		amount := partialAmount(sig)
		if token == "" || amount == nil {
			return nil, fmt.Errorf("%w: cross-chain rebalance needs bridgeToken and amountRaw", core.ErrMalformedSignal)
		}
		lock, err := bridger.Lock(ctx, sig.Chain, targetPool.Chain, token, amount, p.wallet(sig.Chain))
		if err != nil {
			return nil, err
		}
		lockStep := core.Step{
			Payload:   lock.Payload,
			Kind:      core.StepBridgeLock,
			UsdValue:  sig.AmountUsd,
			DependsOn: []int{lastExit},
			Meta: map[string]string{
				"swapId":     lock.SwapID,
				"secretHash": lock.SecretHash,
				"timelock":   fmt.Sprintf("%d", lock.Timelock),
			},
		}
		steps = append(steps, lockStep)
		lockIdx := len(steps) - 1

		secret := ""
		if hb, ok := bridger.(interface{ Secret(string) (string, bool) }); ok {
			secret, _ = hb.Secret(lock.SwapID)
		}
		claimPayload, err := bridger.Claim(ctx, lock.SwapID, secret, p.wallet(targetPool.Chain))
		if err != nil {
			return nil, err
		}
		if hb, ok := bridger.(interface {
			PayloadFor(core.Chain, core.TxPayload) (core.TxPayload, error)
		}); ok {
			claimPayload, err = hb.PayloadFor(targetPool.Chain, claimPayload)
			if err != nil {
				return nil, err
			}
		}
		steps = append(steps, core.Step{
			Payload:   claimPayload,
			Kind:      core.StepBridgeClaim,
			UsdValue:  sig.AmountUsd,
			DependsOn: []int{lockIdx},
			Meta:      map[string]string{"swapId": lock.SwapID},
		})
		barrier = len(steps) - 1
	}

	enter, err := p.enterSteps(ctx, sig, targetPoolID, targetPool.Chain, targetPool.ProtocolID, sig.AmountUsd)
	if err != nil {
		return nil, err
	}
	offset := len(steps)
	for i := range enter {
		for j := range enter[i].DependsOn {
			enter[i].DependsOn[j] += offset
		}
		if len(enter[i].DependsOn) == 0 {
			enter[i].DependsOn = []int{barrier}
		}
	}
	return append(steps, enter...), nil
}

func floatParam(sig *core.Signal, key string) float64 {
	var f float64
	if _, err := fmt.Sscanf(sig.Param(key, ""), "%g", &f); err != nil {
		return 0
	}
	return f
}
