// Package preparer computes the WRAP and APPROVE steps a deposit needs
// on an EVM chain. It reads balances and allowances but submits nothing;
// the steps it emits run through the executor like any other.
package preparer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/adapters"
	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

// gasReserveUnits is the gas-limit headroom kept in native balance when
// wrapping: currentGasPrice × this.
const gasReserveUnits = 300_000

// Preparer builds prep steps for EVM deposits.
type Preparer struct {
	clients *chainclients.Registry
	logger  log.Logger
}

// New builds a preparer over the client registry.
func New(clients *chainclients.Registry) *Preparer {
	return &Preparer{clients: clients, logger: log.New("module", "preparer")}
}

// PrepSteps returns the WRAP and APPROVE steps required before depositing
// the given tokens with spender. Non-EVM chains get no prep.
//
// Wrapping checks native balance >= amount + gasReserve and fails the
// whole signal on a shortfall. Tokens that are neither wrapped-native nor
// short on allowance pass through untouched.
func (p *Preparer) PrepSteps(ctx context.Context, chain core.Chain, wallet, spender string, tokens []adapters.TokenAmount) ([]core.Step, error) {
	if chain.Family() != core.FamilyEVM {
		return nil, nil
	}
	cli, err := p.clients.Evm(chain)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "no client", err)
	}
	owner := common.HexToAddress(wallet)

	var steps []core.Step
	for _, tok := range tokens {
		if tok.Amount == nil || tok.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: non-positive amount for %s", adapters.ErrBadParams, tok.Address)
		}
		if adapters.IsWrappedNative(chain, tok.Address) {
			step, err := p.wrapStep(ctx, cli, chain, owner, tok)
			if err != nil {
				return nil, err
			}
			if step != nil {
				steps = append(steps, *step)
			}
		}
		if spender == "" {
			continue
		}
		step, err := p.approveStep(ctx, cli, chain, owner, common.HexToAddress(spender), tok)
		if err != nil {
			return nil, err
		}
		if step != nil {
			steps = append(steps, *step)
		}
	}
	return steps, nil
}

// wrapStep emits a wrapped-native deposit() when the wrapped balance
// cannot cover the amount, after checking the native side can fund it
// plus a gas reserve.
func (p *Preparer) wrapStep(ctx context.Context, cli chainclients.EvmBackend, chain core.Chain, owner common.Address, tok adapters.TokenAmount) (*core.Step, error) {
	wrapped, err := adapters.BalanceOf(ctx, cli, common.HexToAddress(tok.Address), owner)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "wrapped balance", err)
	}
	if wrapped.Cmp(tok.Amount) >= 0 {
		return nil, nil
	}
	shortfall := new(big.Int).Sub(tok.Amount, wrapped)

	native, err := cli.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "native balance", err)
	}
	gasPrice, err := cli.SuggestGasPrice(ctx)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "gas price", err)
	}
	reserve := new(big.Int).Mul(gasPrice, big.NewInt(gasReserveUnits))
	need := new(big.Int).Add(shortfall, reserve)
	if native.Cmp(need) < 0 {
		return nil, core.NewError(core.KindInsufficientBalance,
			fmt.Sprintf("native %s short of wrap %s + reserve %s", native, shortfall, reserve), nil)
	}

	payload, err := adapters.EncodeWrapNative(chain, shortfall)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Wrap step prepared", "chain", chain, "amount", shortfall)
	return &core.Step{
		Payload: payload,
		Kind:    core.StepWrap,
		Meta:    map[string]string{"token": tok.Address, "amount": shortfall.String()},
	}, nil
}

// approveStep emits approve(spender, MAX_UINT256) when the standing
// allowance cannot cover the amount. The executor retries a failed
// approve once before giving up.
func (p *Preparer) approveStep(ctx context.Context, cli chainclients.EvmBackend, chain core.Chain, owner, spender common.Address, tok adapters.TokenAmount) (*core.Step, error) {
	token := common.HexToAddress(tok.Address)
	allowance, err := adapters.Allowance(ctx, cli, token, owner, spender)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "allowance", err)
	}
	if allowance.Cmp(tok.Amount) >= 0 {
		return nil, nil
	}
	payload, err := adapters.EncodeApprove(chain, token, spender, adapters.MaxUint256)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Approve step prepared", "chain", chain, "token", tok.Address, "spender", spender)
	return &core.Step{
		Payload: payload,
		Kind:    core.StepApprove,
		Meta:    map[string]string{"token": tok.Address, "spender": spender.Hex()},
	}, nil
}
