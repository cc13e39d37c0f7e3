package executor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/nonce"
	"github.com/tos-network/gyield/router"
	"github.com/tos-network/gyield/simulator"
)

// submitEvm signs and submits an EVM payload on the chosen route.
// Returns (txHash, orderID). Order-flow routes return only an order id;
// relay and direct routes return a hash.
func (e *Executor) submitEvm(ctx context.Context, sig *core.Signal, step core.Step, route router.Route, sim *simulator.Result) (string, string, error) {
	privHex, err := e.vault.HotKey(core.FamilyEVM)
	if err != nil {
		return "", "", core.NewError(core.KindConfig, "no evm hot key", err)
	}

	// Order-flow routes replace the swap calldata with a signed order.
	if of, ok := e.routes.Order(route); ok && step.Kind == core.StepSwap {
		sub, err := of.SubmitOrder(ctx, step.Payload.Chain, e.walletFor(step.Payload.Chain), privHex, step.Meta)
		if err != nil {
			return "", "", err
		}
		return "", sub.OrderID, nil
	}

	tx, err := e.buildSignedTx(ctx, sig, step, sim, privHex)
	if err != nil {
		return "", "", err
	}

	if relay, ok := e.routes.Relay(route); ok {
		sub, err := relay.SubmitSigned(ctx, tx)
		if err != nil {
			return "", "", err
		}
		return sub.TxHash, "", nil
	}

	// Direct: public mempool via the chain's own RPC, with one nonce-reset
	// retry on the classic races.
	cli, err := e.clients.Evm(step.Payload.Chain)
	if err != nil {
		return "", "", core.NewError(core.KindConfig, "no client", err)
	}
	priv, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return "", "", core.NewError(core.KindConfig, "bad evm key", err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)

	if err := cli.SendTransaction(ctx, tx); err != nil {
		if !nonce.IsNonceError(err) {
			return "", "", core.NewError(core.KindRpcTransient, "eth_sendRawTransaction", err)
		}
		e.nonces.Reset(step.Payload.Chain, addr)
		e.logger.Warn("Nonce race, resigning once", "chain", step.Payload.Chain, "err", err)
		tx, err = e.buildSignedTx(ctx, sig, step, sim, privHex)
		if err != nil {
			return "", "", err
		}
		if err := cli.SendTransaction(ctx, tx); err != nil {
			return "", "", core.NewError(core.KindNonceMismatch, "resubmit after nonce reset", err)
		}
	}
	return tx.Hash().Hex(), "", nil
}

// buildSignedTx composes and signs a type-2 transaction:
// maxFeePerGas = baseFee*2 + tip, gasLimit scaled by the aggregator table.
func (e *Executor) buildSignedTx(ctx context.Context, sig *core.Signal, step core.Step, sim *simulator.Result, privHex string) (*types.Transaction, error) {
	chain := step.Payload.Chain
	info, ok := chain.Info()
	if !ok {
		return nil, core.ErrUnsupportedChain
	}
	cli, err := e.clients.Evm(chain)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "no client", err)
	}
	priv, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "bad evm key", err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)

	n, err := e.nonces.NextNonce(ctx, chain, addr)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "nonce", err)
	}

	head, err := cli.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "header", err)
	}
	tip, err := cli.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(params.GWei) // 1 gwei floor when the node has no estimate
	}
	base, overflow := uint256.FromBig(head.BaseFee)
	if overflow {
		return nil, core.NewError(core.KindRpcTransient, "absurd base fee", nil)
	}
	tipU, _ := uint256.FromBig(tip)
	feeCapU := new(uint256.Int).Lsh(base, 1)
	feeCapU.Add(feeCapU, tipU)
	feeCap := feeCapU.ToBig()
	if p := step.Payload.Evm; p.MaxFeePerGas != nil {
		feeCap = p.MaxFeePerGas
		if p.MaxPriorityFeePerGas != nil {
			tip = p.MaxPriorityFeePerGas
		}
	}

	limit := step.Payload.Evm.GasLimit
	if limit == 0 {
		mult := router.GasLimitMultiplier(sig.Param("aggregator", ""))
		limit = uint64(float64(sim.GasEstimate) * mult)
	}

	value := step.Payload.Evm.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(info.ChainID),
		Nonce:     n,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       limit,
		To:        &step.Payload.Evm.To,
		Value:     value,
		Data:      step.Payload.Evm.Data,
	})
	signed, err := types.SignTx(tx, types.NewLondonSigner(new(big.Int).SetUint64(info.ChainID)), priv)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "sign", err)
	}
	return signed, nil
}

// confirmEvm polls for the receipt until success, revert or budget expiry.
func (e *Executor) confirmEvm(ctx context.Context, chain core.Chain, hash string, rec *core.TxRecord) error {
	cli, err := e.clients.Evm(chain)
	if err != nil {
		return core.NewError(core.KindConfig, "no client", err)
	}
	ticker := time.NewTicker(e.cfg.ConfirmInterval)
	defer ticker.Stop()
	for {
		receipt, err := cli.TransactionReceipt(ctx, hashToCommon(hash))
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				rec.GasCostUsd = e.evmGasCostUsd(chain, receipt)
				return nil
			}
			return core.NewError(core.KindReverted, "receipt status 0", nil)
		}
		select {
		case <-ctx.Done():
			return core.NewError(core.KindTimeout, "confirmation budget exhausted", ctx.Err())
		case <-ticker.C:
		}
	}
}

// evmGasCostUsd prices gasUsed × effectiveGasPrice in USD.
func (e *Executor) evmGasCostUsd(chain core.Chain, receipt *types.Receipt) float64 {
	if e.prices == nil || receipt.EffectiveGasPrice == nil {
		return 0
	}
	native := e.prices.NativeUsd(chain)
	if native <= 0 {
		return 0
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	eth, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetInt(big.NewInt(params.Ether)),
	).Float64()
	return eth * native
}
