package executor

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/simulator"
)

func hashToCommon(hash string) common.Hash {
	return common.HexToHash(hash)
}

// confirm dispatches the receipt poll by family.
func (e *Executor) confirm(ctx context.Context, chain core.Chain, hash string, rec *core.TxRecord) error {
	switch chain.Family() {
	case core.FamilyEVM:
		return e.confirmEvm(ctx, chain, hash, rec)
	case core.FamilySolana:
		return e.confirmSolana(ctx, hash)
	case core.FamilyAptos:
		return e.confirmAptos(ctx, hash)
	}
	return core.ErrUnsupportedChain
}

// submitSolana signs with the hot key and sends the instruction.
func (e *Executor) submitSolana(ctx context.Context, step core.Step) (string, error) {
	key, err := e.vault.HotKey(core.FamilySolana)
	if err != nil {
		return "", core.NewError(core.KindConfig, "no solana hot key", err)
	}
	cli, err := e.clients.Solana()
	if err != nil {
		return "", core.NewError(core.KindConfig, "no solana client", err)
	}
	sig, err := cli.Send(ctx, step.Payload.Solana, key)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "sendTransaction", err)
	}
	return sig, nil
}

func (e *Executor) confirmSolana(ctx context.Context, signature string) error {
	cli, err := e.clients.Solana()
	if err != nil {
		return core.NewError(core.KindConfig, "no solana client", err)
	}
	ticker := time.NewTicker(e.cfg.ConfirmInterval)
	defer ticker.Stop()
	for {
		ok, err := cli.Confirmed(ctx, signature)
		if err != nil && strings.Contains(err.Error(), "transaction failed") {
			return core.NewError(core.KindReverted, err.Error(), nil)
		}
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return core.NewError(core.KindTimeout, "confirmation budget exhausted", ctx.Err())
		case <-ticker.C:
		}
	}
}

// submitAptos assembles the JSON envelope, has the node BCS-encode the
// signing message, signs it with ed25519 and submits.
func (e *Executor) submitAptos(ctx context.Context, step core.Step, sim *simulator.Result) (string, error) {
	keyHex, err := e.vault.HotKey(core.FamilyAptos)
	if err != nil {
		return "", core.NewError(core.KindConfig, "no aptos hot key", err)
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil || len(seed) != ed25519.SeedSize {
		return "", core.NewError(core.KindConfig, "bad aptos key", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	cli, err := e.clients.Aptos()
	if err != nil {
		return "", core.NewError(core.KindConfig, "no aptos client", err)
	}
	wallet := e.walletFor(core.ChainAptos)
	tx, err := cli.NewTxRequest(ctx, wallet, step.Payload.Aptos, sim.GasEstimate)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "aptos tx assembly", err)
	}
	msg, err := cli.EncodeSubmission(ctx, tx)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "encode_submission", err)
	}
	sig := ed25519.Sign(priv, msg)
	if err := tx.AttachSignature("0x"+hex.EncodeToString(pub), "0x"+hex.EncodeToString(sig)); err != nil {
		return "", err
	}
	raw, err := tx.Marshal()
	if err != nil {
		return "", err
	}
	hash, err := cli.Submit(ctx, raw)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "aptos submit", err)
	}
	return hash, nil
}

func (e *Executor) confirmAptos(ctx context.Context, hash string) error {
	cli, err := e.clients.Aptos()
	if err != nil {
		return core.NewError(core.KindConfig, "no aptos client", err)
	}
	ticker := time.NewTicker(e.cfg.ConfirmInterval)
	defer ticker.Stop()
	for {
		done, success, vmStatus, err := cli.TxSuccess(ctx, hash)
		if err == nil && done {
			if success {
				return nil
			}
			return core.NewError(core.KindReverted, vmStatus, nil)
		}
		select {
		case <-ctx.Done():
			return core.NewError(core.KindTimeout, "confirmation budget exhausted", ctx.Err())
		case <-ticker.C:
		}
	}
}
