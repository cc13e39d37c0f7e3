package chainclients

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/tos-network/gyield/core"
)

// SolanaSimResult is the outcome of a dry-run against the cluster.
type SolanaSimResult struct {
	Ok           bool
	Err          string
	UnitsConsumed uint64
	Logs         []string
}

// SolanaBackend is the slice of the Solana RPC surface the pipeline uses.
type SolanaBackend interface {
	Simulate(ctx context.Context, payload *core.SolanaPayload, payer string) (*SolanaSimResult, error)
	Send(ctx context.Context, payload *core.SolanaPayload, payerKey string) (string, error)
	Confirmed(ctx context.Context, signature string) (bool, error)
}

// SolanaClient implements SolanaBackend over gagliardetto/solana-go.
type SolanaClient struct {
	rpc *solrpc.Client
}

// NewSolanaClient dials the cluster RPC.
func NewSolanaClient(url string) *SolanaClient {
	return &SolanaClient{rpc: solrpc.New(url)}
}

func buildTransaction(payload *core.SolanaPayload, payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	program, err := solana.PublicKeyFromBase58(payload.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("solana: bad program id: %w", err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(payload.Accounts))
	for _, acc := range payload.Accounts {
		pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("solana: bad account %s: %w", acc.Pubkey, err)
		}
		metas = append(metas, &solana.AccountMeta{
			PublicKey:  pk,
			IsSigner:   acc.Signer,
			IsWritable: acc.Writable,
		})
	}
	inst := solana.NewInstruction(program, metas, payload.Data)
	return solana.NewTransaction(
		[]solana.Instruction{inst},
		blockhash,
		solana.TransactionPayer(payer),
	)
}

// Simulate runs simulateTransaction with sigVerify=false and
// replaceRecentBlockhash=true, the non-custodial dry-run mode.
func (c *SolanaClient) Simulate(ctx context.Context, payload *core.SolanaPayload, payer string) (*SolanaSimResult, error) {
	payerKey, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return nil, fmt.Errorf("solana: bad payer: %w", err)
	}
	recent, err := c.rpc.GetLatestBlockhash(ctx, solrpc.CommitmentFinalized)
	if err != nil {
		return nil, err
	}
	tx, err := buildTransaction(payload, payerKey, recent.Value.Blockhash)
	if err != nil {
		return nil, err
	}
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &solrpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return nil, err
	}
	res := &SolanaSimResult{Ok: out.Value.Err == nil, Logs: out.Value.Logs}
	if out.Value.Err != nil {
		res.Err = fmt.Sprintf("%v", out.Value.Err)
	}
	if out.Value.UnitsConsumed != nil {
		res.UnitsConsumed = *out.Value.UnitsConsumed
	}
	return res, nil
}

// Send signs with the hot key and submits the transaction, returning the
// base58 signature.
func (c *SolanaClient) Send(ctx context.Context, payload *core.SolanaPayload, payerKey string) (string, error) {
	priv, err := solana.PrivateKeyFromBase58(payerKey)
	if err != nil {
		return "", fmt.Errorf("solana: bad payer key: %w", err)
	}
	recent, err := c.rpc.GetLatestBlockhash(ctx, solrpc.CommitmentFinalized)
	if err != nil {
		return "", err
	}
	tx, err := buildTransaction(payload, priv.PublicKey(), recent.Value.Blockhash)
	if err != nil {
		return "", err
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(priv.PublicKey()) {
			return &priv
		}
		return nil
	}); err != nil {
		return "", err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, solrpc.TransactionOpts{
		SkipPreflight:       true, // the pipeline simulates upstream
		PreflightCommitment: solrpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// Confirmed reports whether the signature reached confirmed commitment.
func (c *SolanaClient) Confirmed(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, err
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, err
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return false, fmt.Errorf("solana: transaction failed: %v", st.Err)
	}
	switch st.ConfirmationStatus {
	case solrpc.ConfirmationStatusConfirmed, solrpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}
