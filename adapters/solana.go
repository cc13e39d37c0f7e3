package adapters

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

// SolanaStake encodes deposits into a Solana stake-pool style program.
// PoolID is the pool state account; instructions carry a one-byte
// discriminator followed by a little-endian u64 amount, the layout the
// target program expects.
type SolanaStake struct {
	programID  string
	protocolID string
	clients    *chainclients.Registry
}

const (
	solanaIxDeposit  = 1
	solanaIxWithdraw = 2
	solanaIxHarvest  = 3
)

// NewSolanaStake builds the adapter for one program deployment.
func NewSolanaStake(protocolID, programID string, clients *chainclients.Registry) *SolanaStake {
	return &SolanaStake{programID: programID, protocolID: protocolID, clients: clients}
}

func (s *SolanaStake) Initialize(_ context.Context) error {
	_, err := s.clients.Solana()
	return err
}

func (s *SolanaStake) Chain() core.Chain     { return core.ChainSolana }
func (s *SolanaStake) ProtocolID() string    { return s.protocolID }
func (s *SolanaStake) Category() Category    { return CategoryStaking }
func (s *SolanaStake) Spender(string) string { return "" }

func (s *SolanaStake) GetPosition(context.Context, string, string) (*core.Position, error) {
	// Stake accounts are derived off-chain by the reconciler's APR
	// estimator; the program exposes no direct balance read.
	return nil, ErrNotSupported
}

func (s *SolanaStake) GetAllPositions(context.Context, string) ([]*core.Position, error) {
	return nil, ErrNotSupported
}

func (s *SolanaStake) instruction(kind byte, pool, wallet string, amount *big.Int) (core.TxPayload, error) {
	data := make([]byte, 9)
	data[0] = kind
	if amount != nil {
		if !amount.IsUint64() {
			return core.TxPayload{}, fmt.Errorf("%w: amount exceeds u64", ErrBadParams)
		}
		binary.LittleEndian.PutUint64(data[1:], amount.Uint64())
	}
	return core.NewSolanaPayload(core.SolanaPayload{
		ProgramID: s.programID,
		Accounts: []core.SolanaAccountMeta{
			{Pubkey: pool, Writable: true},
			{Pubkey: wallet, Signer: true, Writable: true},
		},
		Data: data,
	}), nil
}

func (s *SolanaStake) Deposit(_ context.Context, p DepositParams) (core.TxPayload, error) {
	if len(p.Tokens) != 1 {
		return core.TxPayload{}, fmt.Errorf("%w: solana deposit takes exactly one token", ErrBadParams)
	}
	return s.instruction(solanaIxDeposit, p.PoolID, p.Wallet, p.Tokens[0].Amount)
}

func (s *SolanaStake) Withdraw(_ context.Context, p WithdrawParams) (core.TxPayload, error) {
	amount := p.Amount
	if amount == nil {
		amount = new(big.Int).SetUint64(^uint64(0)) // program treats max u64 as "all"
	}
	return s.instruction(solanaIxWithdraw, p.PoolID, p.Wallet, amount)
}

func (s *SolanaStake) Harvest(_ context.Context, p HarvestParams) (core.TxPayload, error) {
	return s.instruction(solanaIxHarvest, p.PoolID, p.Wallet, nil)
}

func (s *SolanaStake) Compound(ctx context.Context, p HarvestParams) ([]core.TxPayload, error) {
	harvest, err := s.Harvest(ctx, p)
	if err != nil {
		return nil, err
	}
	return []core.TxPayload{harvest}, nil
}
