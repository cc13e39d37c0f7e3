package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EvmPayload is a call against an EVM chain: target, calldata and optional
// fee overrides. Gas fields left zero are filled from simulation.
type EvmPayload struct {
	To                   common.Address `json:"to"`
	Data                 []byte         `json:"data"`
	Value                *big.Int       `json:"value,omitempty"`
	GasLimit             uint64         `json:"gasLimit,omitempty"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas,omitempty"`
}

// SolanaPayload is a single pre-encoded instruction plus its account metas.
type SolanaPayload struct {
	ProgramID string               `json:"programId"`
	Accounts  []SolanaAccountMeta  `json:"accounts"`
	Data      []byte               `json:"data"`
}

// SolanaAccountMeta mirrors the account list an instruction names.
type SolanaAccountMeta struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// AptosPayload is an entry-function call in Move notation.
type AptosPayload struct {
	Function string   `json:"function"` // "0xaddr::module::function"
	TypeArgs []string `json:"typeArguments"`
	Args     []string `json:"arguments"`
}

// TxPayload is the chain-tagged transaction envelope. Exactly one of the
// family variants is set; Validate enforces the pairing so invalid
// combinations never reach an executor arm.
type TxPayload struct {
	Chain  Chain          `json:"chain"`
	Evm    *EvmPayload    `json:"evm,omitempty"`
	Solana *SolanaPayload `json:"solana,omitempty"`
	Aptos  *AptosPayload  `json:"aptos,omitempty"`
}

// NewEvmPayload tags an EVM call with its chain.
func NewEvmPayload(chain Chain, p EvmPayload) TxPayload {
	return TxPayload{Chain: chain, Evm: &p}
}

// NewSolanaPayload tags a Solana instruction.
func NewSolanaPayload(p SolanaPayload) TxPayload {
	return TxPayload{Chain: ChainSolana, Solana: &p}
}

// NewAptosPayload tags an Aptos entry-function call.
func NewAptosPayload(p AptosPayload) TxPayload {
	return TxPayload{Chain: ChainAptos, Aptos: &p}
}

// Validate checks the variant matches the chain family.
func (p TxPayload) Validate() error {
	set := 0
	if p.Evm != nil {
		set++
	}
	if p.Solana != nil {
		set++
	}
	if p.Aptos != nil {
		set++
	}
	if set != 1 {
		return ErrMalformedPayload
	}
	switch p.Chain.Family() {
	case FamilyEVM:
		if p.Evm == nil {
			return ErrMalformedPayload
		}
	case FamilySolana:
		if p.Solana == nil {
			return ErrMalformedPayload
		}
	case FamilyAptos:
		if p.Aptos == nil {
			return ErrMalformedPayload
		}
	default:
		return ErrUnsupportedChain
	}
	return nil
}
