// Package adapters defines the protocol encoder capability set and the
// registry the core is polymorphic over. Adapters are pure encoders: they
// may read chain state through their RPC client but never sign or submit.
package adapters

import (
	"context"
	"errors"
	"math/big"

	"github.com/tos-network/gyield/core"
)

// Category buckets protocols by product shape.
type Category string

const (
	CategoryDex         Category = "dex"
	CategoryLending     Category = "lending"
	CategoryStaking     Category = "staking"
	CategoryYield       Category = "yield"
	CategoryBridge      Category = "bridge"
	CategoryDerivatives Category = "derivatives"
)

var (
	ErrNotSupported   = errors.New("adapters: operation not supported by protocol")
	ErrUnknownAdapter = errors.New("adapters: no adapter registered")
	ErrBadParams      = errors.New("adapters: bad parameters")
)

// TokenAmount names one token input by address and raw amount.
type TokenAmount struct {
	Address string
	Amount  *big.Int
	Symbol  string
}

// DepositParams parameterizes a deposit encoding.
type DepositParams struct {
	Wallet string
	PoolID string
	Tokens []TokenAmount
	// SlippagePct bounds acceptable price movement for pool entry.
	SlippagePct float64
}

// WithdrawParams parameterizes a withdrawal. A nil Amount means max.
type WithdrawParams struct {
	Wallet string
	PoolID string
	Amount *big.Int
}

// HarvestParams parameterizes a reward claim.
type HarvestParams struct {
	Wallet string
	PoolID string
}

// SwapParams parameterizes a token swap through the protocol.
type SwapParams struct {
	Wallet      string
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	SlippagePct float64
}

// Quote is a deposit/withdraw preview.
type Quote struct {
	AmountOut *big.Int
	PriceImpactPct float64
}

// Adapter is the flat capability set every protocol encoder implements.
type Adapter interface {
	// Initialize connects the adapter's chain client; it fails fast on
	// unreachable nodes.
	Initialize(ctx context.Context) error

	Chain() core.Chain
	ProtocolID() string
	Category() Category

	GetPosition(ctx context.Context, wallet, poolID string) (*core.Position, error)
	GetAllPositions(ctx context.Context, wallet string) ([]*core.Position, error)

	Deposit(ctx context.Context, p DepositParams) (core.TxPayload, error)
	Withdraw(ctx context.Context, p WithdrawParams) (core.TxPayload, error)
	Harvest(ctx context.Context, p HarvestParams) (core.TxPayload, error)
	Compound(ctx context.Context, p HarvestParams) ([]core.TxPayload, error)

	// Spender is the contract granted ERC-20 allowances for deposits into
	// poolID. Empty for non-EVM protocols.
	Spender(poolID string) string
}

// Swapper is the optional capability LP/DEX adapters add. The registry
// exposes it by feature test, never by downcast to a concrete type.
type Swapper interface {
	Swap(ctx context.Context, p SwapParams) (core.TxPayload, error)
	QuoteDeposit(ctx context.Context, p DepositParams) (*Quote, error)
	QuoteWithdraw(ctx context.Context, p WithdrawParams) (*Quote, error)
}

// BridgeLock is the source-side result of an HTLC bridge lock.
type BridgeLock struct {
	SwapID     string
	SecretHash string
	Timelock   uint64
	Payload    core.TxPayload
}

// Bridger is the capability bridge adapters implement. Lock encodes the
// source-side HTLC; Claim spends it on the destination once the lock is
// confirmed; Refund reclaims after timelock expiry.
type Bridger interface {
	Lock(ctx context.Context, srcChain, dstChain core.Chain, token string, amount *big.Int, wallet string) (*BridgeLock, error)
	Claim(ctx context.Context, swapID, secret string, wallet string) (core.TxPayload, error)
	Refund(ctx context.Context, swapID string, wallet string) (core.TxPayload, error)
}
