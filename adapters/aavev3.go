package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

const aavePoolABIJSON = `[
	{"name":"supply","type":"function","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"name":"withdraw","type":"function","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var aavePoolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aavePoolABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: bad aave abi: %v", err))
	}
	aavePoolABI = parsed
}

// AaveV3 encodes supply/withdraw against an Aave v3 pool. PoolID is the
// underlying asset address; the aToken tracks the position balance.
type AaveV3 struct {
	chain   core.Chain
	pool    common.Address            // Aave Pool contract
	aTokens map[string]common.Address // asset (lowercase) → aToken
	clients *chainclients.Registry
	cli     chainclients.EvmBackend
}

// NewAaveV3 builds the adapter for one chain deployment.
func NewAaveV3(chain core.Chain, pool common.Address, aTokens map[string]common.Address, clients *chainclients.Registry) *AaveV3 {
	normalized := make(map[string]common.Address, len(aTokens))
	for asset, aToken := range aTokens {
		normalized[strings.ToLower(asset)] = aToken
	}
	return &AaveV3{chain: chain, pool: pool, aTokens: normalized, clients: clients}
}

func (a *AaveV3) Initialize(ctx context.Context) error {
	cli, err := a.clients.Evm(a.chain)
	if err != nil {
		return err
	}
	// Fail fast on an unreachable node.
	if _, err := cli.HeaderByNumber(ctx, nil); err != nil {
		return fmt.Errorf("aave-v3: node unreachable on %s: %w", a.chain, err)
	}
	a.cli = cli
	return nil
}

func (a *AaveV3) Chain() core.Chain    { return a.chain }
func (a *AaveV3) ProtocolID() string   { return "aave-v3" }
func (a *AaveV3) Category() Category   { return CategoryLending }
func (a *AaveV3) Spender(string) string { return a.pool.Hex() }

func (a *AaveV3) aToken(asset string) (common.Address, bool) {
	at, ok := a.aTokens[strings.ToLower(asset)]
	return at, ok
}

// GetPosition reads the wallet's aToken balance for the pool asset.
func (a *AaveV3) GetPosition(ctx context.Context, wallet, poolID string) (*core.Position, error) {
	aToken, ok := a.aToken(poolID)
	if !ok {
		return nil, fmt.Errorf("%w: no aToken for %s", ErrBadParams, poolID)
	}
	bal, err := BalanceOf(ctx, a.cli, aToken, common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}
	if bal.Sign() == 0 {
		return nil, nil
	}
	amount, _ := new(big.Float).SetInt(bal).Float64()
	return &core.Position{
		PoolID:        poolID,
		WalletAddress: wallet,
		Chain:         a.chain,
		ProtocolID:    a.ProtocolID(),
		AmountToken0:  amount,
		Status:        core.PositionActive,
	}, nil
}

// GetAllPositions scans every configured asset.
func (a *AaveV3) GetAllPositions(ctx context.Context, wallet string) ([]*core.Position, error) {
	var out []*core.Position
	for asset := range a.aTokens {
		pos, err := a.GetPosition(ctx, wallet, asset)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Deposit encodes supply(asset, amount, wallet, 0).
func (a *AaveV3) Deposit(_ context.Context, p DepositParams) (core.TxPayload, error) {
	if len(p.Tokens) != 1 || p.Tokens[0].Amount == nil {
		return core.TxPayload{}, fmt.Errorf("%w: aave deposit takes exactly one token", ErrBadParams)
	}
	data, err := aavePoolABI.Pack("supply",
		common.HexToAddress(p.Tokens[0].Address),
		p.Tokens[0].Amount,
		common.HexToAddress(p.Wallet),
		uint16(0),
	)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(a.chain, core.EvmPayload{To: a.pool, Data: data}), nil
}

// Withdraw encodes withdraw(asset, amount, wallet). A nil amount withdraws
// max.
func (a *AaveV3) Withdraw(_ context.Context, p WithdrawParams) (core.TxPayload, error) {
	amount := p.Amount
	if amount == nil {
		amount = MaxUint256
	}
	data, err := aavePoolABI.Pack("withdraw",
		common.HexToAddress(p.PoolID),
		amount,
		common.HexToAddress(p.Wallet),
	)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(a.chain, core.EvmPayload{To: a.pool, Data: data}), nil
}

// Harvest is a no-op on Aave v3: interest accrues into the aToken balance.
func (a *AaveV3) Harvest(context.Context, HarvestParams) (core.TxPayload, error) {
	return core.TxPayload{}, ErrNotSupported
}

// Compound is likewise not applicable.
func (a *AaveV3) Compound(context.Context, HarvestParams) ([]core.TxPayload, error) {
	return nil, ErrNotSupported
}
