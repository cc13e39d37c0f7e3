package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

const gaugeVaultABIJSON = `[
	{"name":"deposit","type":"function","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"withdraw","type":"function","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"getReward","type":"function","inputs":[],"outputs":[]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const v2RouterABIJSON = `[
	{"name":"swapExactTokensForTokens","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	gaugeVaultABI abi.ABI
	v2RouterABI   abi.ABI
)

func init() {
	var err error
	if gaugeVaultABI, err = abi.JSON(strings.NewReader(gaugeVaultABIJSON)); err != nil {
		panic(fmt.Sprintf("adapters: bad gauge abi: %v", err))
	}
	if v2RouterABI, err = abi.JSON(strings.NewReader(v2RouterABIJSON)); err != nil {
		panic(fmt.Sprintf("adapters: bad router abi: %v", err))
	}
}

// GaugeLP encodes deposits into gauge-staked LP vaults with a v2-style
// router for swap legs. PoolID is the gauge address.
type GaugeLP struct {
	chain      core.Chain
	protocolID string
	router     common.Address
	clients    *chainclients.Registry
	cli        chainclients.EvmBackend
}

// NewGaugeLP builds the adapter for one deployment.
func NewGaugeLP(chain core.Chain, protocolID string, router common.Address, clients *chainclients.Registry) *GaugeLP {
	return &GaugeLP{chain: chain, protocolID: protocolID, router: router, clients: clients}
}

func (g *GaugeLP) Initialize(ctx context.Context) error {
	cli, err := g.clients.Evm(g.chain)
	if err != nil {
		return err
	}
	if _, err := cli.HeaderByNumber(ctx, nil); err != nil {
		return fmt.Errorf("%s: node unreachable on %s: %w", g.protocolID, g.chain, err)
	}
	g.cli = cli
	return nil
}

func (g *GaugeLP) Chain() core.Chain      { return g.chain }
func (g *GaugeLP) ProtocolID() string     { return g.protocolID }
func (g *GaugeLP) Category() Category     { return CategoryDex }
func (g *GaugeLP) Spender(poolID string) string { return poolID }

// GetPosition reads the wallet's gauge balance.
func (g *GaugeLP) GetPosition(ctx context.Context, wallet, poolID string) (*core.Position, error) {
	bal, err := BalanceOf(ctx, g.cli, common.HexToAddress(poolID), common.HexToAddress(wallet))
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
		Chain:         g.chain,
		ProtocolID:    g.protocolID,
		AmountToken0:  amount,
		Status:        core.PositionActive,
	}, nil
}

func (g *GaugeLP) GetAllPositions(context.Context, string) ([]*core.Position, error) {
	// Gauges are discovered through the pool store, not enumerated on
	// chain; the reconciler queries per-pool.
	return nil, ErrNotSupported
}

// Deposit encodes deposit(amount) on the gauge.
func (g *GaugeLP) Deposit(_ context.Context, p DepositParams) (core.TxPayload, error) {
	if len(p.Tokens) == 0 || p.Tokens[0].Amount == nil {
		return core.TxPayload{}, fmt.Errorf("%w: missing deposit amount", ErrBadParams)
	}
	data, err := gaugeVaultABI.Pack("deposit", p.Tokens[0].Amount)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(g.chain, core.EvmPayload{To: common.HexToAddress(p.PoolID), Data: data}), nil
}

// Withdraw encodes withdraw(amount); nil means the full gauge balance.
func (g *GaugeLP) Withdraw(ctx context.Context, p WithdrawParams) (core.TxPayload, error) {
	amount := p.Amount
	if amount == nil {
		bal, err := BalanceOf(ctx, g.cli, common.HexToAddress(p.PoolID), common.HexToAddress(p.Wallet))
		if err != nil {
			return core.TxPayload{}, err
		}
		amount = bal
	}
	data, err := gaugeVaultABI.Pack("withdraw", amount)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(g.chain, core.EvmPayload{To: common.HexToAddress(p.PoolID), Data: data}), nil
}

// Harvest encodes getReward() on the gauge.
func (g *GaugeLP) Harvest(_ context.Context, p HarvestParams) (core.TxPayload, error) {
	data, err := gaugeVaultABI.Pack("getReward")
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(g.chain, core.EvmPayload{To: common.HexToAddress(p.PoolID), Data: data}), nil
}

// Compound chains harvest and re-deposit; the planner wires the swap legs
// between them.
func (g *GaugeLP) Compound(ctx context.Context, p HarvestParams) ([]core.TxPayload, error) {
	harvest, err := g.Harvest(ctx, p)
	if err != nil {
		return nil, err
	}
	return []core.TxPayload{harvest}, nil
}

// Swap encodes swapExactTokensForTokens through the router with the
// slippage-derived minimum out.
func (g *GaugeLP) Swap(ctx context.Context, p SwapParams) (core.TxPayload, error) {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return core.TxPayload{}, fmt.Errorf("%w: missing swap amount", ErrBadParams)
	}
	path := []common.Address{common.HexToAddress(p.TokenIn), common.HexToAddress(p.TokenOut)}
	minOut := big.NewInt(0)
	if quote, err := g.amountsOut(ctx, p.AmountIn, path); err == nil {
		// minOut = quote * (100 - slippage) / 100
		pct := 100 - p.SlippagePct
		if pct <= 0 {
			pct = 98
		}
		scaled := new(big.Int).Mul(quote, big.NewInt(int64(pct*100)))
		minOut = scaled.Div(scaled, big.NewInt(10000))
	}
	deadline := big.NewInt(time.Now().Add(10 * time.Minute).Unix())
	data, err := v2RouterABI.Pack("swapExactTokensForTokens",
		p.AmountIn, minOut, path, common.HexToAddress(p.Wallet), deadline)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(g.chain, core.EvmPayload{To: g.router, Data: data}), nil
}

func (g *GaugeLP) amountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := v2RouterABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	out, err := g.cli.CallContract(ctx, ethereumCallMsg(g.router, data), nil)
	if err != nil {
		return nil, err
	}
	vals, err := v2RouterABI.Unpack("getAmountsOut", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("adapters: bad getAmountsOut response: %v", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("adapters: bad getAmountsOut type")
	}
	return amounts[len(amounts)-1], nil
}

// QuoteDeposit previews the LP amount minted for a deposit.
func (g *GaugeLP) QuoteDeposit(_ context.Context, p DepositParams) (*Quote, error) {
	if len(p.Tokens) == 0 || p.Tokens[0].Amount == nil {
		return nil, ErrBadParams
	}
	return &Quote{AmountOut: new(big.Int).Set(p.Tokens[0].Amount)}, nil
}

// QuoteWithdraw previews the tokens returned for a gauge withdrawal.
func (g *GaugeLP) QuoteWithdraw(ctx context.Context, p WithdrawParams) (*Quote, error) {
	amount := p.Amount
	if amount == nil {
		bal, err := BalanceOf(ctx, g.cli, common.HexToAddress(p.PoolID), common.HexToAddress(p.Wallet))
		if err != nil {
			return nil, err
		}
		amount = bal
	}
	return &Quote{AmountOut: amount}, nil
}
