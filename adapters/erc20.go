package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

// MaxUint256 is the unlimited-allowance sentinel.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

const erc20ABIJSON = `[
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
	{"name":"withdraw","type":"function","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: bad erc20 abi: %v", err))
	}
	erc20ABI = parsed
}

// EncodeApprove builds an approve(spender, amount) payload.
func EncodeApprove(chain core.Chain, token, spender common.Address, amount *big.Int) (core.TxPayload, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(chain, core.EvmPayload{To: token, Data: data}), nil
}

// EncodeWrapNative builds the deposit() call on the chain's wrapped-native
// contract, carrying amount as tx value.
func EncodeWrapNative(chain core.Chain, amount *big.Int) (core.TxPayload, error) {
	info, ok := chain.Info()
	if !ok || info.WrappedToken == "" {
		return core.TxPayload{}, fmt.Errorf("%w: no wrapped-native token on %s", ErrBadParams, chain)
	}
	data, err := erc20ABI.Pack("deposit")
	if err != nil {
		return core.TxPayload{}, err
	}
	return core.NewEvmPayload(chain, core.EvmPayload{
		To:    common.HexToAddress(info.WrappedToken),
		Data:  data,
		Value: new(big.Int).Set(amount),
	}), nil
}

// Allowance reads allowance(owner, spender) on token.
func Allowance(ctx context.Context, cli chainclients.EvmBackend, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := cli.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("adapters: bad allowance response: %v", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("adapters: bad allowance type")
	}
	return amount, nil
}

// BalanceOf reads balanceOf(account) on token.
func BalanceOf(ctx context.Context, cli chainclients.EvmBackend, token, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := cli.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("adapters: bad balanceOf response: %v", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("adapters: bad balanceOf type")
	}
	return amount, nil
}

func ethereumCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// IsWrappedNative reports whether token is the chain's wrapped-native
// sentinel.
func IsWrappedNative(chain core.Chain, token string) bool {
	info, ok := chain.Info()
	return ok && info.WrappedToken != "" &&
		strings.EqualFold(info.WrappedToken, token)
}
