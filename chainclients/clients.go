// Package chainclients owns the long-lived RPC clients, one per
// (chain, URL). Clients are shared across components and safe for
// concurrent use; components receive them explicitly at wiring time.
package chainclients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/tos-network/gyield/core"
)

var ErrNoClient = errors.New("chainclients: no client configured for chain")

// EvmBackend is the slice of the ethclient surface the pipeline uses.
// ethclient.Client satisfies it; tests substitute fakes.
type EvmBackend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Registry hands out shared clients. Population happens once at startup;
// lookups afterwards are read-only.
type Registry struct {
	mu      sync.RWMutex
	evm     map[core.Chain]EvmBackend
	solana  SolanaBackend
	aptos   *AptosClient
	limiter map[core.Chain]*rate.Limiter
	logger  log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		evm:     make(map[core.Chain]EvmBackend),
		limiter: make(map[core.Chain]*rate.Limiter),
		logger:  log.New("module", "chainclients"),
	}
}

// DialFromEnv connects every chain whose RPC URL environment variable is
// set. Unreachable nodes fail fast; a chain with no URL is simply absent.
func (r *Registry) DialFromEnv(ctx context.Context) error {
	for _, chain := range core.Chains() {
		info, _ := chain.Info()
		url := os.Getenv(info.RPCEnv)
		if url == "" {
			continue
		}
		switch info.Family {
		case core.FamilyEVM:
			cli, err := ethclient.DialContext(ctx, url)
			if err != nil {
				return fmt.Errorf("dial %s: %w", chain, err)
			}
			r.RegisterEvm(chain, cli)
			r.logger.Info("Connected EVM RPC", "chain", chain, "url", url)
		case core.FamilySolana:
			r.RegisterSolana(NewSolanaClient(url))
			r.logger.Info("Connected Solana RPC", "url", url)
		case core.FamilyAptos:
			r.RegisterAptos(NewAptosClient(url))
			r.logger.Info("Connected Aptos REST", "url", url)
		default:
			r.logger.Warn("Chain family has no client", "chain", chain)
		}
	}
	return nil
}

// RegisterEvm installs a backend for an EVM chain.
func (r *Registry) RegisterEvm(chain core.Chain, backend EvmBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evm[chain] = backend
	// Receipt polls share one limiter per chain so confirmation loops do
	// not hammer the node.
	r.limiter[chain] = rate.NewLimiter(rate.Limit(4), 4)
}

// RegisterSolana installs the Solana backend.
func (r *Registry) RegisterSolana(backend SolanaBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.solana = backend
	r.limiter[core.ChainSolana] = rate.NewLimiter(rate.Limit(4), 4)
}

// RegisterAptos installs the Aptos client.
func (r *Registry) RegisterAptos(cli *AptosClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aptos = cli
	r.limiter[core.ChainAptos] = rate.NewLimiter(rate.Limit(4), 4)
}

// Evm returns the backend for an EVM chain.
func (r *Registry) Evm(chain core.Chain) (EvmBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cli, ok := r.evm[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, chain)
	}
	return cli, nil
}

// Solana returns the Solana backend.
func (r *Registry) Solana() (SolanaBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.solana == nil {
		return nil, fmt.Errorf("%w: solana", ErrNoClient)
	}
	return r.solana, nil
}

// Aptos returns the Aptos client.
func (r *Registry) Aptos() (*AptosClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.aptos == nil {
		return nil, fmt.Errorf("%w: aptos", ErrNoClient)
	}
	return r.aptos, nil
}

// Wait blocks on the chain's poll limiter. Unknown chains pass through.
func (r *Registry) Wait(ctx context.Context, chain core.Chain) error {
	r.mu.RLock()
	lim := r.limiter[chain]
	r.mu.RUnlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Connected reports whether any client is configured for the chain.
func (r *Registry) Connected(chain core.Chain) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch chain.Family() {
	case core.FamilyEVM:
		_, ok := r.evm[chain]
		return ok
	case core.FamilySolana:
		return r.solana != nil
	case core.FamilyAptos:
		return r.aptos != nil
	}
	return false
}
