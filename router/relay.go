package router

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tos-network/gyield/core"
)

// Relay submits already-signed transactions through an MEV-protected RPC
// endpoint instead of the chain's public mempool. The executor signs; the
// relay only changes where the raw tx goes.
type Relay struct {
	route Route
	url   string

	mu  sync.Mutex
	cli *ethclient.Client
}

// NewRelay builds a relay for one protected endpoint. The connection is
// dialed lazily on first submit.
func NewRelay(route Route, url string) *Relay {
	return &Relay{route: route, url: url}
}

func (r *Relay) client(ctx context.Context) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cli != nil {
		return r.cli, nil
	}
	cli, err := ethclient.DialContext(ctx, r.url)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "relay dial", err)
	}
	r.cli = cli
	return cli, nil
}

// SubmitSigned forwards a signed transaction to the relay and returns the
// canonical submission.
func (r *Relay) SubmitSigned(ctx context.Context, tx *types.Transaction) (*Submission, error) {
	cli, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	if err := cli.SendTransaction(ctx, tx); err != nil {
		return nil, core.NewError(core.KindRpcTransient, "relay submit", err)
	}
	return &Submission{
		Method:        r.route,
		TxHash:        tx.Hash().Hex(),
		Status:        StatusSubmitted,
		MevProtection: true,
	}, nil
}
