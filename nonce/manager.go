// Package nonce issues strictly monotonic, gap-free EVM nonces per
// (chain, address) within the process. On first use the counter is seeded
// from the node; nonce-related submission errors reset the entry so the
// next issuance reseeds.
package nonce

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

type key struct {
	chain   core.Chain
	address common.Address
}

// Manager tracks the next nonce per (chain, address). The per-key mutex
// serializes issuance across concurrent execute calls; no lock is held
// across an RPC call except the reseed on first use.
type Manager struct {
	clients *chainclients.Registry

	mu     sync.Mutex
	next   map[key]uint64
	locks  map[key]*sync.Mutex
	logger log.Logger
}

// NewManager builds a manager over the shared client registry.
func NewManager(clients *chainclients.Registry) *Manager {
	return &Manager{
		clients: clients,
		next:    make(map[key]uint64),
		locks:   make(map[key]*sync.Mutex),
		logger:  log.New("module", "nonce"),
	}
}

func (m *Manager) keyLock(k key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = new(sync.Mutex)
		m.locks[k] = l
	}
	return l
}

// NextNonce returns the next nonce for the address and advances the
// counter. A missing entry is seeded from the node's confirmed
// transaction count.
func (m *Manager) NextNonce(ctx context.Context, chain core.Chain, address common.Address) (uint64, error) {
	k := key{chain: chain, address: address}
	l := m.keyLock(k)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	n, seeded := m.next[k]
	m.mu.Unlock()

	if !seeded {
		cli, err := m.clients.Evm(chain)
		if err != nil {
			return 0, err
		}
		count, err := cli.NonceAt(ctx, address, nil)
		if err != nil {
			return 0, core.NewError(core.KindRpcTransient, "nonce reseed", err)
		}
		n = count
		m.logger.Debug("Seeded nonce", "chain", chain, "address", address, "nonce", n)
	}

	m.mu.Lock()
	m.next[k] = n + 1
	m.mu.Unlock()
	return n, nil
}

// Reset drops the cached counter for the address. The next issuance
// reseeds from the node.
func (m *Manager) Reset(chain core.Chain, address common.Address) {
	k := key{chain: chain, address: address}
	m.mu.Lock()
	delete(m.next, k)
	m.mu.Unlock()
	m.logger.Warn("Nonce reset", "chain", chain, "address", address)
}

// IsNonceError reports whether an RPC error is nonce-related and warrants
// a reset-and-retry.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "replacement underpriced") ||
		strings.Contains(msg, "already known")
}
