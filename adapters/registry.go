package adapters

import (
	"fmt"
	"sync"

	"github.com/tos-network/gyield/core"
)

type registryKey struct {
	protocolID string
	chain      core.Chain
}

// Registry maps (protocolId, chain) to the adapter serving it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register installs an adapter. Later registrations for the same key win,
// which lets tests shadow production adapters.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{protocolID: a.ProtocolID(), chain: a.Chain()}] = a
}

// Lookup returns the adapter for (protocolId, chain).
func (r *Registry) Lookup(protocolID string, chain core.Chain) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[registryKey{protocolID: protocolID, chain: chain}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownAdapter, protocolID, chain)
	}
	return a, nil
}

// Swapper returns the adapter's swap capability, if it has one.
func (r *Registry) Swapper(protocolID string, chain core.Chain) (Swapper, error) {
	a, err := r.Lookup(protocolID, chain)
	if err != nil {
		return nil, err
	}
	s, ok := a.(Swapper)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot swap", ErrNotSupported, protocolID)
	}
	return s, nil
}

// Bridger returns the adapter's bridge capability, if it has one.
func (r *Registry) Bridger(protocolID string, chain core.Chain) (Bridger, error) {
	a, err := r.Lookup(protocolID, chain)
	if err != nil {
		return nil, err
	}
	b, ok := a.(Bridger)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot bridge", ErrNotSupported, protocolID)
	}
	return b, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
