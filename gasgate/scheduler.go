// Package gasgate defers mainnet execution until the chain's gas price
// drops below its configured ceiling, with a bounded wait. Rollups and
// non-EVM chains pass through ungated.
package gasgate

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	lru "github.com/hashicorp/golang-lru"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/policy"
)

// DefaultPollInterval is the deferred-queue tick.
const DefaultPollInterval = 60 * time.Second

// priceCacheTTL bounds how stale a cached gas price may be.
const priceCacheTTL = 15 * time.Second

// Verdict is the execute-now decision for one chain.
type Verdict struct {
	Execute     bool
	CurrentGwei float64
	MaxGwei     float64
}

// Released carries a deferred signal back to the dispatcher. TimedOut
// marks release by max-wait expiry rather than a gas drop; the default
// disposition is execute-with-warning.
type Released struct {
	Signal   *core.Signal
	TimedOut bool
}

type queued struct {
	signal     *core.Signal
	enqueuedAt time.Time
	maxWait    time.Duration
}

type cachedPrice struct {
	gwei float64
	at   time.Time
}

// Scheduler answers execute-now queries and runs the deferred queue.
type Scheduler struct {
	clients *chainclients.Registry
	watcher *policy.Watcher

	mu      sync.Mutex
	queues  map[core.Chain][]queued // FIFO per chain
	running bool
	stopCh  chan struct{}

	released chan Released
	prices   *lru.Cache
	interval time.Duration
	logger   log.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// NewScheduler builds a scheduler over the shared clients and config
// watcher.
func NewScheduler(clients *chainclients.Registry, watcher *policy.Watcher) *Scheduler {
	cache, _ := lru.New(16)
	return &Scheduler{
		clients:  clients,
		watcher:  watcher,
		queues:   make(map[core.Chain][]queued),
		released: make(chan Released, 64),
		prices:   cache,
		interval: DefaultPollInterval,
		logger:   log.New("module", "gasgate"),
		now:      time.Now,
	}
}

// Released returns the channel deferred signals come back on.
func (s *Scheduler) Released() <-chan Released {
	return s.released
}

// ShouldExecuteNow decides whether the chain may execute immediately.
func (s *Scheduler) ShouldExecuteNow(ctx context.Context, chain core.Chain) (Verdict, error) {
	// Rollups skip gas gating entirely, as do non-EVM chains.
	if chain.IsRollup() || chain.Family() != core.FamilyEVM {
		return Verdict{Execute: true}, nil
	}
	maxGwei := s.watcher.Snapshot().GasCeiling(chain)
	if maxGwei <= 0 {
		return Verdict{Execute: true}, nil
	}
	gwei, err := s.currentGwei(ctx, chain)
	if err != nil {
		return Verdict{}, core.NewError(core.KindRpcTransient, "gas price query", err)
	}
	return Verdict{Execute: gwei <= maxGwei, CurrentGwei: gwei, MaxGwei: maxGwei}, nil
}

func (s *Scheduler) currentGwei(ctx context.Context, chain core.Chain) (float64, error) {
	if v, ok := s.prices.Get(chain); ok {
		if cp, ok := v.(cachedPrice); ok && s.now().Sub(cp.at) < priceCacheTTL {
			return cp.gwei, nil
		}
	}
	cli, err := s.clients.Evm(chain)
	if err != nil {
		return 0, err
	}
	wei, err := cli.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	gwei, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetInt(big.NewInt(params.GWei)),
	).Float64()
	s.prices.Add(chain, cachedPrice{gwei: gwei, at: s.now()})
	return gwei, nil
}

// Enqueue defers a signal until its chain clears the gate or maxWait
// elapses. The polling loop starts lazily with the first entry.
func (s *Scheduler) Enqueue(sig *core.Signal, maxWait time.Duration) {
	s.mu.Lock()
	s.queues[sig.Chain] = append(s.queues[sig.Chain], queued{
		signal:     sig,
		enqueuedAt: s.now(),
		maxWait:    maxWait,
	})
	start := !s.running
	if start {
		s.running = true
		s.stopCh = make(chan struct{})
	}
	s.mu.Unlock()

	s.logger.Info("Signal deferred by gas gate", "signal", sig.SignalID, "chain", sig.Chain, "maxWait", maxWait)
	if start {
		go s.pollLoop(s.stopCh)
	}
}

// Depth reports the queued count for a chain. Used by tests and metrics.
func (s *Scheduler) Depth(chain core.Chain) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[chain])
}

// Stop halts the polling loop if it is running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

func (s *Scheduler) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s.Tick(context.Background()) == 0 {
				// Queue drained; stop until the next enqueue.
				s.mu.Lock()
				if s.running && s.stopCh == stop {
					s.running = false
				}
				s.mu.Unlock()
				return
			}
		}
	}
}

// Tick releases every eligible signal and returns the remaining depth.
// Release order is FIFO per chain.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	chains := make([]core.Chain, 0, len(s.queues))
	for chain := range s.queues {
		chains = append(chains, chain)
	}
	s.mu.Unlock()

	remaining := 0
	for _, chain := range chains {
		verdict, err := s.ShouldExecuteNow(ctx, chain)
		gateOpen := err == nil && verdict.Execute

		var release []Released
		s.mu.Lock()
		queue := s.queues[chain]
		var keep []queued
		for i, q := range queue {
			expired := s.now().Sub(q.enqueuedAt) >= q.maxWait
			switch {
			case gateOpen:
				release = append(release, Released{Signal: q.signal})
			case expired:
				release = append(release, Released{Signal: q.signal, TimedOut: true})
			default:
				// FIFO per chain: once one waits, everything behind
				// it waits too unless already expired.
				keep = append(keep, queue[i])
			}
		}
		if len(keep) == 0 {
			delete(s.queues, chain)
		} else {
			s.queues[chain] = keep
		}
		remaining += len(keep)
		s.mu.Unlock()

		// Hand-off happens outside the lock so a slow consumer cannot
		// stall Enqueue or Depth callers.
		for _, r := range release {
			s.released <- r
		}
	}
	return remaining
}
