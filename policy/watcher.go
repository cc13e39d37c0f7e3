// Package policy gates signals against the live system configuration:
// kill-switch, caps, health score, autopilot and dry-run flags.
package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

// Snapshot is one immutable view of system_config. Components read the
// latest snapshot without locks; the watcher swaps it atomically.
type Snapshot struct {
	KillSwitch       bool
	AutopilotEnabled bool
	AutopilotDryRun  bool
	MaxSingleTxUsd   float64
	MaxDailyTxUsd    float64
	MinHealthScore   float64
	StopLossPct      float64
	GasMaxGwei       map[core.Chain]float64
	EvmWallet        string
	AptosWallet      string
	SolanaWallet     string
}

// Default per-chain gas ceilings, overridden by gas_max_gwei_<chain>.
var defaultGasMaxGwei = map[core.Chain]float64{
	core.ChainEthereum: 30,
	core.ChainBSC:      5,
}

// GasCeiling returns the gwei ceiling for a chain, or 0 for no ceiling.
func (s *Snapshot) GasCeiling(chain core.Chain) float64 {
	if v, ok := s.GasMaxGwei[chain]; ok {
		return v
	}
	if v, ok := defaultGasMaxGwei[chain]; ok {
		return v
	}
	return 0
}

// Watcher refreshes the snapshot from the store on a fixed period.
type Watcher struct {
	db      *store.DB
	period  time.Duration
	current atomic.Pointer[Snapshot]
	logger  log.Logger
}

// NewWatcher builds a watcher and loads the initial snapshot.
func NewWatcher(db *store.DB, period time.Duration) *Watcher {
	if period <= 0 {
		period = 10 * time.Second
	}
	w := &Watcher{db: db, period: period, logger: log.New("module", "policy")}
	w.refresh()
	return w
}

// Snapshot returns the latest configuration view.
func (w *Watcher) Snapshot() *Snapshot {
	return w.current.Load()
}

// Run refreshes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

func (w *Watcher) refresh() {
	snap := &Snapshot{
		KillSwitch:       w.db.ConfigBool(store.KeyKillSwitch, false),
		AutopilotEnabled: w.db.ConfigBool(store.KeyAutopilotEnabled, true),
		AutopilotDryRun:  w.db.ConfigBool(store.KeyAutopilotDryRun, false),
		MaxSingleTxUsd:   w.db.ConfigFloat(store.KeyMaxSingleTxUsd, 10000),
		MaxDailyTxUsd:    w.db.ConfigFloat(store.KeyMaxDailyTxUsd, 50000),
		MinHealthScore:   w.db.ConfigFloat(store.KeyMinHealthScore, 0),
		StopLossPct:      w.db.ConfigFloat(store.KeyStopLossPct, 0),
		GasMaxGwei:       make(map[core.Chain]float64),
		EvmWallet:        w.db.Config(store.KeyEvmWallet, ""),
		AptosWallet:      w.db.Config(store.KeyAptosWallet, ""),
		SolanaWallet:     w.db.Config(store.KeySolanaWallet, ""),
	}
	for _, chain := range core.Chains() {
		key := store.KeyGasMaxGweiPrefix + string(chain)
		if v := w.db.ConfigFloat(key, -1); v >= 0 {
			snap.GasMaxGwei[chain] = v
		}
	}
	w.current.Store(snap)
}
