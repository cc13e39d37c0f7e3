package policy

import (
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

var (
	ErrKillSwitch      = errors.New("policy: kill switch engaged")
	ErrAutopilotOff    = errors.New("policy: autopilot disabled")
	ErrSingleTxCap     = errors.New("policy: amount exceeds max_single_tx_usd")
	ErrDailyCap        = errors.New("policy: rolling 24h cap exceeded")
	ErrHealthScore     = errors.New("policy: pool health below min_health_score")
	ErrAggregatorDeny  = errors.New("policy: swap route not whitelisted")
)

// whitelistedAggregators are the swap routes the gate accepts.
var whitelistedAggregators = mapset.NewSet()

func init() {
	for _, agg := range []string{"1inch", "paraswap", "uniswap-v3", "jupiter", "cow", "odos"} {
		whitelistedAggregators.Add(agg)
	}
}

// Decision is the gate's verdict on one signal.
type Decision struct {
	Allowed bool
	DryRun  bool
	Reason  string
	Rule    error
}

// Gate evaluates signals against the current snapshot and records
// rejections in the audit log.
type Gate struct {
	watcher *Watcher
	db      *store.DB
}

// NewGate builds a gate over the watcher and store.
func NewGate(watcher *Watcher, db *store.DB) *Gate {
	return &Gate{watcher: watcher, db: db}
}

// Check applies the rule table to a signal. Exit-side actions pass the
// kill switch; only dry-run stops them.
func (g *Gate) Check(sig *core.Signal) Decision {
	snap := g.watcher.Snapshot()

	if snap.KillSwitch && sig.Action.Mutating() {
		return g.reject(sig, ErrKillSwitch, "kill_switch engaged")
	}
	if !snap.AutopilotEnabled && !sig.Manual() {
		return g.reject(sig, ErrAutopilotOff, "autopilot_enabled=false and signal is not manual")
	}
	if sig.AmountUsd > snap.MaxSingleTxUsd {
		return g.reject(sig, ErrSingleTxCap,
			fmt.Sprintf("amount %.2f > cap %.2f", sig.AmountUsd, snap.MaxSingleTxUsd))
	}
	if snap.MaxDailyTxUsd > 0 {
		sum, err := g.db.ConfirmedUsdSince(time.Now().Add(-24 * time.Hour))
		if err == nil && sum+sig.AmountUsd >= snap.MaxDailyTxUsd {
			return g.reject(sig, ErrDailyCap,
				fmt.Sprintf("24h sum %.2f + %.2f >= cap %.2f", sum, sig.AmountUsd, snap.MaxDailyTxUsd))
		}
	}
	if sig.Action == core.ActionEnter || sig.Action == core.ActionIncrease {
		if pool, err := g.db.Pool(sig.PoolID); err == nil {
			if pool.HealthScore < snap.MinHealthScore {
				return g.reject(sig, ErrHealthScore,
					fmt.Sprintf("health %.2f < min %.2f", pool.HealthScore, snap.MinHealthScore))
			}
		}
	}
	if agg := sig.Param("aggregator", ""); agg != "" && !whitelistedAggregators.Contains(agg) {
		return g.reject(sig, ErrAggregatorDeny, fmt.Sprintf("aggregator %q", agg))
	}

	return Decision{Allowed: true, DryRun: snap.AutopilotDryRun}
}

// CheckStep gates one step at execute time, after the plan was admitted.
// Kill-switch flips between planning and execution must still stop
// capital-deploying steps (WITHDRAW and HARVEST stay runnable).
func (g *Gate) CheckStep(kind core.StepKind, chain core.Chain, usdValue float64) Decision {
	snap := g.watcher.Snapshot()
	if snap.KillSwitch {
		switch kind {
		case core.StepWithdraw, core.StepHarvest, core.StepBridgeClaim:
			// exit-side, allowed
		default:
			return Decision{Allowed: false, Rule: ErrKillSwitch, Reason: "kill_switch engaged"}
		}
	}
	if usdValue > snap.MaxSingleTxUsd {
		return Decision{Allowed: false, Rule: ErrSingleTxCap,
			Reason: fmt.Sprintf("step value %.2f > cap %.2f", usdValue, snap.MaxSingleTxUsd)}
	}
	return Decision{Allowed: true, DryRun: snap.AutopilotDryRun}
}

func (g *Gate) reject(sig *core.Signal, rule error, reason string) Decision {
	entry := &core.AuditEntry{
		EventType: "policy_rejection",
		Severity:  core.SeverityWarning,
		Source:    "policy",
		Message:   rule.Error(),
		Metadata: map[string]string{
			"signalId": sig.SignalID,
			"action":   string(sig.Action),
			"chain":    string(sig.Chain),
			"reason":   reason,
		},
	}
	if err := g.db.AppendAudit(entry); err != nil {
		// Rejection still stands; audit failures must not admit signals.
		_ = err
	}
	return Decision{Allowed: false, Rule: rule, Reason: reason}
}
