package core

// StepKind names one primitive on-chain operation inside a plan.
type StepKind string

const (
	StepWrap        StepKind = "WRAP"
	StepApprove     StepKind = "APPROVE"
	StepSwap        StepKind = "SWAP"
	StepDeposit     StepKind = "DEPOSIT"
	StepWithdraw    StepKind = "WITHDRAW"
	StepHarvest     StepKind = "HARVEST"
	StepCompound    StepKind = "COMPOUND"
	StepBridgeLock  StepKind = "BRIDGE_LOCK"
	StepBridgeClaim StepKind = "BRIDGE_CLAIM"
)

// Mutating reports whether the kind requires an audit_log row on
// confirmation.
func (k StepKind) Mutating() bool {
	switch k {
	case StepDeposit, StepWithdraw, StepSwap, StepHarvest, StepBridgeLock, StepBridgeClaim:
		return true
	}
	return false
}

// Step is one primitive operation with its payload and dependency edges.
// A step may not run until every step named in DependsOn holds a CONFIRMED
// receipt.
type Step struct {
	Payload   TxPayload `json:"payload"`
	Kind      StepKind  `json:"kind"`
	UsdValue  float64   `json:"usdValue"`
	DependsOn []int     `json:"dependsOn,omitempty"`

	// Enqueuable marks the step as eligible for gas-gate deferral.
	Enqueuable bool `json:"enqueuable,omitempty"`

	// Meta carries step-scoped parameters (pool ids, token addresses,
	// bridge swap ids) the executor records but does not interpret.
	Meta map[string]string `json:"meta,omitempty"`
}

// Plan is the ordered expansion of one signal. At most one plan is ever
// created per signalId; plans are never mutated after creation.
type Plan struct {
	SignalID string `json:"signalId"`
	Steps    []Step `json:"steps"`
}

// Validate checks every dependency edge points backwards. Steps are stored
// in a valid execution order, so forward or self edges are planner bugs.
func (p *Plan) Validate() error {
	for i := range p.Steps {
		if err := p.Steps[i].Payload.Validate(); err != nil {
			return err
		}
		for _, dep := range p.Steps[i].DependsOn {
			if dep < 0 || dep >= i {
				return ErrBadPlanDependency
			}
		}
	}
	return nil
}
