package core

import "time"

// Dust thresholds below which a position counts as closed. Both must hold.
const (
	DustTokenUnits = 0.0001
	DustUsd        = 0.01
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionActive  PositionStatus = "active"
	PositionClosed  PositionStatus = "closed"
	PositionPending PositionStatus = "pending"
)

// Position records capital committed to one pool. Opened by a confirmed
// DEPOSIT, closed by a confirmed WITHDRAW that drains the balance below
// dust.
type Position struct {
	PositionID       string         `json:"positionId"`
	PoolID           string         `json:"poolId"`
	WalletAddress    string         `json:"walletAddress"`
	Chain            Chain          `json:"chain"`
	ProtocolID       string         `json:"protocolId"`
	AmountToken0     float64        `json:"amountToken0"`
	AmountToken1     float64        `json:"amountToken1"`
	ValueUsd         float64        `json:"valueUsd"`
	EntryValueUsd    float64        `json:"entryValueUsd"`
	UnrealizedPnlUsd float64        `json:"unrealizedPnlUsd"`
	RealizedPnlUsd   float64        `json:"realizedPnlUsd"`
	Status           PositionStatus `json:"status"`
	OpenedAt         time.Time      `json:"openedAt"`
	ClosedAt         *time.Time     `json:"closedAt,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// BelowDust reports whether a principal balance counts as drained.
func BelowDust(tokenUnits, usd float64) bool {
	return tokenUnits < DustTokenUnits && usd < DustUsd
}

// PositionSnapshot is one periodic reconciler observation, kept for PnL
// charting.
type PositionSnapshot struct {
	PositionID       string    `json:"positionId"`
	ValueUsd         float64   `json:"valueUsd"`
	UnrealizedPnlUsd float64   `json:"unrealizedPnlUsd"`
	Estimated        bool      `json:"estimated"` // APR fallback, not read on-chain
	TakenAt          time.Time `json:"takenAt"`
}

// Pool is the slice of the ingested pool row the core reads: the entry gate
// consults HealthScore and the reconciler falls back to Apr.
type Pool struct {
	PoolID      string  `json:"poolId"`
	Chain       Chain   `json:"chain"`
	ProtocolID  string  `json:"protocolId"`
	Symbol      string  `json:"symbol"`
	Apr         float64 `json:"apr"`
	TvlUsd      float64 `json:"tvlUsd"`
	HealthScore float64 `json:"healthScore"`
}
