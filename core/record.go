package core

import "time"

// TxStatus is the lifecycle state of a TxRecord. Records are append-only;
// status is the only mutable field.
type TxStatus string

const (
	StatusPending    TxStatus = "PENDING"
	StatusSimulating TxStatus = "SIMULATING"
	StatusSubmitted  TxStatus = "SUBMITTED"
	StatusConfirmed  TxStatus = "CONFIRMED"
	StatusFailed     TxStatus = "FAILED"
	StatusRejected   TxStatus = "REJECTED"
	StatusSkipped    TxStatus = "SKIPPED"
)

// Terminal reports whether no further transition is allowed.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusSkipped:
		return true
	}
	return false
}

// TxRecord is the audit row for one step execution. The executor is the
// sole writer of terminal states.
type TxRecord struct {
	TxHash     string            `json:"txHash,omitempty"`
	Chain      Chain             `json:"chain"`
	SignalID   string            `json:"signalId,omitempty"`
	StepIndex  int               `json:"stepIndex"`
	PoolID     string            `json:"poolId,omitempty"`
	PositionID string            `json:"positionId,omitempty"`
	Kind       StepKind          `json:"kind"`
	Status     TxStatus          `json:"status"`
	AmountUsd  float64           `json:"amountUsd,omitempty"`
	GasCostUsd float64           `json:"gasCostUsd,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	ConfirmedAt *time.Time       `json:"confirmedAt,omitempty"`
}

// SetMeta initialises the metadata map on first use.
func (r *TxRecord) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// Severity grades audit_log rows.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AuditEntry is one audit_log row.
type AuditEntry struct {
	ID        string            `json:"id"`
	EventType string            `json:"eventType"`
	Severity  Severity          `json:"severity"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SigStatus is the lifecycle state of a pending signature row.
type SigStatus string

const (
	SigPending     SigStatus = "pending"
	SigBroadcasted SigStatus = "broadcasted"
	SigRejected    SigStatus = "rejected"
	SigExpired     SigStatus = "expired"
)

// PendingSignature is an on-file unsigned payload waiting for an external
// signer. A pending row older than its TTL transitions to expired and
// releases its downstream plan.
type PendingSignature struct {
	ID              string    `json:"id"`
	SignalID        string    `json:"signalId"`
	StepIndex       int       `json:"stepIndex"`
	Chain           Chain     `json:"chain"`
	Kind            StepKind  `json:"kind"`
	AmountUsd       float64   `json:"amountUsd"`
	Payload         TxPayload `json:"payload"`
	Status          SigStatus `json:"status"`
	SignatureOrHash string    `json:"signatureOrHash,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
