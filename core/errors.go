package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. The executor is the single
// terminal handler and maps kinds to retry behaviour and record states.
type ErrorKind string

const (
	KindConfig           ErrorKind = "ConfigError"
	KindPolicyRejection  ErrorKind = "PolicyRejection"
	KindRpcTransient     ErrorKind = "RpcTransient"
	KindNonceMismatch    ErrorKind = "NonceMismatch"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindSlippageExceeded ErrorKind = "SlippageExceeded"
	KindReverted         ErrorKind = "Reverted"
	KindSimulationFailed ErrorKind = "SimulationFailed"
	KindTimeout          ErrorKind = "Timeout"
	KindBridgeRefundable ErrorKind = "BridgeRefundable"
)

// Retryable reports whether a step-level retry may help.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRpcTransient, KindNonceMismatch:
		return true
	}
	return false
}

// Error is a classified pipeline error.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Classify extracts the kind from err, defaulting to Reverted for opaque
// on-chain failures per the taxonomy.
func Classify(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindReverted
}

// Sentinel errors shared across packages.
var (
	ErrMalformedPayload  = errors.New("core: payload variant does not match chain family")
	ErrUnsupportedChain  = errors.New("core: chain has no executor")
	ErrMalformedSignal   = errors.New("core: malformed signal")
	ErrBadPlanDependency = errors.New("core: plan dependency edge is not backwards")
)
