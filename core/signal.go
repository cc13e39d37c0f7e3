package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action is the high-level intent carried by a signal.
type Action string

const (
	ActionEnter     Action = "enter"
	ActionExit      Action = "exit"
	ActionCompound  Action = "compound"
	ActionRebalance Action = "rebalance"
	ActionIncrease  Action = "increase"
	ActionDecrease  Action = "decrease"
)

// ParseAction normalizes an action name from an external message.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionEnter, ActionExit, ActionCompound, ActionRebalance, ActionIncrease, ActionDecrease:
		return a, true
	}
	return "", false
}

// Mutating reports whether the action moves capital into a pool. Exit-side
// actions stay runnable under kill-switch.
func (a Action) Mutating() bool {
	switch a {
	case ActionExit, ActionDecrease:
		return false
	}
	return true
}

// Signal is a durable intent produced by the advisor. SignalID is the
// idempotency key across the whole pipeline; signals are never mutated.
type Signal struct {
	SignalID   string            `json:"signalId"`
	StrategyID string            `json:"strategyId"`
	Action     Action            `json:"action"`
	PoolID     string            `json:"poolId"`
	Chain      Chain             `json:"chain"`
	ProtocolID string            `json:"protocolId"`
	AmountUsd  float64           `json:"amountUsd"`
	Params     map[string]string `json:"params,omitempty"`
	// RawParams keeps params whose wire values are arrays or objects,
	// verbatim; scalar params flatten into Params. Typed accessors like
	// Tokens decode from here.
	RawParams map[string]json.RawMessage `json:"rawParams,omitempty"`
	Timestamp time.Time                  `json:"timestamp"`

	// Urgency influences route selection only; it is not a priority class.
	Urgency string `json:"urgency,omitempty"`
}

// Manual reports whether the signal was placed by an operator rather than
// the autopilot advisor. Manual signals survive autopilot_enabled=false.
func (s *Signal) Manual() bool {
	return strings.HasPrefix(s.StrategyID, "manual_")
}

// Param returns a free-form parameter, or def when absent.
func (s *Signal) Param(key, def string) string {
	if v, ok := s.Params[key]; ok {
		return v
	}
	return def
}

// TokenRef is one entry of the params "tokens" list: an asset address
// and its amount in base units.
type TokenRef struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// Tokens returns the deposit token list. The structured "tokens" param
// wins; the flat token/amountRaw (and token2/amountRaw2) keys are the
// fallback for advisors that send scalars only.
func (s *Signal) Tokens() []TokenRef {
	if raw, ok := s.RawParams["tokens"]; ok {
		var list []struct {
			Address string          `json:"address"`
			Amount  json.RawMessage `json:"amount"`
		}
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			out := make([]TokenRef, 0, len(list))
			for _, e := range list {
				// Amounts arrive as either a JSON string or a bare number.
				amt := string(bytes.Trim(bytes.TrimSpace(e.Amount), `"`))
				out = append(out, TokenRef{Address: e.Address, Amount: amt})
			}
			return out
		}
	}
	var out []TokenRef
	for _, suffix := range []string{"", "2"} {
		addr := s.Param("token"+suffix, "")
		if addr == "" {
			continue
		}
		out = append(out, TokenRef{Address: addr, Amount: s.Param("amountRaw"+suffix, "")})
	}
	return out
}

// DecodeSignal parses and validates one signal message from the stream.
func DecodeSignal(raw []byte) (*Signal, error) {
	var wire struct {
		SignalID   string                     `json:"signalId"`
		StrategyID string                     `json:"strategyId"`
		Action     string                     `json:"action"`
		PoolID     string                     `json:"poolId"`
		Chain      string                     `json:"chain"`
		ProtocolID string                     `json:"protocolId"`
		AmountUsd  float64                    `json:"amountUsd"`
		Params     map[string]json.RawMessage `json:"params"`
		Timestamp  string                     `json:"timestamp"`
		Urgency    string                     `json:"urgency"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	// Params are free-form: scalars flatten to strings, arrays and
	// objects stay raw for typed accessors.
	var (
		params    map[string]string
		rawParams map[string]json.RawMessage
	)
	for k, v := range wire.Params {
		v = json.RawMessage(bytes.TrimSpace(v))
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if params == nil {
				params = make(map[string]string)
			}
			params[k] = s
			continue
		}
		if len(v) > 0 && (v[0] == '[' || v[0] == '{') {
			if rawParams == nil {
				rawParams = make(map[string]json.RawMessage)
			}
			rawParams[k] = v
			continue
		}
		if params == nil {
			params = make(map[string]string)
		}
		params[k] = string(v) // numbers and bools keep their literal form
	}
	if strings.TrimSpace(wire.SignalID) == "" {
		return nil, fmt.Errorf("%w: missing signalId", ErrMalformedSignal)
	}
	action, ok := ParseAction(wire.Action)
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedSignal, wire.Action)
	}
	chain, ok := ParseChain(wire.Chain)
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %q", ErrMalformedSignal, wire.Chain)
	}
	ts := time.Now().UTC()
	if wire.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, wire.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedSignal, wire.Timestamp)
		}
		ts = parsed
	}
	return &Signal{
		SignalID:   wire.SignalID,
		StrategyID: wire.StrategyID,
		Action:     action,
		PoolID:     wire.PoolID,
		Chain:      chain,
		ProtocolID: wire.ProtocolID,
		AmountUsd:  wire.AmountUsd,
		Params:     params,
		RawParams:  rawParams,
		Timestamp:  ts,
		Urgency:    strings.ToLower(wire.Urgency),
	}, nil
}
