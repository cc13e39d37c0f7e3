// Package simulator dry-runs payloads before any signature exists. A
// failed simulation is terminal for the attempt; nothing reaches a
// signer without passing here first.
package simulator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/tos-network/gyield/chainclients"
	"github.com/tos-network/gyield/core"
)

// gasHeadroomNum/Den pad the node's estimate by 20%.
const (
	gasHeadroomNum = 12
	gasHeadroomDen = 10
)

var (
	simPassMeter = metrics.NewRegisteredCounter("simulator/pass", nil)
	simFailMeter = metrics.NewRegisteredCounter("simulator/fail", nil)
)

// Result is the simulation outcome for one payload.
type Result struct {
	Ok           bool
	GasEstimate  uint64
	RevertReason string
}

// Simulator runs family-specific dry runs through the shared clients.
type Simulator struct {
	clients *chainclients.Registry
	logger  log.Logger
}

// New builds a simulator over the client registry.
func New(clients *chainclients.Registry) *Simulator {
	return &Simulator{clients: clients, logger: log.New("module", "simulator")}
}

// Simulate dry-runs the payload from the wallet address. The error is
// non-nil only for transport failures; an on-chain revert comes back as
// Ok=false with the decoded reason.
func (s *Simulator) Simulate(ctx context.Context, payload core.TxPayload, wallet string) (*Result, error) {
	if err := payload.Validate(); err != nil {
		return nil, core.NewError(core.KindSimulationFailed, "payload", err)
	}
	var (
		res *Result
		err error
	)
	switch payload.Chain.Family() {
	case core.FamilyEVM:
		res, err = s.simulateEvm(ctx, payload, wallet)
	case core.FamilySolana:
		res, err = s.simulateSolana(ctx, payload, wallet)
	case core.FamilyAptos:
		res, err = s.simulateAptos(ctx, payload, wallet)
	default:
		return nil, core.ErrUnsupportedChain
	}
	if err != nil {
		simFailMeter.Inc(1)
		return nil, err
	}
	if res.Ok {
		simPassMeter.Inc(1)
	} else {
		simFailMeter.Inc(1)
		s.logger.Warn("Simulation reverted", "chain", payload.Chain, "reason", res.RevertReason)
	}
	return res, nil
}

// simulateEvm runs eth_call from the wallet, then eth_estimateGas for
// the limit. The call catches reverts with a decodable reason; the
// estimate catches out-of-gas shapes eth_call misses.
func (s *Simulator) simulateEvm(ctx context.Context, payload core.TxPayload, wallet string) (*Result, error) {
	cli, err := s.clients.Evm(payload.Chain)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "no client", err)
	}
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(wallet),
		To:    &payload.Evm.To,
		Data:  payload.Evm.Data,
		Value: payload.Evm.Value,
	}
	if ret, err := cli.CallContract(ctx, msg, nil); err != nil {
		return s.classifyEvmRevert(err, nil)
	} else if reason := decodeRevert(ret); reason != "" {
		return s.classifyEvmRevert(nil, &reason)
	}

	gas, err := cli.EstimateGas(ctx, msg)
	if err != nil {
		return s.classifyEvmRevert(err, nil)
	}
	return &Result{Ok: true, GasEstimate: gas * gasHeadroomNum / gasHeadroomDen}, nil
}

// classifyEvmRevert splits transport errors from execution reverts. Node
// errors carrying revert data come back as a failed Result, not an error.
func (s *Simulator) classifyEvmRevert(err error, decoded *string) (*Result, error) {
	reason := ""
	if decoded != nil {
		reason = *decoded
	} else if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "execution reverted"):
			reason = strings.TrimSpace(strings.TrimPrefix(msg, "execution reverted:"))
			if reason == "" || reason == msg {
				reason = "execution reverted"
			}
		case strings.Contains(msg, "insufficient funds"):
			reason = "insufficient funds"
		case strings.Contains(msg, "gas required exceeds allowance"):
			reason = "gas required exceeds allowance"
		default:
			return nil, core.NewError(core.KindRpcTransient, "eth_call", err)
		}
	}
	return &Result{Ok: false, RevertReason: reason}, nil
}

// decodeRevert unpacks an Error(string) return from a successful
// eth_call that still returned revert data.
func decodeRevert(ret []byte) string {
	if len(ret) < 4 {
		return ""
	}
	reason, err := abi.UnpackRevert(ret)
	if err != nil {
		return ""
	}
	return reason
}

func (s *Simulator) simulateSolana(ctx context.Context, payload core.TxPayload, wallet string) (*Result, error) {
	cli, err := s.clients.Solana()
	if err != nil {
		return nil, core.NewError(core.KindConfig, "no solana client", err)
	}
	out, err := cli.Simulate(ctx, payload.Solana, wallet)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "simulateTransaction", err)
	}
	if !out.Ok {
		reason := out.Err
		if n := len(out.Logs); n > 0 {
			reason = fmt.Sprintf("%s (%s)", out.Err, out.Logs[n-1])
		}
		return &Result{Ok: false, RevertReason: reason}, nil
	}
	return &Result{Ok: true, GasEstimate: out.UnitsConsumed}, nil
}

func (s *Simulator) simulateAptos(ctx context.Context, payload core.TxPayload, wallet string) (*Result, error) {
	cli, err := s.clients.Aptos()
	if err != nil {
		return nil, core.NewError(core.KindConfig, "no aptos client", err)
	}
	out, err := cli.Simulate(ctx, wallet, payload.Aptos)
	if err != nil {
		return nil, core.NewError(core.KindRpcTransient, "simulate_transaction", err)
	}
	if !out.Ok {
		return &Result{Ok: false, RevertReason: out.VMError}, nil
	}
	return &Result{Ok: true, GasEstimate: out.GasUsed * gasHeadroomNum / gasHeadroomDen}, nil
}

// ClassifyReason maps a revert reason string onto the error taxonomy.
func ClassifyReason(reason string) core.ErrorKind {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "slippage"),
		strings.Contains(lower, "insufficient_output_amount"),
		strings.Contains(lower, "too little received"),
		strings.Contains(lower, "price impact"):
		return core.KindSlippageExceeded
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient balance"),
		strings.Contains(lower, "transfer amount exceeds balance"):
		return core.KindInsufficientBalance
	default:
		return core.KindReverted
	}
}
