package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func evmStep(chain Chain, deps ...int) Step {
	return Step{
		Payload:   NewEvmPayload(chain, EvmPayload{To: common.Address{1}}),
		Kind:      StepDeposit,
		DependsOn: deps,
	}
}

func TestPlanValidate(t *testing.T) {
	good := &Plan{SignalID: "s", Steps: []Step{
		evmStep(ChainEthereum),
		evmStep(ChainEthereum, 0),
		evmStep(ChainEthereum, 0, 1),
	}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	forward := &Plan{SignalID: "s", Steps: []Step{evmStep(ChainEthereum, 1), evmStep(ChainEthereum)}}
	if err := forward.Validate(); !errors.Is(err, ErrBadPlanDependency) {
		t.Errorf("forward edge: err = %v", err)
	}
	self := &Plan{SignalID: "s", Steps: []Step{evmStep(ChainEthereum, 0)}}
	if err := self.Validate(); !errors.Is(err, ErrBadPlanDependency) {
		t.Errorf("self edge: err = %v", err)
	}
}

func TestPayloadValidate(t *testing.T) {
	if err := (TxPayload{Chain: ChainEthereum, Evm: &EvmPayload{}}).Validate(); err != nil {
		t.Errorf("evm payload: %v", err)
	}
	if err := (TxPayload{Chain: ChainSolana, Solana: &SolanaPayload{}}).Validate(); err != nil {
		t.Errorf("solana payload: %v", err)
	}
	// Variant and chain family must agree.
	if err := (TxPayload{Chain: ChainSolana, Evm: &EvmPayload{}}).Validate(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("family mismatch: err = %v", err)
	}
	if err := (TxPayload{Chain: ChainEthereum}).Validate(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("no variant: err = %v", err)
	}
	two := TxPayload{Chain: ChainEthereum, Evm: &EvmPayload{}, Solana: &SolanaPayload{}}
	if err := two.Validate(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("two variants: err = %v", err)
	}
}

func TestChainTable(t *testing.T) {
	info, ok := ChainEthereum.Info()
	if !ok || info.ChainID != 1 || info.NativeSymbol != "ETH" {
		t.Fatalf("ethereum info = %+v, ok=%v", info, ok)
	}
	if !ChainArbitrum.IsRollup() || ChainEthereum.IsRollup() || ChainBSC.IsRollup() {
		t.Error("rollup flags wrong")
	}
	if ChainSolana.Family() != FamilySolana || ChainAptos.Family() != FamilyAptos {
		t.Error("family mapping wrong")
	}
	if c, ok := ParseChain("  Arbitrum "); !ok || c != ChainArbitrum {
		t.Errorf("ParseChain = %q, %v", c, ok)
	}
	if _, ok := ParseChain("near"); ok {
		t.Error("unknown chain accepted")
	}
}

func TestBelowDust(t *testing.T) {
	if !BelowDust(0.00005, 0.005) {
		t.Error("dust balance not detected")
	}
	// Both thresholds must hold.
	if BelowDust(0.5, 0.005) || BelowDust(0.00005, 5) {
		t.Error("single-threshold balance counted as dust")
	}
}

func TestErrorClassify(t *testing.T) {
	err := NewError(KindSlippageExceeded, "min out", nil)
	if Classify(err) != KindSlippageExceeded {
		t.Errorf("classify = %v", Classify(err))
	}
	if Classify(errors.New("opaque")) != KindReverted {
		t.Error("opaque error did not default to Reverted")
	}
	if !KindRpcTransient.Retryable() || !KindNonceMismatch.Retryable() {
		t.Error("transient kinds not retryable")
	}
	if KindReverted.Retryable() || KindSlippageExceeded.Retryable() {
		t.Error("terminal kinds marked retryable")
	}
}
