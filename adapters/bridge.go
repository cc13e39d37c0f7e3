package adapters

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/tos-network/gyield/core"
)

const htlcABIJSON = `[
	{"name":"lock","type":"function","inputs":[{"name":"secretHash","type":"bytes32"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"timelock","type":"uint256"},{"name":"dstChainId","type":"uint256"}],"outputs":[{"name":"swapId","type":"bytes32"}]},
	{"name":"claim","type":"function","inputs":[{"name":"swapId","type":"bytes32"},{"name":"secret","type":"bytes32"}],"outputs":[]},
	{"name":"refund","type":"function","inputs":[{"name":"swapId","type":"bytes32"}],"outputs":[]}
]`

var htlcABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(htlcABIJSON))
	if err != nil {
		panic(fmt.Sprintf("adapters: bad htlc abi: %v", err))
	}
	htlcABI = parsed
}

// DefaultBridgeTimelock is the HTLC expiry granted to the claim side.
const DefaultBridgeTimelock = 2 * time.Hour

// HTLCBridge encodes hash-timelock swaps between two EVM chains. Secrets
// stay in-process until the claim is encoded; only their hashes go on
// chain.
type HTLCBridge struct {
	contracts map[core.Chain]common.Address

	mu      sync.Mutex
	secrets map[string]string // swapId → secret hex
}

// NewHTLCBridge builds the adapter from per-chain HTLC contract addresses.
func NewHTLCBridge(contracts map[core.Chain]common.Address) *HTLCBridge {
	return &HTLCBridge{contracts: contracts, secrets: make(map[string]string)}
}

func (b *HTLCBridge) Initialize(context.Context) error { return nil }
func (b *HTLCBridge) Chain() core.Chain                { return core.ChainEthereum }
func (b *HTLCBridge) ProtocolID() string               { return "htlc-bridge" }
func (b *HTLCBridge) Category() Category               { return CategoryBridge }
func (b *HTLCBridge) Spender(string) string            { return "" }

func (b *HTLCBridge) GetPosition(context.Context, string, string) (*core.Position, error) {
	return nil, ErrNotSupported
}
func (b *HTLCBridge) GetAllPositions(context.Context, string) ([]*core.Position, error) {
	return nil, ErrNotSupported
}
func (b *HTLCBridge) Deposit(context.Context, DepositParams) (core.TxPayload, error) {
	return core.TxPayload{}, ErrNotSupported
}
func (b *HTLCBridge) Withdraw(context.Context, WithdrawParams) (core.TxPayload, error) {
	return core.TxPayload{}, ErrNotSupported
}
func (b *HTLCBridge) Harvest(context.Context, HarvestParams) (core.TxPayload, error) {
	return core.TxPayload{}, ErrNotSupported
}
func (b *HTLCBridge) Compound(context.Context, HarvestParams) ([]core.TxPayload, error) {
	return nil, ErrNotSupported
}

// Lock encodes the source-side lock, minting a fresh secret and returning
// its hash plus the timelock the destination claim must beat.
func (b *HTLCBridge) Lock(_ context.Context, srcChain, dstChain core.Chain, token string, amount *big.Int, wallet string) (*BridgeLock, error) {
	contract, ok := b.contracts[srcChain]
	if !ok {
		return nil, fmt.Errorf("%w: no htlc contract on %s", ErrBadParams, srcChain)
	}
	dstInfo, ok := dstChain.Info()
	if !ok || dstInfo.Family != core.FamilyEVM {
		return nil, fmt.Errorf("%w: htlc destination must be EVM", ErrBadParams)
	}
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, err
	}
	secretHash := sha3.Sum256(secret[:])
	timelock := uint64(time.Now().Add(DefaultBridgeTimelock).Unix())

	data, err := htlcABI.Pack("lock",
		secretHash,
		common.HexToAddress(token),
		amount,
		new(big.Int).SetUint64(timelock),
		new(big.Int).SetUint64(dstInfo.ChainID),
	)
	if err != nil {
		return nil, err
	}

	// The swap id is derived the way the contract derives it, so the
	// claim can be encoded before the lock confirms.
	idInput := append(secretHash[:], common.HexToAddress(wallet).Bytes()...)
	swapIDBytes := sha3.Sum256(idInput)
	swapID := hex.EncodeToString(swapIDBytes[:])

	b.mu.Lock()
	b.secrets[swapID] = hex.EncodeToString(secret[:])
	b.mu.Unlock()

	return &BridgeLock{
		SwapID:     swapID,
		SecretHash: hex.EncodeToString(secretHash[:]),
		Timelock:   timelock,
		Payload: core.NewEvmPayload(srcChain, core.EvmPayload{
			To:   contract,
			Data: data,
		}),
	}, nil
}

// Secret returns the in-process secret for a swap id, if this process
// created the lock.
func (b *HTLCBridge) Secret(swapID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.secrets[swapID]
	return s, ok
}

// Claim encodes the destination-side claim revealing the secret.
func (b *HTLCBridge) Claim(_ context.Context, swapID, secret string, _ string) (core.TxPayload, error) {
	// The claim runs on whichever chain the caller locked towards; the
	// planner passes the destination chain through the payload it tags.
	return b.claimOrRefund("claim", swapID, secret)
}

// Refund encodes the source-side refund after timelock expiry.
func (b *HTLCBridge) Refund(_ context.Context, swapID string, _ string) (core.TxPayload, error) {
	return b.claimOrRefund("refund", swapID, "")
}

func (b *HTLCBridge) claimOrRefund(method, swapID, secret string) (core.TxPayload, error) {
	idRaw, err := hex.DecodeString(swapID)
	if err != nil || len(idRaw) != 32 {
		return core.TxPayload{}, fmt.Errorf("%w: bad swap id", ErrBadParams)
	}
	var id [32]byte
	copy(id[:], idRaw)

	var data []byte
	if method == "claim" {
		secretRaw, err := hex.DecodeString(secret)
		if err != nil || len(secretRaw) != 32 {
			return core.TxPayload{}, fmt.Errorf("%w: bad secret", ErrBadParams)
		}
		var sec [32]byte
		copy(sec[:], secretRaw)
		data, err = htlcABI.Pack("claim", id, sec)
		if err != nil {
			return core.TxPayload{}, err
		}
	} else {
		var packErr error
		data, packErr = htlcABI.Pack("refund", id)
		if packErr != nil {
			return core.TxPayload{}, packErr
		}
	}

	// Chain tagging happens at the call site; default to the first
	// configured contract for claim/refund payload shape.
	for chain, contract := range b.contracts {
		return core.NewEvmPayload(chain, core.EvmPayload{To: contract, Data: data}), nil
	}
	return core.TxPayload{}, fmt.Errorf("%w: no htlc contracts configured", ErrBadParams)
}

// PayloadFor retags a bridge payload onto a specific chain's contract.
func (b *HTLCBridge) PayloadFor(chain core.Chain, p core.TxPayload) (core.TxPayload, error) {
	contract, ok := b.contracts[chain]
	if !ok {
		return core.TxPayload{}, fmt.Errorf("%w: no htlc contract on %s", ErrBadParams, chain)
	}
	if p.Evm == nil {
		return core.TxPayload{}, core.ErrMalformedPayload
	}
	evm := *p.Evm
	evm.To = contract
	return core.NewEvmPayload(chain, evm), nil
}
