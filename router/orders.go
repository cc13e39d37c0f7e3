package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tos-network/gyield/core"
)

// orderTTL is how long a posted order stays fillable.
const orderTTL = 10 * time.Minute

// Order is the wire shape the settlement APIs accept. The fields come
// from the step's meta, not from decoded calldata.
type Order struct {
	Chain       string `json:"chain"`
	Wallet      string `json:"from"`
	SellToken   string `json:"sellToken"`
	BuyToken    string `json:"buyToken"`
	SellAmount  string `json:"sellAmount"`
	MinBuy      string `json:"buyAmountMin"`
	ValidTo     int64  `json:"validTo"`
	AppData     string `json:"appData,omitempty"`
	Signature   string `json:"signature"`
	SigningType string `json:"signingScheme"`
}

// OrderFlow posts signed swap orders to a settlement API (CoW, UniswapX,
// 1inch Fusion). The solver network submits on-chain; we only hold an
// order id until settlement.
type OrderFlow struct {
	route  Route
	base   string
	apiKey string
	http   *http.Client
}

// NewOrderFlow builds a submitter for one settlement API.
func NewOrderFlow(route Route, base string) *OrderFlow {
	return &OrderFlow{
		route: route,
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SetAPIKey attaches a bearer token (1inch Fusion requires one).
func (o *OrderFlow) SetAPIKey(key string) { o.apiKey = key }

// SubmitOrder signs and posts one order. Swap parameters arrive through
// the step meta: tokenIn, tokenOut, amountIn, minOut.
func (o *OrderFlow) SubmitOrder(ctx context.Context, chain core.Chain, wallet, privHex string, meta map[string]string) (*Submission, error) {
	for _, k := range []string{"tokenIn", "tokenOut", "amountIn"} {
		if meta[k] == "" {
			return nil, core.NewError(core.KindConfig, fmt.Sprintf("order route needs meta %q", k), nil)
		}
	}
	order := Order{
		Chain:       string(chain),
		Wallet:      wallet,
		SellToken:   meta["tokenIn"],
		BuyToken:    meta["tokenOut"],
		SellAmount:  meta["amountIn"],
		MinBuy:      meta["minOut"],
		ValidTo:     time.Now().Add(orderTTL).Unix(),
		SigningType: "eip712",
	}

	sig, err := o.signOrder(&order, privHex)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "order signing", err)
	}
	order.Signature = sig

	orderID, err := o.post(ctx, &order)
	if err != nil {
		return nil, err
	}
	return &Submission{
		Method:        o.route,
		OrderID:       orderID,
		Status:        StatusOpen,
		MevProtection: true,
	}, nil
}

// OrderStatus polls one posted order. The hash is the settlement
// transaction once the API reports a fill; open orders return StatusOpen
// with no hash.
func (o *OrderFlow) OrderStatus(ctx context.Context, orderID string) (SubmitStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.base+"/orders/"+orderID, nil)
	if err != nil {
		return "", "", err
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return "", "", core.NewError(core.KindRpcTransient, "order status", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", core.NewError(core.KindRpcTransient, "order status read", err)
	}
	if resp.StatusCode/100 != 2 {
		// A fresh order can 404 until the API's index catches up; keep
		// polling rather than declaring a verdict.
		return "", "", core.NewError(core.KindRpcTransient,
			fmt.Sprintf("order status http %d: %s", resp.StatusCode, body), nil)
	}
	var out struct {
		Status string `json:"status"`
		TxHash string `json:"txHash"`
		Hash   string `json:"hash"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", core.NewError(core.KindRpcTransient, "order status decode", err)
	}
	hash := out.TxHash
	if hash == "" {
		hash = out.Hash
	}
	switch strings.ToLower(out.Status) {
	case "fulfilled", "filled", "executed", "settled":
		return StatusFilled, hash, nil
	case "cancelled", "canceled", "rejected":
		return StatusRejected, "", nil
	case "expired":
		return StatusExpired, "", nil
	}
	return StatusOpen, "", nil
}

// signOrder hashes the canonical order encoding and signs with the hot
// key. The digest is prefixed the way the settlement contracts verify.
func (o *OrderFlow) signOrder(order *Order, privHex string) (string, error) {
	priv, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	digest := crypto.Keccak256(
		[]byte("\x19\x01"),
		crypto.Keccak256([]byte(o.base)),
		crypto.Keccak256(encoded),
	)
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return "", err
	}
	// Settlement APIs expect v ∈ {27, 28}.
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func (o *OrderFlow) post(ctx context.Context, order *Order) (string, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/orders", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "order post", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", core.NewError(core.KindRpcTransient, "order response", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", core.NewError(core.KindRpcTransient,
			fmt.Sprintf("order api http %d: %s", resp.StatusCode, body), nil)
	}
	// CoW returns a bare JSON string; the others wrap it.
	var bare string
	if err := json.Unmarshal(body, &bare); err == nil && bare != "" {
		return bare, nil
	}
	var wrapped struct {
		OrderID string `json:"orderId"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return "", core.NewError(core.KindRpcTransient, "order id decode", err)
	}
	if wrapped.OrderID != "" {
		return wrapped.OrderID, nil
	}
	return wrapped.ID, nil
}
