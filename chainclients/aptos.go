package chainclients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tos-network/gyield/core"
)

// AptosClient talks to an Aptos fullnode over its REST API. No Go SDK is
// used; the surface the pipeline needs is four endpoints of plain JSON.
type AptosClient struct {
	base string
	http *http.Client
}

// NewAptosClient builds a client for the node's /v1 REST base URL.
func NewAptosClient(base string) *AptosClient {
	return &AptosClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// AptosSimResult is the outcome of simulate_transaction.
type AptosSimResult struct {
	Ok      bool
	VMError string
	GasUsed uint64
}

type AptosTxRequest struct {
	Sender                  string          `json:"sender"`
	SequenceNumber          string          `json:"sequence_number"`
	MaxGasAmount            string          `json:"max_gas_amount"`
	GasUnitPrice            string          `json:"gas_unit_price"`
	ExpirationTimestampSecs string          `json:"expiration_timestamp_secs"`
	Payload                 json.RawMessage `json:"payload"`
	Signature               json.RawMessage `json:"signature,omitempty"`
}

func entryFunctionPayload(p *core.AptosPayload) (json.RawMessage, error) {
	args := make([]interface{}, len(p.Args))
	for i, a := range p.Args {
		args[i] = a
	}
	return json.Marshal(map[string]interface{}{
		"type":           "entry_function_payload",
		"function":       p.Function,
		"type_arguments": p.TypeArgs,
		"arguments":      args,
	})
}

func (c *AptosClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("aptos: %s: http %d: %s", path, resp.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

func (c *AptosClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("aptos: %s: http %d: %s", path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// SequenceNumber reads the account's current sequence number.
func (c *AptosClient) SequenceNumber(ctx context.Context, address string) (uint64, error) {
	var acc struct {
		SequenceNumber string `json:"sequence_number"`
	}
	if err := c.get(ctx, "/accounts/"+address, &acc); err != nil {
		return 0, err
	}
	return strconv.ParseUint(acc.SequenceNumber, 10, 64)
}

// GasUnitPrice reads the node's gas price estimate.
func (c *AptosClient) GasUnitPrice(ctx context.Context) (uint64, error) {
	var est struct {
		GasEstimate uint64 `json:"gas_estimate"`
	}
	if err := c.get(ctx, "/estimate_gas_price", &est); err != nil {
		return 0, err
	}
	return est.GasEstimate, nil
}

// Simulate runs simulate_transaction with an invalid signature stub, using
// the account's live sequence number.
func (c *AptosClient) Simulate(ctx context.Context, sender string, payload *core.AptosPayload) (*AptosSimResult, error) {
	seq, err := c.SequenceNumber(ctx, sender)
	if err != nil {
		return nil, err
	}
	body, err := entryFunctionPayload(payload)
	if err != nil {
		return nil, err
	}
	stubSig, _ := json.Marshal(map[string]string{
		"type":       "ed25519_signature",
		"public_key": "0x" + strings.Repeat("00", 32),
		"signature":  "0x" + strings.Repeat("00", 64),
	})
	req := AptosTxRequest{
		Sender:                  sender,
		SequenceNumber:          strconv.FormatUint(seq, 10),
		MaxGasAmount:            "200000",
		GasUnitPrice:            "100",
		ExpirationTimestampSecs: strconv.FormatInt(time.Now().Add(2*time.Minute).Unix(), 10),
		Payload:                 body,
		Signature:               stubSig,
	}
	var out []struct {
		Success  bool   `json:"success"`
		VMStatus string `json:"vm_status"`
		GasUsed  string `json:"gas_used"`
	}
	if err := c.post(ctx, "/transactions/simulate", req, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("aptos: empty simulation response")
	}
	gas, _ := strconv.ParseUint(out[0].GasUsed, 10, 64)
	res := &AptosSimResult{Ok: out[0].Success, GasUsed: gas}
	if !out[0].Success {
		res.VMError = out[0].VMStatus
	}
	return res, nil
}

// EncodeSubmission asks the node for the BCS signing message of an
// unsigned transaction. The executor signs those bytes with ed25519 and
// submits the assembled envelope; no local BCS encoder is needed.
func (c *AptosClient) EncodeSubmission(ctx context.Context, tx *AptosTxRequest) ([]byte, error) {
	unsigned := *tx
	unsigned.Signature = nil
	var hexMsg string
	if err := c.post(ctx, "/transactions/encode_submission", unsigned, &hexMsg); err != nil {
		return nil, err
	}
	raw, err := decodeHex(hexMsg)
	if err != nil {
		return nil, fmt.Errorf("aptos: bad signing message: %w", err)
	}
	return raw, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// NewTxRequest assembles the unsigned JSON transaction for sender.
func (c *AptosClient) NewTxRequest(ctx context.Context, sender string, payload *core.AptosPayload, maxGas uint64) (*AptosTxRequest, error) {
	seq, err := c.SequenceNumber(ctx, sender)
	if err != nil {
		return nil, err
	}
	price, err := c.GasUnitPrice(ctx)
	if err != nil {
		return nil, err
	}
	body, err := entryFunctionPayload(payload)
	if err != nil {
		return nil, err
	}
	if maxGas == 0 {
		maxGas = 200000
	}
	return &AptosTxRequest{
		Sender:                  sender,
		SequenceNumber:          strconv.FormatUint(seq, 10),
		MaxGasAmount:            strconv.FormatUint(maxGas, 10),
		GasUnitPrice:            strconv.FormatUint(price, 10),
		ExpirationTimestampSecs: strconv.FormatInt(time.Now().Add(2*time.Minute).Unix(), 10),
		Payload:                 body,
	}, nil
}

// AttachSignature completes the envelope with an ed25519 signature.
func (tx *AptosTxRequest) AttachSignature(pubHex, sigHex string) error {
	raw, err := json.Marshal(map[string]string{
		"type":       "ed25519_signature",
		"public_key": pubHex,
		"signature":  sigHex,
	})
	if err != nil {
		return err
	}
	tx.Signature = raw
	return nil
}

// Marshal renders the envelope for /transactions.
func (tx *AptosTxRequest) Marshal() (json.RawMessage, error) {
	return json.Marshal(tx)
}

// Submit posts a signed transaction envelope and returns its hash. Signing
// happens in the executor's aptos arm; the envelope arrives complete.
func (c *AptosClient) Submit(ctx context.Context, signed json.RawMessage) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transactions", bytes.NewReader(signed))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("aptos: submit: http %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// TxSuccess reports whether a committed transaction executed successfully.
// The bool return distinguishes "not yet committed" (false, nil error).
func (c *AptosClient) TxSuccess(ctx context.Context, hash string) (done bool, success bool, vmStatus string, err error) {
	var out struct {
		Type     string `json:"type"`
		Success  *bool  `json:"success"`
		VMStatus string `json:"vm_status"`
	}
	if err := c.get(ctx, "/transactions/by_hash/"+hash, &out); err != nil {
		// A 404 means the node has not seen the hash yet.
		if strings.Contains(err.Error(), "http 404") {
			return false, false, "", nil
		}
		return false, false, "", err
	}
	if out.Type == "pending_transaction" || out.Success == nil {
		return false, false, "", nil
	}
	return true, *out.Success, out.VMStatus, nil
}
