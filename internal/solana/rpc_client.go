package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"solana-position-engine/internal/observability"
	"solana-position-engine/internal/retry"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 30 * time.Second

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint  string
	client    *resty.Client
	policy    retry.Policy
	requestID atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.SetTimeout(d)
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *HTTPClient) {
		c.policy = p
	}
}

// WithRestyClient sets a custom resty client.
func WithRestyClient(client *resty.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: endpoint,
		client:   resty.New().SetTimeout(DefaultTimeout),
		policy:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ RPCClient = (*HTTPClient)(nil)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call under the retry policy. Transport failures,
// 429 and 5xx are retried; RPC errors are not.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	start := time.Now()
	raw, err := retry.Value(ctx, c.policy, func(ctx context.Context) (json.RawMessage, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(req).
			Post(c.endpoint)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		if err := retry.HTTPStatus(resp.StatusCode(), resp.Body()); err != nil {
			return nil, err
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if rpcResp.Error != nil {
			return nil, retry.Terminal(rpcResp.Error)
		}
		return rpcResp.Result, nil
	})
	observability.RecordRPCLatency(method, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("%s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// SendTransaction relays a signed base64 transaction. Preflight is skipped and
// node-side rebroadcast disabled; the caller owns confirmation.
func (c *HTTPClient) SendTransaction(ctx context.Context, signedTx string) (string, error) {
	params := []interface{}{
		signedTx,
		map[string]interface{}{
			"encoding":      "base64",
			"skipPreflight": true,
			"maxRetries":    0,
		},
	}

	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetSignatureStatuses returns one entry per signature; nil means unknown.
func (c *HTTPClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	params := []interface{}{
		signatures,
		map[string]interface{}{"searchTransactionHistory": true},
	}

	var result getSignatureStatusesResult
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(signatures))
	for i, v := range result.Value {
		if i >= len(statuses) || v == nil {
			continue
		}
		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: Commitment(v.ConfirmationStatus),
		}
	}
	return statuses, nil
}

type getSignatureStatusesResult struct {
	Value []*signatureStatusValue `json:"value"`
}

type signatureStatusValue struct {
	Slot               int64       `json:"slot"`
	Confirmations      *int64      `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetTransaction retrieves a transaction by signature.
// Returns nil, nil if the transaction is not found.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string, commitment Commitment) (*Transaction, error) {
	if !commitment.IsValid() {
		commitment = CommitmentFinalized
	}
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     string(commitment),
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	tx := &Transaction{
		Slot:      result.Slot,
		Signature: signature,
	}
	if result.BlockTime != nil {
		tx.BlockTime = *result.BlockTime
	}

	if m := result.Meta; m != nil {
		tx.Meta = &TransactionMeta{
			Err:               m.Err,
			Fee:               m.Fee,
			PreBalances:       m.PreBalances,
			PostBalances:      m.PostBalances,
			PreTokenBalances:  convertTokenBalances(m.PreTokenBalances),
			PostTokenBalances: convertTokenBalances(m.PostTokenBalances),
			LogMessages:       m.LogMessages,
		}
	}

	if result.Transaction != nil && result.Transaction.Message != nil {
		tx.Message = &TransactionMessage{
			AccountKeys: result.Transaction.Message.AccountKeys,
		}
	}

	return tx, nil
}

func convertTokenBalances(in []getTokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		out = append(out, TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.UITokenAmount.Amount,
			Decimals:     b.UITokenAmount.Decimals,
		})
	}
	return out
}

// getTransactionResult is the raw RPC response for getTransaction.
type getTransactionResult struct {
	Slot        int64               `json:"slot"`
	BlockTime   *int64              `json:"blockTime"`
	Meta        *getTransactionMeta `json:"meta"`
	Transaction *getTransactionTx   `json:"transaction"`
}

type getTransactionMeta struct {
	Err               interface{}       `json:"err"`
	Fee               uint64            `json:"fee"`
	PreBalances       []uint64          `json:"preBalances"`
	PostBalances      []uint64          `json:"postBalances"`
	PreTokenBalances  []getTokenBalance `json:"preTokenBalances"`
	PostTokenBalances []getTokenBalance `json:"postTokenBalances"`
	LogMessages       []string          `json:"logMessages"`
}

type getTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type getTransactionTx struct {
	Message *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}
