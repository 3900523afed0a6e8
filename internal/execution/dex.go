package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"solana-position-engine/internal/retry"
)

// QuoteRequest asks for a swap of Amount raw units of InputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      string // raw integer amount
	SlippageBps int
}

// Quote is an aggregator quote. It is an estimate; settlement uses on-chain
// actuals.
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`

	raw json.RawMessage
}

// DEX is the aggregator the executor swaps through.
type DEX interface {
	// Quote returns a quote or an error wrapping ErrRouteUnavailable.
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)

	// BuildSwap turns a quote into an unsigned base64 transaction paid for
	// and signed by userPublicKey.
	BuildSwap(ctx context.Context, q *Quote, userPublicKey string) (string, error)
}

// JupiterClient talks to a Jupiter-compatible swap API.
type JupiterClient struct {
	client *resty.Client
	policy retry.Policy
}

// Compile-time interface check.
var _ DEX = (*JupiterClient)(nil)

// NewJupiterClient creates a client rooted at baseURL.
func NewJupiterClient(baseURL string, timeout time.Duration, policy retry.Policy) *JupiterClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JupiterClient{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		policy: policy,
	}
}

// Quote implements DEX.
func (c *JupiterClient) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return retry.Value(ctx, c.policy, func(ctx context.Context) (*Quote, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"inputMint":   req.InputMint,
				"outputMint":  req.OutputMint,
				"amount":      req.Amount,
				"slippageBps": strconv.Itoa(req.SlippageBps),
			}).
			Get("/quote")
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}

		body := resp.Body()
		code := resp.StatusCode()
		if code != http.StatusTooManyRequests && code < 500 {
			var probe struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(body, &probe) == nil && probe.Error != "" {
				return nil, retry.Terminal(fmt.Errorf("%w: %s", ErrRouteUnavailable, probe.Error))
			}
		}
		if err := retry.HTTPStatus(code, body); err != nil {
			return nil, err
		}

		var q Quote
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, retry.Terminal(fmt.Errorf("unmarshal quote: %w", err))
		}
		if q.OutAmount == "" || q.OutAmount == "0" {
			return nil, retry.Terminal(fmt.Errorf("%w: quote has no output amount", ErrRouteUnavailable))
		}
		q.raw = body
		return &q, nil
	})
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight int64  `json:"lastValidBlockHeight"`
	Error                string `json:"error"`
}

// BuildSwap implements DEX.
func (c *JupiterClient) BuildSwap(ctx context.Context, q *Quote, userPublicKey string) (string, error) {
	if q == nil || len(q.raw) == 0 {
		return "", errors.New("build swap: quote was not produced by this client")
	}
	body := swapRequest{
		QuoteResponse:           q.raw,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}

	return retry.Value(ctx, c.policy, func(ctx context.Context) (string, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post("/swap")
		if err != nil {
			return "", fmt.Errorf("http request: %w", err)
		}
		if err := retry.HTTPStatus(resp.StatusCode(), resp.Body()); err != nil {
			return "", err
		}

		var out swapResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", retry.Terminal(fmt.Errorf("unmarshal swap: %w", err))
		}
		if out.Error != "" {
			return "", retry.Terminal(fmt.Errorf("build swap: %s", out.Error))
		}
		if out.SwapTransaction == "" {
			return "", retry.Terminal(errors.New("build swap: empty transaction"))
		}
		return out.SwapTransaction, nil
	})
}
