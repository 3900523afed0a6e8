package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"solana-position-engine/internal/retry"
)

// ErrNoPrice is returned when the API has no price for a mint.
var ErrNoPrice = errors.New("no price available")

// HTTPSource queries a Jupiter-style GET /price?ids=... endpoint.
type HTTPSource struct {
	client *resty.Client
	policy retry.Policy
}

// Option configures HTTPSource.
type Option func(*HTTPSource)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPSource) {
		s.client.SetTimeout(d)
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *HTTPSource) {
		s.policy = p
	}
}

// NewHTTPSource creates a price source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(10 * time.Second).
			SetHeader("Accept", "application/json"),
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type priceResponse struct {
	Data map[string]*priceEntry `json:"data"`
}

type priceEntry struct {
	ID    string     `json:"id"`
	Price priceValue `json:"price"`
}

// priceValue accepts the price as a JSON number or a decimal string.
type priceValue float64

func (p *priceValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("price %s: %w", b, err)
	}
	*p = priceValue(f)
	return nil
}

// Prices returns USD prices for ids. Mints the API does not know are absent
// from the result.
func (s *HTTPSource) Prices(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	body, err := retry.Value(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParam("ids", strings.Join(ids, ",")).
			Get("/price")
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		if err := retry.HTTPStatus(resp.StatusCode(), resp.Body()); err != nil {
			return nil, err
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("price: unmarshal: %w", err)
	}

	out := make(map[string]float64, len(parsed.Data))
	for id, entry := range parsed.Data {
		if entry == nil || entry.Price <= 0 {
			continue
		}
		out[id] = float64(entry.Price)
	}
	return out, nil
}

// TokenPriceUSD returns the USD price of mint.
func (s *HTTPSource) TokenPriceUSD(ctx context.Context, mint string) (float64, error) {
	prices, err := s.Prices(ctx, []string{mint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[mint]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, mint)
	}
	return price, nil
}
