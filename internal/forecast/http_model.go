package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/retry"
)

// HTTPModel calls a model server's POST /predict.
type HTTPModel struct {
	client *resty.Client
	policy retry.Policy
}

// NewHTTPModel creates a client for the model server at baseURL.
func NewHTTPModel(baseURL string, timeout time.Duration, policy retry.Policy) *HTTPModel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPModel{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		policy: policy,
	}
}

type predictRequest struct {
	TokenID string `json:"token_id"`
	Mint    string `json:"mint"`
}

type predictResponse struct {
	PHit     *float64      `json:"p_hit"`
	ETABin   string        `json:"eta_bin"`
	SellPlan *sellPlanWire `json:"sell_plan"`
}

type sellPlanWire struct {
	SellNow        bool    `json:"sell_now"`
	TargetPriceUSD float64 `json:"target_price_usd"`
	DeadlineMs     int64   `json:"deadline_ms"`
}

// Forecast implements Model.
func (m *HTTPModel) Forecast(ctx context.Context, token domain.Token) (*domain.Forecast, error) {
	body, err := retry.Value(ctx, m.policy, func(ctx context.Context) ([]byte, error) {
		resp, err := m.client.R().
			SetContext(ctx).
			SetBody(predictRequest{TokenID: token.TokenID, Mint: token.Mint}).
			Post("/predict")
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		if err := retry.HTTPStatus(resp.StatusCode(), resp.Body()); err != nil {
			return nil, err
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", token.TokenID, err)
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("predict %s: unmarshal: %w", token.TokenID, err)
	}
	if out.PHit == nil {
		return nil, fmt.Errorf("predict %s: response has no p_hit", token.TokenID)
	}
	if *out.PHit < 0 || *out.PHit > 1 {
		return nil, fmt.Errorf("predict %s: p_hit %v out of range", token.TokenID, *out.PHit)
	}

	f := &domain.Forecast{
		TokenID: token.TokenID,
		PHit:    *out.PHit,
		ETABin:  out.ETABin,
	}
	if sp := out.SellPlan; sp != nil {
		f.Plan = &domain.SellPlan{
			SellNow:        sp.SellNow,
			TargetPriceUSD: sp.TargetPriceUSD,
		}
		if sp.DeadlineMs > 0 {
			f.Plan.Deadline = time.UnixMilli(sp.DeadlineMs)
		}
	}
	return f, nil
}
