// Package forecast provides the hit-probability model the decision loop
// consults. The model itself is external; this package only transports its
// output.
package forecast

import (
	"context"
	"sync"

	"solana-position-engine/internal/domain"
)

// Model returns a forecast for a token. A nil SellPlan means the model has no
// sell-side opinion.
type Model interface {
	Forecast(ctx context.Context, token domain.Token) (*domain.Forecast, error)
}

// Static serves fixed forecasts. Tokens without an entry get PHit 0.
type Static struct {
	mu        sync.RWMutex
	forecasts map[string]domain.Forecast
}

// NewStatic creates an empty static model.
func NewStatic() *Static {
	return &Static{forecasts: make(map[string]domain.Forecast)}
}

// Set replaces the forecast for tokenID.
func (s *Static) Set(tokenID string, f domain.Forecast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.TokenID = tokenID
	s.forecasts[tokenID] = f
}

// Forecast implements Model.
func (s *Static) Forecast(_ context.Context, token domain.Token) (*domain.Forecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.forecasts[token.TokenID]
	if !ok {
		return &domain.Forecast{TokenID: token.TokenID}, nil
	}
	if f.Plan != nil {
		plan := *f.Plan
		f.Plan = &plan
	}
	return &f, nil
}
