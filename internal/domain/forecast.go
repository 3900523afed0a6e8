package domain

import "time"

// Forecast is the opaque model output consumed by the decision loop.
type Forecast struct {
	TokenID string
	PHit    float64   // probability of reaching the target return
	ETABin  string    // model's time-to-target bucket, informational
	Plan    *SellPlan // sell trigger fields, nil if the model emitted none
}

// SellPlan carries the model's sell-side triggers.
type SellPlan struct {
	SellNow        bool      // immediate sell signal
	TargetPriceUSD float64   // sell once price reaches this level (0 = unset)
	Deadline       time.Time // sell once this time passes (zero = unset)
}

// ShouldSell reports whether the plan fires at the given price and time.
func (p *SellPlan) ShouldSell(priceUSD float64, now time.Time) bool {
	if p == nil {
		return false
	}
	if p.SellNow {
		return true
	}
	if p.TargetPriceUSD > 0 && priceUSD >= p.TargetPriceUSD {
		return true
	}
	return !p.Deadline.IsZero() && !now.Before(p.Deadline)
}
