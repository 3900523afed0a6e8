package decision

import (
	"time"

	"solana-position-engine/internal/domain"
)

// Skip reasons, as counted in metrics and TickReport.Skips.
const (
	SkipBlocked             = "blocked"
	SkipForecastUnavailable = "forecast_unavailable"
	SkipBelowThreshold      = "below_threshold"
	SkipRiskUnavailable     = "risk_unavailable"
	SkipRiskTier            = "risk_tier"
	SkipNoWallet            = "no_wallet"
	SkipNoSOLPrice          = "no_sol_price"
	SkipNoTokenPrice        = "no_token_price"
	SkipInFlight            = "in_flight"
)

// CriterionResult represents pass/fail for one entry criterion.
type CriterionResult struct {
	Name      string
	Code      string // skip reason when the criterion fails
	Threshold string
	Actual    string
	Pass      bool
}

// EntryInput holds everything an entry decision looks at. Nil pointers mean
// the input could not be obtained.
type EntryInput struct {
	Forecast      *domain.Forecast
	Risk          *domain.RiskAssessment
	Wallet        *domain.Wallet
	SOLPriceUSD   float64
	TokenPriceUSD float64
}

// EntryDecision is the outcome of EvaluateEntry.
type EntryDecision struct {
	Enter      bool
	SkipReason string // first failing criterion, empty when Enter
	Criteria   []CriterionResult
}

// ExitInput holds everything an exit decision looks at.
type ExitInput struct {
	EntryPriceUSD float64
	PriceUSD      float64 // 0 when unavailable
	OpenedAt      time.Time
	Now           time.Time
	Plan          *domain.SellPlan
}

// TickReport summarizes one tick.
type TickReport struct {
	Iteration   int64
	Entries     int
	Exits       int
	FailedBuys  int
	FailedSells int
	Recovered   int // journaled trades recorded by reconcile; included in Entries and Exits
	Skips       map[string]int
	Errors      int
	Panicked    bool
	Duration    time.Duration
}

func (r *TickReport) skip(reason string) {
	if r.Skips == nil {
		r.Skips = make(map[string]int)
	}
	r.Skips[reason]++
}

// Status is the tick outcome label used in metrics.
func (r *TickReport) Status() string {
	switch {
	case r.Panicked:
		return "panic"
	case r.Errors > 0:
		return "error"
	default:
		return "ok"
	}
}
