package decision

import (
	"fmt"
	"strings"
	"time"

	"solana-position-engine/internal/domain"
)

// Evaluator applies the entry and exit rules. It holds no state.
type Evaluator struct {
	threshold    float64
	allowedTiers []domain.RiskTier
	targetReturn float64
	timeout      time.Duration
}

// NewEvaluator creates an evaluator from cfg.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		threshold:    cfg.Threshold,
		allowedTiers: cfg.AllowedTiers,
		targetReturn: cfg.TargetReturn,
		timeout:      cfg.Timeout,
	}
}

// EvaluateEntry checks every entry criterion. Enter is true only if all pass.
func (e *Evaluator) EvaluateEntry(in EntryInput) EntryDecision {
	criteria := []CriterionResult{
		e.forecastCriterion(in.Forecast),
		e.riskCriterion(in.Risk),
		{
			Name:      "Free wallet",
			Code:      SkipNoWallet,
			Threshold: "enabled, unbound",
			Actual:    walletActual(in.Wallet),
			Pass:      in.Wallet != nil,
		},
		{
			Name:      "SOL price",
			Code:      SkipNoSOLPrice,
			Threshold: "> 0",
			Actual:    fmt.Sprintf("%.4f", in.SOLPriceUSD),
			Pass:      in.SOLPriceUSD > 0,
		},
		{
			Name:      "Token price",
			Code:      SkipNoTokenPrice,
			Threshold: "> 0",
			Actual:    fmt.Sprintf("%.8f", in.TokenPriceUSD),
			Pass:      in.TokenPriceUSD > 0,
		},
	}

	d := EntryDecision{Enter: true, Criteria: criteria}
	for _, c := range criteria {
		if !c.Pass {
			d.Enter = false
			d.SkipReason = c.Code
			break
		}
	}
	return d
}

func (e *Evaluator) forecastCriterion(f *domain.Forecast) CriterionResult {
	c := CriterionResult{
		Name:      "Forecast probability",
		Code:      SkipForecastUnavailable,
		Threshold: fmt.Sprintf(">= %.2f", e.threshold),
		Actual:    "unavailable",
	}
	if f == nil {
		return c
	}
	c.Code = SkipBelowThreshold
	c.Actual = fmt.Sprintf("%.4f", f.PHit)
	c.Pass = f.PHit >= e.threshold
	return c
}

func (e *Evaluator) riskCriterion(r *domain.RiskAssessment) CriterionResult {
	tiers := make([]string, len(e.allowedTiers))
	for i, t := range e.allowedTiers {
		tiers[i] = t.String()
	}
	c := CriterionResult{
		Name:      "Risk tier",
		Code:      SkipRiskUnavailable,
		Threshold: "in [" + strings.Join(tiers, ", ") + "]",
		Actual:    "unavailable",
	}
	if r == nil {
		return c
	}
	c.Code = SkipRiskTier
	c.Actual = fmt.Sprintf("%s (%.2f)", r.Tier, r.Score)
	for _, t := range e.allowedTiers {
		if r.Tier == t {
			c.Pass = true
			break
		}
	}
	return c
}

func walletActual(w *domain.Wallet) string {
	if w == nil {
		return "none"
	}
	return fmt.Sprintf("wallet %d ($%.2f)", w.WalletID, w.EntryAmountUSD)
}

// ExitReason returns the reason an open position should be sold, or "" if
// it should be held. Target return is checked first, then the timeout, then
// the forecast sell plan.
func (e *Evaluator) ExitReason(in ExitInput) string {
	if in.PriceUSD > 0 && in.EntryPriceUSD > 0 && in.PriceUSD >= in.EntryPriceUSD*(1+e.targetReturn) {
		return domain.ExitReasonTargetReturn
	}
	if e.timeout > 0 && in.Now.Sub(in.OpenedAt) >= e.timeout {
		return domain.ExitReasonTimeout
	}
	if in.Plan.ShouldSell(in.PriceUSD, in.Now) {
		return domain.ExitReasonForecastSell
	}
	return ""
}
