package domain

import "time"

// RiskTier buckets a risk score.
type RiskTier string

const (
	RiskTierLow  RiskTier = "low"
	RiskTierMid  RiskTier = "mid"
	RiskTierHigh RiskTier = "high"
)

// String returns the string representation of RiskTier.
func (t RiskTier) String() string {
	return string(t)
}

// IsValid checks if the tier is a valid value.
func (t RiskTier) IsValid() bool {
	return t == RiskTierLow || t == RiskTierMid || t == RiskTierHigh
}

// Risk flag names
const (
	RiskFlagRugpull          = "rugpull"
	RiskFlagMintEnabled      = "mint_enabled"
	RiskFlagFreezeEnabled    = "freeze_enabled"
	RiskFlagTopHolders       = "top_holders_concentration"
	RiskFlagDevConcentration = "dev_concentration"
	RiskFlagLiquidityDrop    = "liq_drop"
)

// RiskAssessment is a point-in-time risk snapshot of a token.
// Corresponds to risk_assessments table in PostgreSQL. Every computation
// appends a new row.
type RiskAssessment struct {
	ID        int64     // BIGSERIAL primary key
	TokenID   string    // FK to tokens
	Score     float64   // in [0, 1]
	Tier      RiskTier  // derived from Score
	Flags     []string  // raised flags, sorted
	CreatedAt time.Time // record creation time
}

// HasFlag reports whether the named flag was raised.
func (r *RiskAssessment) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
