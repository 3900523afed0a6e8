// Package risk scores tokens from their latest audit snapshot and the recent
// trend of pool liquidity.
package risk

import (
	"sort"

	"solana-position-engine/internal/domain"
)

// Scoring constants. Points are kept in tenths so sums stay exact.
const (
	pointsRugpull       = 5
	pointsMintEnabled   = 2
	pointsFreezeEnabled = 1
	pointsTopHolders    = 2
	pointsDev           = 1
	pointsLiquidityDrop = 2
	pointsMax           = 10

	TopHoldersThresholdPct = 75.0
	DevThresholdPct        = 10.0
	LiquidityDropSlope     = -0.02

	HighTierMin = 0.66
	MidTierMin  = 0.33

	DefaultWindow = 15
)

// Compute scores a token. audit may be nil, in which case no audit flag is
// raised. samples must be ordered by time ascending. The returned assessment
// has Score, Tier and sorted Flags set.
func Compute(audit *domain.AuditSnapshot, samples []*domain.LiquiditySample) domain.RiskAssessment {
	var points int
	var flags []string

	raise := func(flag string, p int) {
		points += p
		flags = append(flags, flag)
	}

	if audit != nil {
		if audit.Rugpull {
			raise(domain.RiskFlagRugpull, pointsRugpull)
		}
		if !audit.MintDisabled {
			raise(domain.RiskFlagMintEnabled, pointsMintEnabled)
		}
		if !audit.FreezeDisabled {
			raise(domain.RiskFlagFreezeEnabled, pointsFreezeEnabled)
		}
		if audit.TopHoldersPct >= TopHoldersThresholdPct {
			raise(domain.RiskFlagTopHolders, pointsTopHolders)
		}
		if audit.DevBalancePct >= DevThresholdPct {
			raise(domain.RiskFlagDevConcentration, pointsDev)
		}
	}

	if LiquiditySlope(samples) < LiquidityDropSlope {
		raise(domain.RiskFlagLiquidityDrop, pointsLiquidityDrop)
	}

	if points > pointsMax {
		points = pointsMax
	}
	score := float64(points) / 10
	sort.Strings(flags)

	return domain.RiskAssessment{
		Score: score,
		Tier:  TierFor(score),
		Flags: flags,
	}
}

// TierFor buckets a score.
func TierFor(score float64) domain.RiskTier {
	switch {
	case score >= HighTierMin:
		return domain.RiskTierHigh
	case score >= MidTierMin:
		return domain.RiskTierMid
	default:
		return domain.RiskTierLow
	}
}

// LiquiditySlope is (last − first) / (n × mean) over samples. Fewer than two
// samples or a zero mean give 0.
func LiquiditySlope(samples []*domain.LiquiditySample) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.LiquidityUSD
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	return (samples[n-1].LiquidityUSD - samples[0].LiquidityUSD) / (float64(n) * mean)
}
