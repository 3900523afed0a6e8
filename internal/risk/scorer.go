package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// Scorer computes and records risk assessments.
type Scorer struct {
	audits      storage.AuditStore
	liquidity   storage.LiquidityTimeseriesStore
	assessments storage.RiskAssessmentStore
	window      int
	log         logrus.FieldLogger
	now         func() time.Time
}

// Options for creating Scorer.
type Options struct {
	AuditStore      storage.AuditStore
	LiquidityStore  storage.LiquidityTimeseriesStore
	AssessmentStore storage.RiskAssessmentStore

	// Window is the number of trailing liquidity samples; DefaultWindow if 0.
	Window int
	Logger logrus.FieldLogger
}

// NewScorer creates a new Scorer.
func NewScorer(opts Options) *Scorer {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scorer{
		audits:      opts.AuditStore,
		liquidity:   opts.LiquidityStore,
		assessments: opts.AssessmentStore,
		window:      window,
		log:         log.WithField("component", "risk"),
		now:         time.Now,
	}
}

// Score loads the inputs for tokenID, computes a fresh assessment and
// appends it to the store.
func (s *Scorer) Score(ctx context.Context, tokenID string) (*domain.RiskAssessment, error) {
	audit, err := s.audits.GetLatest(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load audit %s: %w", tokenID, err)
		}
		audit = nil
	}

	samples, err := s.liquidity.GetLatest(ctx, tokenID, s.window)
	if err != nil {
		return nil, fmt.Errorf("load liquidity %s: %w", tokenID, err)
	}

	a := Compute(audit, samples)
	a.TokenID = tokenID
	a.CreatedAt = s.now().UTC()

	if err := s.assessments.Insert(ctx, &a); err != nil {
		return nil, fmt.Errorf("store assessment %s: %w", tokenID, err)
	}

	s.log.WithFields(logrus.Fields{
		"token_id": tokenID,
		"score":    a.Score,
		"tier":     a.Tier,
		"flags":    a.Flags,
		"samples":  len(samples),
		"audit":    audit != nil,
	}).Debug("risk assessed")

	return &a, nil
}
