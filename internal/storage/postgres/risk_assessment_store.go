package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// RiskAssessmentStore implements storage.RiskAssessmentStore using PostgreSQL.
type RiskAssessmentStore struct {
	pool *Pool
}

// NewRiskAssessmentStore creates a new RiskAssessmentStore.
func NewRiskAssessmentStore(pool *Pool) *RiskAssessmentStore {
	return &RiskAssessmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RiskAssessmentStore = (*RiskAssessmentStore)(nil)

// Insert appends an assessment and sets its ID.
func (s *RiskAssessmentStore) Insert(ctx context.Context, r *domain.RiskAssessment) error {
	if !r.Tier.IsValid() || r.Score < 0 || r.Score > 1 {
		return storage.ErrInvalidInput
	}

	flags := r.Flags
	if flags == nil {
		flags = []string{}
	}

	query := `
		INSERT INTO risk_assessments (token_id, risk_score, risk_tier, risk_flags, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		r.TokenID,
		r.Score,
		string(r.Tier),
		flags,
		r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert risk assessment: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent assessment. Returns ErrNotFound if none.
func (s *RiskAssessmentStore) GetLatest(ctx context.Context, tokenID string) (*domain.RiskAssessment, error) {
	query := `
		SELECT id, token_id, risk_score, risk_tier, risk_flags, created_at
		FROM risk_assessments
		WHERE token_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	r, err := scanRiskAssessment(s.pool.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest risk assessment: %w", err)
	}
	return r, nil
}

// GetByTokenID retrieves all assessments for a token ordered by id ASC.
func (s *RiskAssessmentStore) GetByTokenID(ctx context.Context, tokenID string) ([]*domain.RiskAssessment, error) {
	query := `
		SELECT id, token_id, risk_score, risk_tier, risk_flags, created_at
		FROM risk_assessments
		WHERE token_id = $1
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get risk assessments: %w", err)
	}
	defer rows.Close()

	var result []*domain.RiskAssessment
	for rows.Next() {
		r, err := scanRiskAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk assessment row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk assessment rows: %w", err)
	}
	return result, nil
}

func scanRiskAssessment(row pgx.Row) (*domain.RiskAssessment, error) {
	var (
		r    domain.RiskAssessment
		tier string
	)
	if err := row.Scan(&r.ID, &r.TokenID, &r.Score, &tier, &r.Flags, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Tier = domain.RiskTier(tier)
	return &r, nil
}
