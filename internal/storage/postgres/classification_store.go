package postgres

import (
	"context"
	"fmt"
	"strings"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// ClassificationStore implements storage.ClassificationStore using PostgreSQL.
type ClassificationStore struct {
	pool *Pool
}

// NewClassificationStore creates a new ClassificationStore.
func NewClassificationStore(pool *Pool) *ClassificationStore {
	return &ClassificationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// Insert appends a classification and sets its ID.
func (s *ClassificationStore) Insert(ctx context.Context, c *domain.TokenClassification) error {
	if c.TokenID == "" || c.PatternCode == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO token_classifications (token_id, pattern_code, source, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		c.TokenID,
		c.PatternCode,
		c.Source,
		c.Confidence,
		c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert classification: %w", err)
	}
	return nil
}

// GetByTokenID retrieves all classifications for a token ordered by created_at ASC.
func (s *ClassificationStore) GetByTokenID(ctx context.Context, tokenID string) ([]*domain.TokenClassification, error) {
	query := `
		SELECT id, token_id, pattern_code, source, confidence, created_at
		FROM token_classifications
		WHERE token_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get classifications: %w", err)
	}
	defer rows.Close()

	var result []*domain.TokenClassification
	for rows.Next() {
		var c domain.TokenClassification
		if err := rows.Scan(&c.ID, &c.TokenID, &c.PatternCode, &c.Source, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan classification row: %w", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification rows: %w", err)
	}
	return result, nil
}

// HasAnyPattern reports whether any classification of the token has a
// lower-cased pattern_code in codes.
func (s *ClassificationStore) HasAnyPattern(ctx context.Context, tokenID string, codes []string) (bool, error) {
	if len(codes) == 0 {
		return false, nil
	}

	lowered := make([]string, len(codes))
	for i, c := range codes {
		lowered[i] = strings.ToLower(c)
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM token_classifications
			WHERE token_id = $1 AND LOWER(pattern_code) = ANY($2)
		)
	`

	var found bool
	if err := s.pool.QueryRow(ctx, query, tokenID, lowered).Scan(&found); err != nil {
		return false, fmt.Errorf("has any pattern: %w", err)
	}
	return found, nil
}
