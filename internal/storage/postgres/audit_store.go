package postgres

import (
	"context"
	"fmt"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Insert adds an audit snapshot.
func (s *AuditStore) Insert(ctx context.Context, a *domain.AuditSnapshot) error {
	query := `
		INSERT INTO token_audits (
			token_id, rugpull, mint_disabled, freeze_disabled,
			top_holders_pct, dev_balance_pct, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		a.TokenID,
		a.Rugpull,
		a.MintDisabled,
		a.FreezeDisabled,
		a.TopHoldersPct,
		a.DevBalancePct,
		a.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent snapshot. Returns ErrNotFound if none.
func (s *AuditStore) GetLatest(ctx context.Context, tokenID string) (*domain.AuditSnapshot, error) {
	query := `
		SELECT token_id, rugpull, mint_disabled, freeze_disabled,
		       top_holders_pct, dev_balance_pct, fetched_at
		FROM token_audits
		WHERE token_id = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`

	var a domain.AuditSnapshot
	err := s.pool.QueryRow(ctx, query, tokenID).Scan(
		&a.TokenID,
		&a.Rugpull,
		&a.MintDisabled,
		&a.FreezeDisabled,
		&a.TopHoldersPct,
		&a.DevBalancePct,
		&a.FetchedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest audit: %w", err)
	}
	return &a, nil
}
