package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Insert adds a new token. Returns ErrDuplicateKey if token_id or mint exists.
func (s *TokenStore) Insert(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens (token_id, mint, symbol, decimals, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TokenID,
		t.Mint,
		t.Symbol,
		t.Decimals,
		t.Active,
		t.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(ctx context.Context, tokenID string) (*domain.Token, error) {
	query := `
		SELECT token_id, mint, symbol, decimals, active, created_at
		FROM tokens
		WHERE token_id = $1
	`

	t, err := scanToken(s.pool.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by id: %w", err)
	}
	return t, nil
}

// ListActive retrieves active tokens ordered by token_id ASC.
func (s *TokenStore) ListActive(ctx context.Context) ([]*domain.Token, error) {
	query := `
		SELECT token_id, mint, symbol, decimals, active, created_at
		FROM tokens
		WHERE active
		ORDER BY token_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return tokens, nil
}

func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	if err := row.Scan(&t.TokenID, &t.Mint, &t.Symbol, &t.Decimals, &t.Active, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
