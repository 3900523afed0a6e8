package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// SettlementStore implements storage.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

const settlementColumns = `
	signature, intent_id::text, wallet_id, token_id, side, status, reason, created_at, resolved_at
`

// Insert journals a submitted signature. Returns ErrDuplicateKey if signature exists.
func (s *SettlementStore) Insert(ctx context.Context, st *domain.Settlement) error {
	if st.Signature == "" || !st.Side.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO settlements (signature, intent_id, wallet_id, token_id, side, status, reason, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		st.Signature,
		st.IntentID,
		st.WalletID,
		st.TokenID,
		string(st.Side),
		string(st.Status),
		st.Reason,
		st.CreatedAt,
		st.ResolvedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// GetBySignature retrieves a journal entry. Returns ErrNotFound if not exists.
func (s *SettlementStore) GetBySignature(ctx context.Context, signature string) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE signature = $1`

	st, err := scanSettlement(s.pool.QueryRow(ctx, query, signature))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return st, nil
}

// ListUnrecorded retrieves every submitted or confirmed entry, oldest first.
func (s *SettlementStore) ListUnrecorded(ctx context.Context) ([]*domain.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE status IN ('submitted', 'confirmed')
		ORDER BY created_at, signature
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unrecorded settlements: %w", err)
	}
	defer rows.Close()

	var result []*domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement row: %w", err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement rows: %w", err)
	}
	return result, nil
}

// Resolve sets the status of an entry. Returns ErrNotFound if not exists.
func (s *SettlementStore) Resolve(ctx context.Context, signature string, status domain.SettlementStatus, at time.Time) error {
	if status == domain.SettlementSubmitted {
		return storage.ErrInvalidInput
	}

	query := `UPDATE settlements SET status = $2, resolved_at = $3 WHERE signature = $1`

	tag, err := s.pool.Exec(ctx, query, signature, string(status), at)
	if err != nil {
		return fmt.Errorf("resolve settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanSettlement(row pgx.Row) (*domain.Settlement, error) {
	var (
		st     domain.Settlement
		side   string
		status string
	)
	err := row.Scan(
		&st.Signature,
		&st.IntentID,
		&st.WalletID,
		&st.TokenID,
		&side,
		&status,
		&st.Reason,
		&st.CreatedAt,
		&st.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Side = domain.Side(side)
	st.Status = domain.SettlementStatus(status)
	return &st, nil
}
