package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, wallet_id, token_id, entry_iteration,
	entry_amount_usd, entry_price_usd, entry_amount_tokens::text, entry_signature, opened_at,
	exit_iteration, exit_price_usd, exit_signature, exit_reason, closed_at
`

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// ListOpen retrieves all open positions ordered by position_id ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE exit_iteration IS NULL
		ORDER BY position_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetOpenByWallet retrieves the open position of a wallet. Returns ErrNotFound if none.
func (s *PositionStore) GetOpenByWallet(ctx context.Context, walletID int64) (*domain.Position, error) {
	return getOpenByWallet(ctx, s.pool, walletID)
}

// GetOpenByToken retrieves the open position of a token. Returns ErrNotFound if none.
func (s *PositionStore) GetOpenByToken(ctx context.Context, tokenID string) (*domain.Position, error) {
	return getOpenByToken(ctx, s.pool, tokenID)
}

// ListByWallet retrieves the full history of a wallet ordered by position_id ASC.
func (s *PositionStore) ListByWallet(ctx context.Context, walletID int64) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE wallet_id = $1
		ORDER BY position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list positions by wallet: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// Close marks a position closed. Returns ErrNotFound or ErrAlreadyClosed.
func (s *PositionStore) Close(ctx context.Context, positionID int64, c storage.PositionClose) error {
	query := `
		UPDATE positions
		SET exit_iteration = $2,
		    exit_price_usd = $3,
		    exit_signature = $4,
		    exit_reason = $5,
		    closed_at = $6
		WHERE position_id = $1 AND exit_iteration IS NULL
	`

	tag, err := s.pool.Exec(ctx, query,
		positionID,
		c.Iteration,
		c.PriceUSD,
		c.Signature,
		c.Reason,
		c.ClosedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, positionID); err != nil {
		return err
	}
	return storage.ErrAlreadyClosed
}

// MaxIteration returns the highest entry or exit iteration recorded, 0 if none.
func (s *PositionStore) MaxIteration(ctx context.Context) (int64, error) {
	query := `
		SELECT COALESCE(MAX(GREATEST(entry_iteration, COALESCE(exit_iteration, 0))), 0)
		FROM positions
	`

	var iteration int64
	if err := s.pool.QueryRow(ctx, query).Scan(&iteration); err != nil {
		return 0, fmt.Errorf("max iteration: %w", err)
	}
	return iteration, nil
}

func getOpenByWallet(ctx context.Context, q querier, walletID int64) (*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE wallet_id = $1 AND exit_iteration IS NULL
	`

	p, err := scanPosition(q.QueryRow(ctx, query, walletID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position by wallet: %w", err)
	}
	return p, nil
}

func getOpenByToken(ctx context.Context, q querier, tokenID string) (*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE token_id = $1 AND exit_iteration IS NULL
	`

	p, err := scanPosition(q.QueryRow(ctx, query, tokenID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get open position by token: %w", err)
	}
	return p, nil
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var tokens string

	err := row.Scan(
		&p.PositionID,
		&p.WalletID,
		&p.TokenID,
		&p.EntryIteration,
		&p.EntryAmountUSD,
		&p.EntryPriceUSD,
		&tokens,
		&p.EntrySignature,
		&p.OpenedAt,
		&p.ExitIteration,
		&p.ExitPriceUSD,
		&p.ExitSignature,
		&p.ExitReason,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	p.EntryAmountTokens, err = decimal.NewFromString(tokens)
	if err != nil {
		return nil, fmt.Errorf("entry_amount_tokens %q: %w", tokens, err)
	}

	return &p, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
