package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// UnitOfWork implements storage.UnitOfWork on a read-committed transaction.
// Wallet rows are locked with SELECT ... FOR UPDATE so concurrent binds of the
// same wallet serialize; the partial unique indexes on positions catch the rest.
type UnitOfWork struct {
	pool *Pool
}

// NewUnitOfWork creates a new UnitOfWork.
func NewUnitOfWork(pool *Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.UnitOfWork = (*UnitOfWork)(nil)
	_ storage.Tx         = (*txStore)(nil)
)

// WithinTx runs fn in one transaction. The transaction commits only if fn
// returns nil.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if c := uniqueViolation(err); c != "" {
			return mapOpenViolation(c)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txStore is the storage.Tx view of an open pgx transaction.
type txStore struct {
	tx pgx.Tx
}

func (t *txStore) LockWallet(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_id = $1 FOR UPDATE`

	w, err := scanWallet(t.tx.QueryRow(ctx, query, walletID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (t *txStore) SetActiveToken(ctx context.Context, walletID int64, tokenID *string) error {
	query := `UPDATE wallets SET active_token_id = $2, updated_at = NOW() WHERE wallet_id = $1`

	tag, err := t.tx.Exec(ctx, query, walletID, tokenID)
	if err != nil {
		return fmt.Errorf("set active token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *txStore) GetOpenByWallet(ctx context.Context, walletID int64) (*domain.Position, error) {
	return getOpenByWallet(ctx, t.tx, walletID)
}

func (t *txStore) GetOpenByToken(ctx context.Context, tokenID string) (*domain.Position, error) {
	return getOpenByToken(ctx, t.tx, tokenID)
}

func (t *txStore) InsertPosition(ctx context.Context, p *domain.Position) error {
	if p.ExitIteration != nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (
			wallet_id, token_id, entry_iteration,
			entry_amount_usd, entry_price_usd, entry_amount_tokens, entry_signature, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)
		RETURNING position_id
	`

	err := t.tx.QueryRow(ctx, query,
		p.WalletID,
		p.TokenID,
		p.EntryIteration,
		p.EntryAmountUSD,
		p.EntryPriceUSD,
		p.EntryAmountTokens.String(),
		p.EntrySignature,
		p.OpenedAt,
	).Scan(&p.PositionID)
	if err != nil {
		if c := uniqueViolation(err); c != "" {
			return mapOpenViolation(c)
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func mapOpenViolation(constraint string) error {
	switch constraint {
	case openWalletIndex:
		return storage.ErrWalletAlreadyOpen
	case openTokenIndex:
		return storage.ErrTokenAlreadyOpen
	default:
		return storage.ErrDuplicateKey
	}
}

