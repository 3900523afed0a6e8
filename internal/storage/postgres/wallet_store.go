package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// WalletStore implements storage.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

const walletColumns = `
	wallet_id, address, key_ref, cash_usd, entry_amount_usd, active_token_id, created_at, updated_at
`

// Insert adds a new wallet. Returns ErrDuplicateKey if wallet_id or address exists.
func (s *WalletStore) Insert(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (wallet_id, address, key_ref, cash_usd, entry_amount_usd, active_token_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		w.WalletID,
		w.Address,
		w.KeyRef,
		w.CashUSD,
		w.EntryAmountUSD,
		w.ActiveTokenID,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
func (s *WalletStore) GetByID(ctx context.Context, walletID int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_id = $1`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, walletID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// List retrieves all wallets ordered by wallet_id ASC.
func (s *WalletStore) List(ctx context.Context) ([]*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets ORDER BY wallet_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	return scanWallets(rows)
}

// ListFree retrieves wallets with entry_amount_usd > 0 and no open position,
// ordered by wallet_id ASC.
func (s *WalletStore) ListFree(ctx context.Context) ([]*domain.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets w
		WHERE w.entry_amount_usd > 0
		  AND NOT EXISTS (
			SELECT 1 FROM positions p
			WHERE p.wallet_id = w.wallet_id AND p.exit_iteration IS NULL
		  )
		ORDER BY w.wallet_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list free wallets: %w", err)
	}
	defer rows.Close()

	return scanWallets(rows)
}

// SetEntryAmount updates entry_amount_usd. Returns ErrNotFound if not exists.
func (s *WalletStore) SetEntryAmount(ctx context.Context, walletID int64, amountUSD float64) error {
	if amountUSD < 0 {
		return storage.ErrInvalidInput
	}
	return s.update(ctx, "set entry amount",
		`UPDATE wallets SET entry_amount_usd = $2, updated_at = NOW() WHERE wallet_id = $1`,
		walletID, amountUSD)
}

// SetCash updates the informational cash_usd balance. Returns ErrNotFound if not exists.
func (s *WalletStore) SetCash(ctx context.Context, walletID int64, cashUSD float64) error {
	return s.update(ctx, "set cash",
		`UPDATE wallets SET cash_usd = $2, updated_at = NOW() WHERE wallet_id = $1`,
		walletID, cashUSD)
}

// ClearActiveToken unbinds the wallet. Returns ErrNotBound if it was not bound.
func (s *WalletStore) ClearActiveToken(ctx context.Context, walletID int64) error {
	query := `
		UPDATE wallets SET active_token_id = NULL, updated_at = NOW()
		WHERE wallet_id = $1 AND active_token_id IS NOT NULL
	`

	tag, err := s.pool.Exec(ctx, query, walletID)
	if err != nil {
		return fmt.Errorf("clear active token: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, walletID); err != nil {
		return err
	}
	return storage.ErrNotBound
}

func (s *WalletStore) update(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanWallet scans a single row into a Wallet.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet

	err := row.Scan(
		&w.WalletID,
		&w.Address,
		&w.KeyRef,
		&w.CashUSD,
		&w.EntryAmountUSD,
		&w.ActiveTokenID,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// scanWallets scans multiple rows into a slice of Wallet.
func scanWallets(rows pgx.Rows) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet

	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}

	return wallets, nil
}
