package storage

import (
	"context"
	"time"

	"solana-position-engine/internal/domain"
)

// WalletStore provides access to wallets storage.
type WalletStore interface {
	// Insert adds a new wallet. Returns ErrDuplicateKey if wallet_id or address exists.
	Insert(ctx context.Context, w *domain.Wallet) error

	// GetByID retrieves a wallet by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, walletID int64) (*domain.Wallet, error)

	// List retrieves all wallets ordered by wallet_id ASC.
	List(ctx context.Context) ([]*domain.Wallet, error)

	// ListFree retrieves wallets with entry_amount_usd > 0 and no open position,
	// ordered by wallet_id ASC.
	ListFree(ctx context.Context) ([]*domain.Wallet, error)

	// SetEntryAmount updates entry_amount_usd. Returns ErrNotFound if not exists.
	SetEntryAmount(ctx context.Context, walletID int64, amountUSD float64) error

	// SetCash updates the informational cash_usd balance. Returns ErrNotFound if not exists.
	SetCash(ctx context.Context, walletID int64, cashUSD float64) error

	// ClearActiveToken unbinds the wallet. Returns ErrNotBound if it was not bound.
	ClearActiveToken(ctx context.Context, walletID int64) error
}

// PositionClose holds the fields written when a position is closed.
type PositionClose struct {
	Iteration int64
	PriceUSD  float64
	Signature string
	Reason    string
	ClosedAt  time.Time
}

// PositionStore provides read access to positions and the close mutation.
// Opening a position goes through UnitOfWork so it is atomic with the wallet bind.
type PositionStore interface {
	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID int64) (*domain.Position, error)

	// ListOpen retrieves all open positions ordered by position_id ASC.
	ListOpen(ctx context.Context) ([]*domain.Position, error)

	// GetOpenByWallet retrieves the open position of a wallet. Returns ErrNotFound if none.
	GetOpenByWallet(ctx context.Context, walletID int64) (*domain.Position, error)

	// GetOpenByToken retrieves the open position of a token. Returns ErrNotFound if none.
	GetOpenByToken(ctx context.Context, tokenID string) (*domain.Position, error)

	// ListByWallet retrieves the full history of a wallet ordered by position_id ASC.
	ListByWallet(ctx context.Context, walletID int64) ([]*domain.Position, error)

	// Close marks a position closed. Returns ErrNotFound or ErrAlreadyClosed.
	Close(ctx context.Context, positionID int64, c PositionClose) error

	// MaxIteration returns the highest entry or exit iteration recorded, 0 if none.
	MaxIteration(ctx context.Context) (int64, error)
}

// Tx exposes the wallet and position operations that must share one
// transaction: binding a wallet and opening its position.
type Tx interface {
	// LockWallet retrieves a wallet and holds it for the rest of the transaction.
	// Returns ErrNotFound if not exists.
	LockWallet(ctx context.Context, walletID int64) (*domain.Wallet, error)

	// SetActiveToken sets or clears the wallet back-reference.
	SetActiveToken(ctx context.Context, walletID int64, tokenID *string) error

	// GetOpenByWallet retrieves the open position of a wallet. Returns ErrNotFound if none.
	GetOpenByWallet(ctx context.Context, walletID int64) (*domain.Position, error)

	// GetOpenByToken retrieves the open position of a token. Returns ErrNotFound if none.
	GetOpenByToken(ctx context.Context, tokenID string) (*domain.Position, error)

	// InsertPosition adds an open position and sets its PositionID.
	// Returns ErrWalletAlreadyOpen or ErrTokenAlreadyOpen on a uniqueness violation.
	InsertPosition(ctx context.Context, p *domain.Position) error
}

// UnitOfWork runs a function inside a single atomic transaction.
// If fn returns an error every change made through tx is discarded.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// TokenStore provides access to tokens storage.
type TokenStore interface {
	// Insert adds a new token. Returns ErrDuplicateKey if token_id exists.
	Insert(ctx context.Context, t *domain.Token) error

	// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tokenID string) (*domain.Token, error)

	// ListActive retrieves active tokens ordered by token_id ASC.
	ListActive(ctx context.Context) ([]*domain.Token, error)
}

// ClassificationStore provides access to the append-only token_classifications storage.
type ClassificationStore interface {
	// Insert appends a classification and sets its ID.
	Insert(ctx context.Context, c *domain.TokenClassification) error

	// GetByTokenID retrieves all classifications for a token ordered by created_at ASC.
	GetByTokenID(ctx context.Context, tokenID string) ([]*domain.TokenClassification, error)

	// HasAnyPattern reports whether any classification of the token has a
	// lower-cased pattern_code in codes.
	HasAnyPattern(ctx context.Context, tokenID string, codes []string) (bool, error)
}

// AuditStore provides access to token_audits storage.
type AuditStore interface {
	// Insert adds an audit snapshot.
	Insert(ctx context.Context, a *domain.AuditSnapshot) error

	// GetLatest retrieves the most recent snapshot. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, tokenID string) (*domain.AuditSnapshot, error)
}

// RiskAssessmentStore provides access to risk_assessments storage.
type RiskAssessmentStore interface {
	// Insert appends an assessment and sets its ID.
	Insert(ctx context.Context, r *domain.RiskAssessment) error

	// GetLatest retrieves the most recent assessment. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, tokenID string) (*domain.RiskAssessment, error)

	// GetByTokenID retrieves all assessments for a token ordered by id ASC.
	GetByTokenID(ctx context.Context, tokenID string) ([]*domain.RiskAssessment, error)
}

// LiquidityTimeseriesStore provides access to liquidity_timeseries storage.
type LiquidityTimeseriesStore interface {
	// InsertBulk adds multiple samples. Fails entire batch on duplicate (token_id, timestamp_ms).
	InsertBulk(ctx context.Context, samples []*domain.LiquiditySample) error

	// GetLatest retrieves the newest n samples for a token, ordered by timestamp ASC.
	GetLatest(ctx context.Context, tokenID string, n int) ([]*domain.LiquiditySample, error)

	// GetByTimeRange retrieves samples for a token within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, tokenID string, start, end int64) ([]*domain.LiquiditySample, error)
}

// SettlementStore provides access to the settlements journal.
type SettlementStore interface {
	// Insert journals a submitted signature. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, s *domain.Settlement) error

	// GetBySignature retrieves a journal entry. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.Settlement, error)

	// ListUnrecorded retrieves every submitted or confirmed entry, oldest first.
	ListUnrecorded(ctx context.Context) ([]*domain.Settlement, error)

	// Resolve sets the status of an entry. Returns ErrNotFound if not exists.
	Resolve(ctx context.Context, signature string, status domain.SettlementStatus, at time.Time) error
}
