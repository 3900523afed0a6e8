// Package ledger records the position history: one row per entry, closed in
// place on exit and never deleted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// Ledger owns position history.
type Ledger struct {
	positions storage.PositionStore
	log       logrus.FieldLogger
	now       func() time.Time
}

// New creates a ledger over positions.
func New(positions storage.PositionStore, log logrus.FieldLogger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{
		positions: positions,
		log:       log.WithField("component", "ledger"),
		now:       time.Now,
	}
}

// OpenParams describes a settled buy.
type OpenParams struct {
	WalletID     int64
	TokenID      string
	Iteration    int64
	AmountUSD    float64
	PriceUSD     float64
	AmountTokens decimal.Decimal
	Signature    string
	OpenedAt     time.Time // defaults to now
}

// CloseDetails describes a settled sell.
type CloseDetails struct {
	Signature string
	Reason    string
	ClosedAt  time.Time // defaults to now
}

// Open inserts an open position inside tx. It fails with
// storage.ErrWalletAlreadyOpen or storage.ErrTokenAlreadyOpen when either
// side already has an open row.
func (l *Ledger) Open(ctx context.Context, tx storage.Tx, p OpenParams) (*domain.Position, error) {
	if p.TokenID == "" || p.Signature == "" || p.AmountUSD <= 0 || p.PriceUSD <= 0 || !p.AmountTokens.IsPositive() {
		return nil, fmt.Errorf("open position: %w", storage.ErrInvalidInput)
	}
	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = l.now()
	}

	pos := &domain.Position{
		WalletID:          p.WalletID,
		TokenID:           p.TokenID,
		EntryIteration:    p.Iteration,
		EntryAmountUSD:    p.AmountUSD,
		EntryPriceUSD:     p.PriceUSD,
		EntryAmountTokens: p.AmountTokens,
		EntrySignature:    p.Signature,
		OpenedAt:          openedAt.UTC(),
	}

	log := l.log.WithFields(logrus.Fields{
		"iteration": p.Iteration,
		"wallet_id": p.WalletID,
		"token_id":  p.TokenID,
		"signature": p.Signature,
	})

	if err := tx.InsertPosition(ctx, pos); err != nil {
		if errors.Is(err, storage.ErrWalletAlreadyOpen) || errors.Is(err, storage.ErrTokenAlreadyOpen) {
			log.WithError(err).Error("position invariant violated on open")
		}
		return nil, fmt.Errorf("open position: %w", err)
	}

	log.WithFields(logrus.Fields{
		"position_id": pos.PositionID,
		"price_usd":   p.PriceUSD,
		"amount_usd":  p.AmountUSD,
	}).Info("position opened")
	return pos, nil
}

// Close records the exit of positionID. It fails with storage.ErrNotFound or
// storage.ErrAlreadyClosed.
func (l *Ledger) Close(ctx context.Context, positionID, iteration int64, priceUSD float64, d CloseDetails) error {
	closedAt := d.ClosedAt
	if closedAt.IsZero() {
		closedAt = l.now()
	}

	log := l.log.WithFields(logrus.Fields{
		"iteration":   iteration,
		"position_id": positionID,
		"signature":   d.Signature,
	})

	err := l.positions.Close(ctx, positionID, storage.PositionClose{
		Iteration: iteration,
		PriceUSD:  priceUSD,
		Signature: d.Signature,
		Reason:    d.Reason,
		ClosedAt:  closedAt.UTC(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyClosed) {
			log.WithError(err).Error("position invariant violated on close")
		}
		return fmt.Errorf("close position %d: %w", positionID, err)
	}

	log.WithFields(logrus.Fields{
		"price_usd": priceUSD,
		"reason":    d.Reason,
	}).Info("position closed")
	return nil
}

// OpenPositions returns every open position ordered by position_id.
func (l *Ledger) OpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return l.positions.ListOpen(ctx)
}

// History returns every position of walletID ordered by position_id.
func (l *Ledger) History(ctx context.Context, walletID int64) ([]*domain.Position, error) {
	return l.positions.ListByWallet(ctx, walletID)
}

// LastIteration returns the highest entry or exit iteration on record.
func (l *Ledger) LastIteration(ctx context.Context) (int64, error) {
	return l.positions.MaxIteration(ctx)
}
