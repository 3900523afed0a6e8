// Package allocation hands out wallets from the funded pool. A wallet is
// free when it is enabled and has no open position; binding it to a token and
// opening the position happen in one transaction.
package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/ledger"
	"solana-position-engine/internal/storage"
)

// EntryParams describes a settled buy to record against a wallet.
type EntryParams = ledger.OpenParams

// Allocator owns the wallet pool.
type Allocator struct {
	wallets storage.WalletStore
	uow     storage.UnitOfWork
	ledger  *ledger.Ledger
	log     logrus.FieldLogger
}

// New creates an allocator.
func New(wallets storage.WalletStore, uow storage.UnitOfWork, l *ledger.Ledger, log logrus.FieldLogger) *Allocator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Allocator{
		wallets: wallets,
		uow:     uow,
		ledger:  l,
		log:     log.WithField("component", "allocation"),
	}
}

// FindFreeWallet returns the free wallet with the lowest id, or nil when the
// pool is exhausted.
func (a *Allocator) FindFreeWallet(ctx context.Context) (*domain.Wallet, error) {
	free, err := a.wallets.ListFree(ctx)
	if err != nil {
		return nil, fmt.Errorf("list free wallets: %w", err)
	}
	if len(free) == 0 {
		return nil, nil
	}
	return free[0], nil
}

// Bind locks walletID inside tx and points it at tokenID. It fails with
// storage.ErrAllocationConflict when the wallet stopped being free since it
// was selected.
func (a *Allocator) Bind(ctx context.Context, tx storage.Tx, walletID int64, tokenID string) error {
	w, err := tx.LockWallet(ctx, walletID)
	if err != nil {
		return fmt.Errorf("lock wallet %d: %w", walletID, err)
	}

	switch {
	case !w.Enabled():
		return fmt.Errorf("bind wallet %d: disabled: %w", walletID, storage.ErrAllocationConflict)
	case w.ActiveTokenID != nil:
		return fmt.Errorf("bind wallet %d: bound to %s: %w", walletID, *w.ActiveTokenID, storage.ErrAllocationConflict)
	}

	if _, err := tx.GetOpenByWallet(ctx, walletID); err == nil {
		return fmt.Errorf("bind wallet %d: has open position: %w", walletID, storage.ErrAllocationConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("bind wallet %d: %w", walletID, err)
	}

	if err := tx.SetActiveToken(ctx, walletID, &tokenID); err != nil {
		return fmt.Errorf("bind wallet %d: %w", walletID, err)
	}
	return nil
}

// Release unbinds walletID. It fails with storage.ErrNotBound when the
// wallet is not bound.
func (a *Allocator) Release(ctx context.Context, walletID int64) error {
	if err := a.wallets.ClearActiveToken(ctx, walletID); err != nil {
		return fmt.Errorf("release wallet %d: %w", walletID, err)
	}
	a.log.WithField("wallet_id", walletID).Info("wallet released")
	return nil
}

// ReleaseStale unbinds wallets that point at a token but have no open
// position, which happens when a close committed and the release did not.
// It returns the released wallet ids.
func (a *Allocator) ReleaseStale(ctx context.Context) ([]int64, error) {
	wallets, err := a.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	open, err := a.ledger.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	held := make(map[int64]struct{}, len(open))
	for _, p := range open {
		held[p.WalletID] = struct{}{}
	}

	var released []int64
	for _, w := range wallets {
		if w.ActiveTokenID == nil {
			continue
		}
		if _, ok := held[w.WalletID]; ok {
			continue
		}
		if err := a.wallets.ClearActiveToken(ctx, w.WalletID); err != nil && !errors.Is(err, storage.ErrNotBound) {
			return released, fmt.Errorf("release wallet %d: %w", w.WalletID, err)
		}
		a.log.WithFields(logrus.Fields{
			"wallet_id": w.WalletID,
			"token_id":  *w.ActiveTokenID,
		}).Warn("released stale wallet binding")
		released = append(released, w.WalletID)
	}
	return released, nil
}

// Enter binds the wallet and opens its position atomically. Either both
// happen or neither does; conflicts are returned, never retried.
func (a *Allocator) Enter(ctx context.Context, p EntryParams) (*domain.Position, error) {
	var pos *domain.Position
	err := a.uow.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := a.Bind(ctx, tx, p.WalletID, p.TokenID); err != nil {
			return err
		}
		var err error
		pos, err = a.ledger.Open(ctx, tx, p)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrAllocationConflict) {
			a.log.WithFields(logrus.Fields{
				"iteration": p.Iteration,
				"wallet_id": p.WalletID,
				"token_id":  p.TokenID,
			}).WithError(err).Error("allocation conflict")
		}
		return nil, err
	}
	return pos, nil
}
