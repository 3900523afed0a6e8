package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

func TestPositionStore_OpenAndClose(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	seedToken(t, ctx, pool, "tok-a")
	seedWallet(t, ctx, pool, 1, 10)

	opened := openPosition(t, ctx, pool, 1, "tok-a", 5)
	require.NotZero(t, opened.PositionID)

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].IsOpen())
	assert.Equal(t, opened.EntrySignature, open[0].EntrySignature)
	assert.Equal(t, "123456789.123456789", open[0].EntryAmountTokens.String())

	byWallet, err := store.GetOpenByWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, opened.PositionID, byWallet.PositionID)

	byToken, err := store.GetOpenByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, opened.PositionID, byToken.PositionID)

	closedAt := time.Now().UTC().Truncate(time.Microsecond)
	err = store.Close(ctx, opened.PositionID, storage.PositionClose{
		Iteration: 9,
		PriceUSD:  0.75,
		Signature: "sig-exit-1",
		Reason:    domain.ExitReasonTargetReturn,
		ClosedAt:  closedAt,
	})
	require.NoError(t, err)

	got, err := store.GetByID(ctx, opened.PositionID)
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	assert.Equal(t, int64(9), *got.ExitIteration)
	assert.Equal(t, 0.75, *got.ExitPriceUSD)
	assert.Equal(t, "sig-exit-1", *got.ExitSignature)
	assert.Equal(t, domain.ExitReasonTargetReturn, *got.ExitReason)
	assert.True(t, closedAt.Equal(*got.ClosedAt))

	_, err = store.GetOpenByWallet(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Close(ctx, opened.PositionID, storage.PositionClose{Iteration: 10, Signature: "sig-exit-2"})
	assert.ErrorIs(t, err, storage.ErrAlreadyClosed)

	err = store.Close(ctx, 999, storage.PositionClose{Iteration: 10, Signature: "sig-exit-3"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	iteration, err := store.MaxIteration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), iteration)
}

func TestPositionStore_MaxIterationEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	iteration, err := NewPositionStore(pool).MaxIteration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), iteration)
}

func TestPositionStore_ListByWallet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)
	ctx := context.Background()

	seedToken(t, ctx, pool, "tok-a")
	seedToken(t, ctx, pool, "tok-b")
	seedWallet(t, ctx, pool, 1, 10)

	first := openPosition(t, ctx, pool, 1, "tok-a", 1)
	require.NoError(t, store.Close(ctx, first.PositionID, storage.PositionClose{
		Iteration: 2, PriceUSD: 0.4, Signature: "sig-exit-a", Reason: domain.ExitReasonTimeout, ClosedAt: time.Now(),
	}))
	second := openPosition(t, ctx, pool, 1, "tok-b", 3)

	history, err := store.ListByWallet(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.PositionID, history[0].PositionID)
	assert.Equal(t, second.PositionID, history[1].PositionID)
	assert.True(t, history[1].IsOpen())
}

func TestUnitOfWork_RejectsSecondOpenPerWalletAndToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	uow := NewUnitOfWork(pool)
	ctx := context.Background()

	seedToken(t, ctx, pool, "tok-a")
	seedToken(t, ctx, pool, "tok-b")
	seedWallet(t, ctx, pool, 1, 10)
	seedWallet(t, ctx, pool, 2, 10)

	openPosition(t, ctx, pool, 1, "tok-a", 1)

	insert := func(walletID int64, tokenID, sig string) error {
		return uow.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertPosition(ctx, &domain.Position{
				WalletID:       walletID,
				TokenID:        tokenID,
				EntryIteration: 2,
				EntrySignature: sig,
				OpenedAt:       time.Now(),
			})
		})
	}

	assert.ErrorIs(t, insert(1, "tok-b", "sig-w"), storage.ErrWalletAlreadyOpen)
	assert.ErrorIs(t, insert(2, "tok-a", "sig-t"), storage.ErrTokenAlreadyOpen)
}

func TestUnitOfWork_RollbackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedToken(t, ctx, pool, "tok-a")
	seedWallet(t, ctx, pool, 1, 10)

	boom := errors.New("boom")
	tokenID := "tok-a"
	err := NewUnitOfWork(pool).WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		w, err := tx.LockWallet(ctx, 1)
		require.NoError(t, err)
		require.Nil(t, w.ActiveTokenID)

		require.NoError(t, tx.SetActiveToken(ctx, 1, &tokenID))
		require.NoError(t, tx.InsertPosition(ctx, &domain.Position{
			WalletID: 1, TokenID: tokenID, EntryIteration: 1, EntrySignature: "sig-rb", OpenedAt: time.Now(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := NewWalletStore(pool).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, w.ActiveTokenID)

	open, err := NewPositionStore(pool).ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUnitOfWork_ConcurrentOpensSameToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	uow := NewUnitOfWork(pool)
	ctx := context.Background()

	seedToken(t, ctx, pool, "tok-a")
	for id := int64(1); id <= 4; id++ {
		seedWallet(t, ctx, pool, id, 10)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for id := int64(1); id <= 4; id++ {
		wg.Add(1)
		go func(walletID int64) {
			defer wg.Done()
			tokenID := "tok-a"
			err := uow.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				if _, err := tx.LockWallet(ctx, walletID); err != nil {
					return err
				}
				if err := tx.InsertPosition(ctx, &domain.Position{
					WalletID:       walletID,
					TokenID:        tokenID,
					EntryIteration: 1,
					EntrySignature: "sig-race-" + string(rune('0'+walletID)),
					OpenedAt:       time.Now(),
				}); err != nil {
					return err
				}
				return tx.SetActiveToken(ctx, walletID, &tokenID)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, storage.ErrTokenAlreadyOpen)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}
