package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

func seedWallets(t *testing.T, b *Book, entries ...float64) {
	t.Helper()
	ws := NewWalletStore(b)
	for i, amount := range entries {
		id := int64(i + 1)
		err := ws.Insert(context.Background(), &domain.Wallet{
			WalletID:       id,
			Address:        fmt.Sprintf("addr-%d", id),
			KeyRef:         fmt.Sprintf("wallet-%d", id),
			EntryAmountUSD: amount,
		})
		if err != nil {
			t.Fatalf("Insert wallet %d failed: %v", id, err)
		}
	}
}

func open(ctx context.Context, uow *UnitOfWork, walletID int64, tokenID string, iteration int64) (*domain.Position, error) {
	p := &domain.Position{
		WalletID:       walletID,
		TokenID:        tokenID,
		EntryIteration: iteration,
		EntryAmountUSD: 10,
		EntryPriceUSD:  1,
		EntrySignature: fmt.Sprintf("sig-%d-%s-%d", walletID, tokenID, iteration),
		OpenedAt:       time.Now(),
	}
	err := uow.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertPosition(ctx, p); err != nil {
			return err
		}
		return tx.SetActiveToken(ctx, walletID, &tokenID)
	})
	return p, err
}

func TestWalletStore_ListFreeOrdering(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10, 0, 10, 10)
	ctx := context.Background()

	if _, err := open(ctx, NewUnitOfWork(b), 3, "tok-a", 1); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	free, err := NewWalletStore(b).ListFree(ctx)
	if err != nil {
		t.Fatalf("ListFree failed: %v", err)
	}
	if len(free) != 2 || free[0].WalletID != 1 || free[1].WalletID != 4 {
		t.Fatalf("unexpected free wallets: %+v", free)
	}
}

func TestWalletStore_DuplicateAndNotFound(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10)
	ws := NewWalletStore(b)
	ctx := context.Background()

	err := ws.Insert(ctx, &domain.Wallet{WalletID: 1, Address: "other"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for id, got %v", err)
	}
	err = ws.Insert(ctx, &domain.Wallet{WalletID: 2, Address: "addr-1"})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for address, got %v", err)
	}
	if _, err := ws.GetByID(ctx, 5); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := ws.ClearActiveToken(ctx, 1); !errors.Is(err, storage.ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}
}

func TestWalletStore_ReturnsCopies(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10)
	ws := NewWalletStore(b)
	ctx := context.Background()

	w, _ := ws.GetByID(ctx, 1)
	w.EntryAmountUSD = 999

	again, _ := ws.GetByID(ctx, 1)
	if again.EntryAmountUSD != 10 {
		t.Errorf("stored wallet mutated through returned copy: %v", again.EntryAmountUSD)
	}
}

func TestUnitOfWork_UniquenessAndRollback(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10, 10)
	uow := NewUnitOfWork(b)
	ctx := context.Background()

	if _, err := open(ctx, uow, 1, "tok-a", 1); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := open(ctx, uow, 1, "tok-b", 2); !errors.Is(err, storage.ErrWalletAlreadyOpen) {
		t.Errorf("Expected ErrWalletAlreadyOpen, got %v", err)
	}
	if _, err := open(ctx, uow, 2, "tok-a", 2); !errors.Is(err, storage.ErrTokenAlreadyOpen) {
		t.Errorf("Expected ErrTokenAlreadyOpen, got %v", err)
	}

	boom := errors.New("boom")
	tokenID := "tok-c"
	err := uow.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.SetActiveToken(ctx, 2, &tokenID); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, &domain.Position{WalletID: 2, TokenID: tokenID, EntrySignature: "sig-x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	w, _ := NewWalletStore(b).GetByID(ctx, 2)
	if w.ActiveTokenID != nil {
		t.Errorf("rollback left active token %q", *w.ActiveTokenID)
	}
	if _, err := NewPositionStore(b).GetOpenByToken(ctx, tokenID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("rollback left open position, err=%v", err)
	}
}

func TestPositionStore_CloseAndMaxIteration(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10)
	ps := NewPositionStore(b)
	ctx := context.Background()

	p, err := open(ctx, NewUnitOfWork(b), 1, "tok-a", 4)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	c := storage.PositionClose{Iteration: 7, PriceUSD: 2, Signature: "sig-exit", Reason: domain.ExitReasonTimeout, ClosedAt: time.Now()}
	if err := ps.Close(ctx, p.PositionID, c); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ps.Close(ctx, p.PositionID, c); !errors.Is(err, storage.ErrAlreadyClosed) {
		t.Errorf("Expected ErrAlreadyClosed, got %v", err)
	}
	if err := ps.Close(ctx, 42, c); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	got, _ := ps.GetByID(ctx, p.PositionID)
	if got.IsOpen() || *got.ExitIteration != 7 || *got.ExitReason != domain.ExitReasonTimeout {
		t.Errorf("unexpected closed position: %+v", got)
	}

	maxIter, _ := ps.MaxIteration(ctx)
	if maxIter != 7 {
		t.Errorf("MaxIteration = %d, want 7", maxIter)
	}
}

func TestUnitOfWork_ConcurrentOpensSameToken(t *testing.T) {
	b := NewBook()
	seedWallets(t, b, 10, 10, 10, 10, 10, 10, 10, 10)
	uow := NewUnitOfWork(b)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for id := int64(1); id <= 8; id++ {
		wg.Add(1)
		go func(walletID int64) {
			defer wg.Done()
			if _, err := open(ctx, uow, walletID, "tok-a", 1); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("expected exactly one open, got %d", success)
	}
}
