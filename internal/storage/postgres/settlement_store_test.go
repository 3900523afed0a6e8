package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

func TestSettlementStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSettlementStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := &domain.Settlement{
		Signature: "sig-old",
		IntentID:  uuid.NewString(),
		WalletID:  1,
		TokenID:   "tok-a",
		Side:      domain.SideBuy,
		Status:    domain.SettlementSubmitted,
		CreatedAt: base,
	}
	newer := &domain.Settlement{
		Signature: "sig-new",
		IntentID:  uuid.NewString(),
		WalletID:  1,
		TokenID:   "tok-a",
		Side:      domain.SideSell,
		Status:    domain.SettlementSubmitted,
		Reason:    domain.ExitReasonTimeout,
		CreatedAt: base.Add(time.Second),
	}
	require.NoError(t, store.Insert(ctx, older))
	require.NoError(t, store.Insert(ctx, newer))
	assert.ErrorIs(t, store.Insert(ctx, newer), storage.ErrDuplicateKey)

	list, err := store.ListUnrecorded(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sig-old", list[0].Signature)
	assert.Equal(t, newer.IntentID, list[1].IntentID)
	assert.Equal(t, domain.ExitReasonTimeout, list[1].Reason)

	resolvedAt := base.Add(time.Minute)
	require.NoError(t, store.Resolve(ctx, "sig-new", domain.SettlementConfirmed, resolvedAt))

	got, err := store.GetBySignature(ctx, "sig-new")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementConfirmed, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got.ResolvedAt))

	list, err = store.ListUnrecorded(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2, "confirmed entries wait for the ledger")

	require.NoError(t, store.Resolve(ctx, "sig-new", domain.SettlementRecorded, resolvedAt))
	list, err = store.ListUnrecorded(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sig-old", list[0].Signature)

	assert.ErrorIs(t, store.Resolve(ctx, "sig-missing", domain.SettlementFailed, resolvedAt), storage.ErrNotFound)
	assert.ErrorIs(t, store.Resolve(ctx, "sig-old", domain.SettlementSubmitted, resolvedAt), storage.ErrInvalidInput)
}
