package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

func TestLiquidityTimeseriesStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLiquidityTimeseriesStore(conn)
	ctx := context.Background()

	assert.NoError(t, store.InsertBulk(ctx, nil))

	err := store.InsertBulk(ctx, []*domain.LiquiditySample{
		{TokenID: "tok-1", TimestampMs: 1000, Slot: 100, LiquidityUSD: 10000},
	})
	require.NoError(t, err)

	got, err := store.GetByTimeRange(ctx, "tok-1", 0, 2000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tok-1", got[0].TokenID)
	assert.Equal(t, int64(1000), got[0].TimestampMs)
	assert.Equal(t, int64(100), got[0].Slot)
	assert.Equal(t, 10000.0, got[0].LiquidityUSD)
}

func TestLiquidityTimeseriesStore_InsertBulk_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLiquidityTimeseriesStore(conn)
	ctx := context.Background()

	dup := []*domain.LiquiditySample{
		{TokenID: "tok-1", TimestampMs: 1000, LiquidityUSD: 1},
		{TokenID: "tok-1", TimestampMs: 1000, LiquidityUSD: 2},
	}
	assert.ErrorIs(t, store.InsertBulk(ctx, dup), storage.ErrDuplicateKey)

	require.NoError(t, store.InsertBulk(ctx, dup[:1]))
	assert.ErrorIs(t, store.InsertBulk(ctx, dup[1:]), storage.ErrDuplicateKey)
}

func TestLiquidityTimeseriesStore_GetLatest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLiquidityTimeseriesStore(conn)
	ctx := context.Background()

	var samples []*domain.LiquiditySample
	for i := int64(1); i <= 20; i++ {
		samples = append(samples, &domain.LiquiditySample{
			TokenID: "tok-1", TimestampMs: i * 1000, Slot: i, LiquidityUSD: float64(i),
		})
	}
	samples = append(samples, &domain.LiquiditySample{TokenID: "tok-2", TimestampMs: 99000, LiquidityUSD: 7})
	require.NoError(t, store.InsertBulk(ctx, samples))

	got, err := store.GetLatest(ctx, "tok-1", 15)
	require.NoError(t, err)
	require.Len(t, got, 15)
	assert.Equal(t, int64(6000), got[0].TimestampMs)
	assert.Equal(t, int64(20000), got[14].TimestampMs)

	got, err = store.GetLatest(ctx, "tok-3", 15)
	require.NoError(t, err)
	assert.Empty(t, got)
}
