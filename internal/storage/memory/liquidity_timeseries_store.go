package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// LiquidityTimeseriesStore is an in-memory implementation of storage.LiquidityTimeseriesStore.
type LiquidityTimeseriesStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LiquiditySample // keyed by (token_id, timestamp_ms)
}

// NewLiquidityTimeseriesStore creates a new in-memory liquidity timeseries store.
func NewLiquidityTimeseriesStore() *LiquidityTimeseriesStore {
	return &LiquidityTimeseriesStore{
		data: make(map[string]*domain.LiquiditySample),
	}
}

func liquidityKey(tokenID string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", tokenID, timestampMs)
}

// InsertBulk adds multiple samples. Fails entire batch on duplicate.
func (s *LiquidityTimeseriesStore) InsertBulk(_ context.Context, samples []*domain.LiquiditySample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(samples))
	for _, p := range samples {
		if p == nil || p.TokenID == "" || p.TimestampMs < 0 {
			return storage.ErrInvalidInput
		}
		key := liquidityKey(p.TokenID, p.TimestampMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range samples {
		sample := *p
		s.data[liquidityKey(p.TokenID, p.TimestampMs)] = &sample
	}
	return nil
}

// GetLatest retrieves the newest n samples for a token, ordered by timestamp ASC.
func (s *LiquidityTimeseriesStore) GetLatest(_ context.Context, tokenID string, n int) ([]*domain.LiquiditySample, error) {
	if n <= 0 {
		return nil, nil
	}

	result := s.filter(func(p *domain.LiquiditySample) bool { return p.TokenID == tokenID })
	if len(result) > n {
		result = result[len(result)-n:]
	}
	return result, nil
}

// GetByTimeRange retrieves samples for a token within [start, end] (inclusive).
func (s *LiquidityTimeseriesStore) GetByTimeRange(_ context.Context, tokenID string, start, end int64) ([]*domain.LiquiditySample, error) {
	return s.filter(func(p *domain.LiquiditySample) bool {
		return p.TokenID == tokenID && p.TimestampMs >= start && p.TimestampMs <= end
	}), nil
}

func (s *LiquidityTimeseriesStore) filter(keep func(*domain.LiquiditySample) bool) []*domain.LiquiditySample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LiquiditySample
	for _, p := range s.data {
		if keep(p) {
			sample := *p
			result = append(result, &sample)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result
}

var _ storage.LiquidityTimeseriesStore = (*LiquidityTimeseriesStore)(nil)
