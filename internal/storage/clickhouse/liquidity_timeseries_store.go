package clickhouse

import (
	"context"
	"fmt"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// LiquidityTimeseriesStore implements storage.LiquidityTimeseriesStore using ClickHouse.
type LiquidityTimeseriesStore struct {
	conn *Conn
}

// NewLiquidityTimeseriesStore creates a new LiquidityTimeseriesStore.
func NewLiquidityTimeseriesStore(conn *Conn) *LiquidityTimeseriesStore {
	return &LiquidityTimeseriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LiquidityTimeseriesStore = (*LiquidityTimeseriesStore)(nil)

// InsertBulk adds multiple samples. MergeTree does not enforce keys, so
// duplicates are checked within the batch and against stored rows first.
func (s *LiquidityTimeseriesStore) InsertBulk(ctx context.Context, samples []*domain.LiquiditySample) error {
	if len(samples) == 0 {
		return nil
	}

	type key struct {
		tokenID     string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(samples))
	for _, p := range samples {
		if p.TimestampMs < 0 || p.Slot < 0 {
			return storage.ErrInvalidInput
		}
		k := key{p.TokenID, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range samples {
		exists, err := s.exists(ctx, p.TokenID, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO liquidity_timeseries (token_id, timestamp_ms, slot, liquidity_usd)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		if err := batch.Append(p.TokenID, uint64(p.TimestampMs), uint64(p.Slot), p.LiquidityUSD); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetLatest retrieves the newest n samples for a token, ordered by timestamp ASC.
func (s *LiquidityTimeseriesStore) GetLatest(ctx context.Context, tokenID string, n int) ([]*domain.LiquiditySample, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT token_id, timestamp_ms, slot, liquidity_usd
		FROM (
			SELECT token_id, timestamp_ms, slot, liquidity_usd
			FROM liquidity_timeseries
			WHERE token_id = ?
			ORDER BY timestamp_ms DESC
			LIMIT ?
		)
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("query latest liquidity: %w", err)
	}
	defer rows.Close()

	return scanLiquiditySamples(rows)
}

// GetByTimeRange retrieves samples for a token within [start, end] (inclusive).
func (s *LiquidityTimeseriesStore) GetByTimeRange(ctx context.Context, tokenID string, start, end int64) ([]*domain.LiquiditySample, error) {
	query := `
		SELECT token_id, timestamp_ms, slot, liquidity_usd
		FROM liquidity_timeseries
		WHERE token_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanLiquiditySamples(rows)
}

func (s *LiquidityTimeseriesStore) exists(ctx context.Context, tokenID string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM liquidity_timeseries
		WHERE token_id = ? AND timestamp_ms = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, tokenID, uint64(timestampMs)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanLiquiditySamples(rows chRows) ([]*domain.LiquiditySample, error) {
	var samples []*domain.LiquiditySample

	for rows.Next() {
		var (
			p                 domain.LiquiditySample
			timestampMs, slot uint64
		)
		if err := rows.Scan(&p.TokenID, &timestampMs, &slot, &p.LiquidityUSD); err != nil {
			return nil, fmt.Errorf("scan liquidity row: %w", err)
		}
		p.TimestampMs = int64(timestampMs)
		p.Slot = int64(slot)
		samples = append(samples, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity rows: %w", err)
	}

	return samples, nil
}
