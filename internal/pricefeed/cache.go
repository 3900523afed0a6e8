// Package pricefeed supplies USD prices: a shared SOL/USD cache kept fresh by
// a background poller, and per-token lookups against a Jupiter-style price
// API.
package pricefeed

import (
	"math"
	"sync/atomic"
	"time"
)

// WrappedSOLMint is the mint the price API quotes SOL under.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// Cache holds the latest SOL/USD price. Safe for concurrent use.
// A zero MaxAge disables staleness checks.
type Cache struct {
	MaxAge time.Duration

	bits    atomic.Uint64
	updated atomic.Int64 // unix nanos
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{MaxAge: maxAge, now: time.Now}
}

// Set stores price observed at at.
func (c *Cache) Set(price float64, at time.Time) {
	c.bits.Store(math.Float64bits(price))
	c.updated.Store(at.UnixNano())
}

// SOLUSD returns the cached price, or 0 when nothing is cached or the value
// is older than MaxAge.
func (c *Cache) SOLUSD() float64 {
	updated := c.updated.Load()
	if updated == 0 {
		return 0
	}
	if c.MaxAge > 0 {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		if now().Sub(time.Unix(0, updated)) > c.MaxAge {
			return 0
		}
	}
	return math.Float64frombits(c.bits.Load())
}

// UpdatedAt returns when the price was last set.
func (c *Cache) UpdatedAt() time.Time {
	updated := c.updated.Load()
	if updated == 0 {
		return time.Time{}
	}
	return time.Unix(0, updated)
}
