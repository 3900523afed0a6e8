// Package blocklist decides whether a token was ever classified with a
// pattern that bars it from entry. Classifications are append-only, so once a
// token is blocked it stays blocked for the life of the process and beyond.
package blocklist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/storage"
)

// BlockedPatterns are the pattern codes that block a token, lower-cased.
var BlockedPatterns = []string{
	"rug_prequel",
	"black_hole",
	"flatliner",
	"death_spike",
	"smoke_bomb",
	"mirage_rise",
	"panic_sink",
	"tug_of_war",
}

// IsBlockedPattern reports whether code is in BlockedPatterns, ignoring case.
func IsBlockedPattern(code string) bool {
	code = strings.ToLower(code)
	for _, p := range BlockedPatterns {
		if p == code {
			return true
		}
	}
	return false
}

// Blocklist answers IsBlocked from the classification history.
// Only positive answers are cached: a negative can turn positive when a new
// classification arrives.
type Blocklist struct {
	store storage.ClassificationStore
	log   logrus.FieldLogger

	mu      sync.RWMutex
	blocked map[string]struct{}
}

// New creates a blocklist over store.
func New(store storage.ClassificationStore, log logrus.FieldLogger) *Blocklist {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Blocklist{
		store:   store,
		log:     log.WithField("component", "blocklist"),
		blocked: make(map[string]struct{}),
	}
}

// IsBlocked reports whether any classification of tokenID carries a blocked
// pattern.
func (b *Blocklist) IsBlocked(ctx context.Context, tokenID string) (bool, error) {
	b.mu.RLock()
	_, cached := b.blocked[tokenID]
	b.mu.RUnlock()
	if cached {
		return true, nil
	}

	blocked, err := b.store.HasAnyPattern(ctx, tokenID, BlockedPatterns)
	if err != nil {
		return false, fmt.Errorf("blocklist %s: %w", tokenID, err)
	}
	if blocked {
		b.mark(tokenID)
	}
	return blocked, nil
}

// Classify appends a classification record. A blocked pattern is cached
// immediately.
func (b *Blocklist) Classify(ctx context.Context, c *domain.TokenClassification) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := b.store.Insert(ctx, c); err != nil {
		return fmt.Errorf("classify %s: %w", c.TokenID, err)
	}
	if IsBlockedPattern(c.PatternCode) {
		b.mark(c.TokenID)
		b.log.WithFields(logrus.Fields{
			"token_id": c.TokenID,
			"pattern":  c.PatternCode,
			"source":   c.Source,
		}).Info("token blocked")
	}
	return nil
}

func (b *Blocklist) mark(tokenID string) {
	b.mu.Lock()
	b.blocked[tokenID] = struct{}{}
	b.mu.Unlock()
}
