package pricefeed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"solana-position-engine/internal/observability"
)

// DefaultPollInterval is the refresh period when none is configured.
const DefaultPollInterval = 10 * time.Second

// TokenPricer returns a USD price for a mint.
type TokenPricer interface {
	TokenPriceUSD(ctx context.Context, mint string) (float64, error)
}

// Poller keeps a Cache filled with SOL/USD.
type Poller struct {
	source   TokenPricer
	cache    *Cache
	interval time.Duration
	log      logrus.FieldLogger
}

// NewPoller creates a poller writing into cache.
func NewPoller(source TokenPricer, cache *Cache, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		source:   source,
		cache:    cache,
		interval: interval,
		log:      log.WithField("component", "pricefeed"),
	}
}

// Refresh fetches SOL/USD once and stores it.
func (p *Poller) Refresh(ctx context.Context) error {
	price, err := p.source.TokenPriceUSD(ctx, WrappedSOLMint)
	now := time.Now()
	observability.RecordSOLPrice(price, now, err)
	if err != nil {
		return err
	}
	p.cache.Set(price, now)
	return nil
}

// Run refreshes immediately and then every interval until ctx is done.
// Failures keep the previous value; the cache's MaxAge decides when it
// stops being served.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Warn("sol price refresh failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
