// Package decision runs the periodic tick that exits and enters positions.
// Each tick first brings the ledger up to date with the settlement journal,
// then re-evaluates every open position, then walks the active tokens looking
// for entries. Ticks never overlap.
//
// A journal entry is marked recorded only after the matching ledger change
// has committed, so a trade that settled but was never recorded is picked up
// again on the next tick instead of being executed twice.
package decision

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/execution"
	"solana-position-engine/internal/forecast"
	"solana-position-engine/internal/ledger"
	"solana-position-engine/internal/observability"
	"solana-position-engine/internal/pricefeed"
	"solana-position-engine/internal/storage"
	"solana-position-engine/internal/tracing"
)

// Executor executes swaps.
type Executor interface {
	Buy(ctx context.Context, req execution.BuyRequest) *domain.TradeResult
	Sell(ctx context.Context, req execution.SellRequest) *domain.TradeResult
	Resume(ctx context.Context, req execution.ResumeRequest) *domain.TradeResult
}

// Allocator hands out wallets and records entries.
type Allocator interface {
	FindFreeWallet(ctx context.Context) (*domain.Wallet, error)
	Enter(ctx context.Context, p ledger.OpenParams) (*domain.Position, error)
	Release(ctx context.Context, walletID int64) error
	ReleaseStale(ctx context.Context) ([]int64, error)
}

// Ledger reads and closes positions.
type Ledger interface {
	OpenPositions(ctx context.Context) ([]*domain.Position, error)
	History(ctx context.Context, walletID int64) ([]*domain.Position, error)
	Close(ctx context.Context, positionID, iteration int64, priceUSD float64, d ledger.CloseDetails) error
	LastIteration(ctx context.Context) (int64, error)
}

// Blocklist reports permanently excluded tokens.
type Blocklist interface {
	IsBlocked(ctx context.Context, tokenID string) (bool, error)
}

// RiskScorer produces a fresh assessment for a token.
type RiskScorer interface {
	Score(ctx context.Context, tokenID string) (*domain.RiskAssessment, error)
}

// Config holds the trading policy.
type Config struct {
	Interval     time.Duration
	Threshold    float64 // minimum forecast p_hit to enter
	AllowedTiers []domain.RiskTier
	TargetReturn float64 // exit once price >= entry × (1 + TargetReturn)
	Timeout      time.Duration
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Second,
		Threshold:    0.6,
		AllowedTiers: []domain.RiskTier{domain.RiskTierLow},
		TargetReturn: 0.2,
		Timeout:      30 * time.Minute,
	}
}

// Options for creating Loop.
type Options struct {
	Tokens    storage.TokenStore
	Wallets   storage.WalletStore
	Journal   storage.SettlementStore
	Ledger    Ledger
	Allocator Allocator
	Blocklist Blocklist
	Risk      RiskScorer
	Forecast  forecast.Model
	Executor  Executor
	SOLPrice  execution.SOLPricer
	Prices    pricefeed.TokenPricer

	Config  Config
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
}

// Loop is the decision loop.
type Loop struct {
	tokens    storage.TokenStore
	wallets   storage.WalletStore
	journal   storage.SettlementStore
	ledger    Ledger
	allocator Allocator
	blocklist Blocklist
	risk      RiskScorer
	forecast  forecast.Model
	exec      Executor
	solPrice  execution.SOLPricer
	prices    pricefeed.TokenPricer

	cfg       Config
	evaluator *Evaluator
	metrics   *observability.Metrics
	log       logrus.FieldLogger
	now       func() time.Time

	tickMu    sync.Mutex
	iteration int64
	resumed   bool
	stale     bool // a release failed; sweep bindings next tick
}

// New creates a new Loop.
func New(opts Options) *Loop {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.AllowedTiers) == 0 {
		cfg.AllowedTiers = def.AllowedTiers
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Loop{
		tokens:    opts.Tokens,
		wallets:   opts.Wallets,
		journal:   opts.Journal,
		ledger:    opts.Ledger,
		allocator: opts.Allocator,
		blocklist: opts.Blocklist,
		risk:      opts.Risk,
		forecast:  opts.Forecast,
		exec:      opts.Executor,
		solPrice:  opts.SOLPrice,
		prices:    opts.Prices,
		cfg:       cfg,
		evaluator: NewEvaluator(cfg),
		metrics:   metrics,
		log:       log.WithField("component", "decision"),
		now:       time.Now,
	}
}

// Run ticks until ctx is done. Cancellation is observed between ticks; a
// tick in progress runs to completion on a context that is never canceled.
func (l *Loop) Run(ctx context.Context) error {
	if released, err := l.allocator.ReleaseStale(ctx); err != nil {
		l.log.WithError(err).Error("stale binding sweep failed")
	} else if len(released) > 0 {
		l.log.WithField("wallets", released).Warn("released stale bindings on start")
	}

	l.log.WithFields(logrus.Fields{
		"interval":      l.cfg.Interval,
		"threshold":     l.cfg.Threshold,
		"allowed_tiers": l.cfg.AllowedTiers,
		"target_return": l.cfg.TargetReturn,
		"timeout":       l.cfg.Timeout,
	}).Info("decision loop started")

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("decision loop stopped")
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			l.log.Info("decision loop stopped")
			return nil
		}
		l.Tick(context.WithoutCancel(ctx))
	}
}

// Tick runs one iteration. Panics are recovered and reported; concurrent
// calls are serialized.
func (l *Loop) Tick(ctx context.Context) (report TickReport) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	start := l.now()
	defer func() {
		if r := recover(); r != nil {
			report.Panicked = true
			l.log.WithFields(logrus.Fields{
				"iteration": report.Iteration,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("tick panicked")
		}
		report.Duration = l.now().Sub(start)
		l.metrics.RecordTick(report.Status(), report.Iteration, report.Duration)
	}()

	if !l.resumed {
		last, err := l.ledger.LastIteration(ctx)
		if err != nil {
			l.log.WithError(err).Error("load last iteration")
			report.Errors++
			return report
		}
		l.iteration = last
		l.resumed = true
	}
	l.iteration++
	report.Iteration = l.iteration

	ctx, span := tracing.StartSpan(ctx, "decision.tick", attribute.Int64("iteration", report.Iteration))
	defer func() {
		var err error
		if report.Panicked || report.Errors > 0 {
			err = fmt.Errorf("tick %d: %d errors", report.Iteration, report.Errors)
		}
		tracing.End(span, err)
	}()

	if l.stale {
		if _, err := l.allocator.ReleaseStale(ctx); err != nil {
			l.log.WithError(err).Error("stale binding sweep failed")
		} else {
			l.stale = false
		}
	}

	busy, ok := l.reconcile(ctx, &report)
	if !ok {
		return report
	}

	open, err := l.ledger.OpenPositions(ctx)
	if err != nil {
		l.log.WithError(err).Error("list open positions")
		report.Errors++
		return report
	}

	var opened, closed int
	held := make(map[string]struct{}, len(open))
	for _, p := range open {
		held[p.TokenID] = struct{}{}
		if _, ok := busy.wallets[p.WalletID]; ok {
			l.skip(&report, SkipInFlight)
			continue
		}
		if l.exitPosition(ctx, &report, p) {
			closed++
		}
	}
	report.Exits += closed

	tokens, err := l.tokens.ListActive(ctx)
	if err != nil {
		l.log.WithError(err).Error("list active tokens")
		report.Errors++
		return report
	}
	for _, t := range tokens {
		// A token sold this tick waits for the next one.
		if _, ok := held[t.TokenID]; ok {
			continue
		}
		if _, ok := busy.tokens[t.TokenID]; ok {
			l.skip(&report, SkipInFlight)
			continue
		}
		if l.enterToken(ctx, &report, t, busy) {
			held[t.TokenID] = struct{}{}
			opened++
		}
	}

	report.Entries += opened
	l.updateGauges(ctx)
	l.log.WithFields(logrus.Fields{
		"iteration": report.Iteration,
		"open":      len(open) - closed + opened,
		"entries":   report.Entries,
		"exits":     report.Exits,
		"skips":     report.Skips,
		"errors":    report.Errors,
	}).Debug("tick finished")

	return report
}

// inFlight holds the wallets and tokens of journaled trades that are not
// settled yet. They take no new trades this tick.
type inFlight struct {
	wallets map[int64]struct{}
	tokens  map[string]struct{}
}

// reconcile walks every submitted or confirmed journal entry, settles it
// through the executor without ever starting a new swap, and records the
// result in the ledger regardless of the current forecast. It reports false
// when the journal cannot be read; nothing may trade then.
func (l *Loop) reconcile(ctx context.Context, report *TickReport) (inFlight, bool) {
	busy := inFlight{
		wallets: make(map[int64]struct{}),
		tokens:  make(map[string]struct{}),
	}

	pending, err := l.journal.ListUnrecorded(ctx)
	if err != nil {
		l.log.WithError(err).Error("list unrecorded settlements")
		report.Errors++
		return busy, false
	}

	for _, s := range pending {
		// Touched tokens wait for the next tick either way.
		busy.tokens[s.TokenID] = struct{}{}
		if !l.settlePending(ctx, report, s) {
			busy.wallets[s.WalletID] = struct{}{}
		}
	}
	return busy, true
}

// settlePending finishes one journal entry. It reports whether the entry is
// out of flight: recorded in the ledger or known not to have landed.
func (l *Loop) settlePending(ctx context.Context, report *TickReport, s *domain.Settlement) bool {
	log := l.log.WithFields(logrus.Fields{
		"iteration": report.Iteration,
		"wallet_id": s.WalletID,
		"token_id":  s.TokenID,
		"side":      s.Side,
		"signature": s.Signature,
	})

	history, err := l.ledger.History(ctx, s.WalletID)
	if err != nil {
		log.WithError(err).Error("load wallet history")
		report.Errors++
		return false
	}
	var open *domain.Position
	for _, p := range history {
		if p.EntrySignature == s.Signature || (p.ExitSignature != nil && *p.ExitSignature == s.Signature) {
			// The ledger committed but the journal was not told.
			l.markRecorded(ctx, log, s.Signature)
			return true
		}
		if p.IsOpen() && p.TokenID == s.TokenID {
			open = p
		}
	}

	wallet, err := l.wallets.GetByID(ctx, s.WalletID)
	if err != nil {
		log.WithError(err).Error("load wallet")
		report.Errors++
		return false
	}
	token, err := l.tokens.GetByID(ctx, s.TokenID)
	if err != nil {
		log.WithError(err).Error("load token")
		report.Errors++
		return false
	}

	res := l.exec.Resume(ctx, execution.ResumeRequest{
		Side:      s.Side,
		Wallet:    wallet,
		TokenID:   token.TokenID,
		TokenMint: token.Mint,
		Signature: s.Signature,
	})
	if !res.Success {
		if cur, err := l.journal.GetBySignature(ctx, s.Signature); err == nil && !cur.Status.Unrecorded() {
			log.WithField("error", res.ErrorMessage).Info("journaled trade did not land")
			return true
		}
		log.WithFields(logrus.Fields{"stage": res.Stage, "error": res.ErrorMessage}).Warn("journaled trade still unsettled")
		return false
	}

	if s.Side == domain.SideBuy {
		if _, ok := l.recordEntry(ctx, report, log, wallet, token.TokenID, res); !ok {
			return false
		}
		report.Recovered++
		report.Entries++
		return true
	}

	if open == nil {
		log.Error("sold but no open position to close")
		report.Errors++
		return false
	}
	if !l.recordExit(ctx, report, log, open, s.Reason, res.PriceUSD, res) {
		return false
	}
	report.Recovered++
	report.Exits++
	return true
}

// exitPosition sells p if an exit criterion fires. It reports whether the
// position was closed.
func (l *Loop) exitPosition(ctx context.Context, report *TickReport, p *domain.Position) bool {
	log := l.log.WithFields(logrus.Fields{
		"iteration":   report.Iteration,
		"position_id": p.PositionID,
		"wallet_id":   p.WalletID,
		"token_id":    p.TokenID,
	})

	token, err := l.tokens.GetByID(ctx, p.TokenID)
	if err != nil {
		log.WithError(err).Error("load token")
		report.Errors++
		return false
	}

	price, err := l.prices.TokenPriceUSD(ctx, token.Mint)
	if err != nil {
		log.WithError(err).Debug("token price unavailable")
		price = 0
	}

	in := ExitInput{
		EntryPriceUSD: p.EntryPriceUSD,
		PriceUSD:      price,
		OpenedAt:      p.OpenedAt,
		Now:           l.now(),
	}
	reason := l.evaluator.ExitReason(in)
	if reason == "" {
		// Only ask the model when nothing cheaper fires.
		if f, err := l.forecast.Forecast(ctx, *token); err != nil {
			log.WithError(err).Debug("forecast unavailable")
		} else {
			in.Plan = f.Plan
			reason = l.evaluator.ExitReason(in)
		}
	}
	if reason == "" {
		return false
	}
	log = log.WithFields(logrus.Fields{"reason": reason, "price_usd": price})

	wallet, err := l.wallets.GetByID(ctx, p.WalletID)
	if err != nil {
		log.WithError(err).Error("load wallet")
		report.Errors++
		return false
	}

	res := l.exec.Sell(ctx, execution.SellRequest{
		Wallet:        wallet,
		TokenID:       token.TokenID,
		TokenMint:     token.Mint,
		TokenAmount:   p.EntryAmountTokens,
		TokenDecimals: token.Decimals,
		Reason:        reason,
	})
	if !res.Success {
		// Stays open; a journaled signature is settled by the next
		// reconcile, anything else is retried on the next tick.
		log.WithFields(logrus.Fields{"stage": res.Stage, "error": res.ErrorMessage}).Warn("sell failed")
		l.metrics.ExitsTotal.WithLabelValues(reason, "failed").Inc()
		report.FailedSells++
		return false
	}

	exitPrice := price
	if exitPrice <= 0 {
		exitPrice = res.PriceUSD
	}
	return l.recordExit(ctx, report, log, p, reason, exitPrice, res)
}

// recordExit closes p for a settled sell, frees its wallet and marks the
// signature recorded.
func (l *Loop) recordExit(ctx context.Context, report *TickReport, log logrus.FieldLogger, p *domain.Position, reason string, exitPrice float64, res *domain.TradeResult) bool {
	err := l.ledger.Close(ctx, p.PositionID, report.Iteration, exitPrice, ledger.CloseDetails{
		Signature: res.Signature,
		Reason:    reason,
	})
	if err != nil {
		log.WithError(err).WithField("signature", res.Signature).Error("sold but close failed")
		l.metrics.ExitsTotal.WithLabelValues(reason, "close_failed").Inc()
		report.Errors++
		return false
	}
	l.markRecorded(ctx, log, res.Signature)

	if err := l.allocator.Release(ctx, p.WalletID); err != nil {
		log.WithError(err).Error("release wallet")
		l.stale = true
		report.Errors++
	}

	l.metrics.ExitsTotal.WithLabelValues(reason, "closed").Inc()
	log.WithFields(logrus.Fields{
		"signature":       res.Signature,
		"exit_price_usd":  exitPrice,
		"settled_usd":     res.AmountUSD,
		"entry_price_usd": p.EntryPriceUSD,
	}).Info("position closed")
	return true
}

// enterToken buys t if every entry criterion passes. It reports whether a
// position was opened.
func (l *Loop) enterToken(ctx context.Context, report *TickReport, t *domain.Token, busy inFlight) bool {
	log := l.log.WithFields(logrus.Fields{
		"iteration": report.Iteration,
		"token_id":  t.TokenID,
	})

	blocked, err := l.blocklist.IsBlocked(ctx, t.TokenID)
	if err != nil {
		log.WithError(err).Error("blocklist check")
		report.Errors++
		return false
	}
	if blocked {
		l.skip(report, SkipBlocked)
		return false
	}

	in := l.entryInput(ctx, log, t, busy)
	d := l.evaluator.EvaluateEntry(in)
	if !d.Enter {
		l.skip(report, d.SkipReason)
		return false
	}
	wallet := in.Wallet
	log = log.WithFields(logrus.Fields{
		"wallet_id": wallet.WalletID,
		"p_hit":     in.Forecast.PHit,
		"tier":      in.Risk.Tier,
	})

	res := l.exec.Buy(ctx, execution.BuyRequest{
		Wallet:        wallet,
		TokenID:       t.TokenID,
		TokenMint:     t.Mint,
		AmountUSD:     wallet.EntryAmountUSD,
		TokenDecimals: t.Decimals,
	})
	if !res.Success {
		log.WithFields(logrus.Fields{"stage": res.Stage, "error": res.ErrorMessage}).Warn("buy failed")
		l.metrics.EntriesTotal.WithLabelValues("failed").Inc()
		report.FailedBuys++
		return false
	}

	_, ok := l.recordEntry(ctx, report, log, wallet, t.TokenID, res)
	return ok
}

// recordEntry binds the wallet and opens the position for a settled buy, then
// marks the signature recorded. On failure the signature stays confirmed in
// the journal and the next reconcile records it.
func (l *Loop) recordEntry(ctx context.Context, report *TickReport, log logrus.FieldLogger, wallet *domain.Wallet, tokenID string, res *domain.TradeResult) (*domain.Position, bool) {
	pos, err := l.allocator.Enter(ctx, ledger.OpenParams{
		WalletID:     wallet.WalletID,
		TokenID:      tokenID,
		Iteration:    report.Iteration,
		AmountUSD:    wallet.EntryAmountUSD,
		PriceUSD:     res.PriceUSD,
		AmountTokens: res.AmountTokens,
		Signature:    res.Signature,
	})
	if err != nil {
		result := "record_failed"
		if errors.Is(err, storage.ErrAllocationConflict) {
			result = "conflict"
		}
		log.WithError(err).WithField("signature", res.Signature).Error("bought but position not recorded")
		l.metrics.EntriesTotal.WithLabelValues(result).Inc()
		report.Errors++
		return nil, false
	}
	l.markRecorded(ctx, log, res.Signature)

	l.metrics.EntriesTotal.WithLabelValues("opened").Inc()
	log.WithFields(logrus.Fields{
		"position_id":     pos.PositionID,
		"signature":       res.Signature,
		"entry_price_usd": pos.EntryPriceUSD,
		"amount_tokens":   pos.EntryAmountTokens.String(),
	}).Info("position opened")
	return pos, true
}

// entryInput gathers the entry inputs. Lookup failures leave the
// corresponding field empty so the criterion fails.
func (l *Loop) entryInput(ctx context.Context, log logrus.FieldLogger, t *domain.Token, busy inFlight) EntryInput {
	var in EntryInput

	if f, err := l.forecast.Forecast(ctx, *t); err != nil {
		log.WithError(err).Warn("forecast unavailable")
	} else {
		in.Forecast = f
	}
	if in.Forecast == nil || in.Forecast.PHit < l.cfg.Threshold {
		return in
	}

	if r, err := l.risk.Score(ctx, t.TokenID); err != nil {
		log.WithError(err).Warn("risk unavailable")
	} else {
		in.Risk = r
	}

	if w, err := l.allocator.FindFreeWallet(ctx); err != nil {
		log.WithError(err).Warn("find free wallet")
	} else if w != nil {
		if _, ok := busy.wallets[w.WalletID]; ok {
			log.WithField("wallet_id", w.WalletID).Debug("free wallet has a trade in flight")
		} else {
			in.Wallet = w
		}
	}

	in.SOLPriceUSD = l.solPrice.SOLUSD()
	if p, err := l.prices.TokenPriceUSD(ctx, t.Mint); err != nil {
		log.WithError(err).Debug("token price unavailable")
	} else {
		in.TokenPriceUSD = p
	}
	return in
}

// markRecorded moves a signature to recorded. A failure is harmless: the
// next reconcile finds the ledger row and retries.
func (l *Loop) markRecorded(ctx context.Context, log logrus.FieldLogger, sig string) {
	if err := l.journal.Resolve(ctx, sig, domain.SettlementRecorded, l.now().UTC()); err != nil {
		log.WithError(err).WithField("signature", sig).Warn("journal not marked recorded")
	}
}

func (l *Loop) skip(report *TickReport, reason string) {
	report.skip(reason)
	l.metrics.SkipsTotal.WithLabelValues(reason).Inc()
}

func (l *Loop) updateGauges(ctx context.Context) {
	if open, err := l.ledger.OpenPositions(ctx); err == nil {
		l.metrics.OpenPositions.Set(float64(len(open)))
	}
	if free, err := l.wallets.ListFree(ctx); err == nil {
		l.metrics.FreeWallets.Set(float64(len(free)))
	}
}
