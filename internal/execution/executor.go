// Package execution runs buy and sell swaps through the aggregator:
// quote, build, sign, submit and confirm. Settled amounts are read back from
// the confirmed transaction, never taken from the quote.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/observability"
	"solana-position-engine/internal/pricefeed"
	"solana-position-engine/internal/retry"
	"solana-position-engine/internal/solana"
	"solana-position-engine/internal/storage"
	"solana-position-engine/internal/tracing"
)

// KeySource resolves a wallet's key_ref to its signing key.
type KeySource interface {
	Keypair(keyRef string) (*solana.Keypair, error)
}

// SOLPricer returns the latest SOL/USD price, 0 when unavailable.
type SOLPricer interface {
	SOLUSD() float64
}

// Config tunes the pipeline.
type Config struct {
	SlippageBps    int
	Commitment     solana.Commitment
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// UnknownGrace is how long a journaled signature the node does not know
	// is still treated as possibly in flight. Within it the executor refuses
	// to resubmit.
	UnknownGrace time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SlippageBps:    300,
		Commitment:     solana.CommitmentFinalized,
		ConfirmTimeout: 90 * time.Second,
		PollInterval:   2 * time.Second,
		UnknownGrace:   90 * time.Second,
	}
}

// Options for creating Executor.
type Options struct {
	DEX     DEX
	RPC     solana.RPCClient
	Watcher solana.SignatureWatcher // optional
	Keys    KeySource
	Journal storage.SettlementStore
	Prices  SOLPricer

	Config  Config
	Policy  retry.Policy
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger
}

// Executor runs trades. It holds no trade state of its own; every submitted
// signature goes through the journal.
type Executor struct {
	dex     DEX
	rpc     solana.RPCClient
	watcher solana.SignatureWatcher
	keys    KeySource
	journal storage.SettlementStore
	prices  SOLPricer

	cfg     Config
	policy  retry.Policy
	metrics *observability.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// New creates an Executor.
func New(opts Options) *Executor {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = def.SlippageBps
	}
	if !cfg.Commitment.IsValid() {
		cfg.Commitment = def.Commitment
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Executor{
		dex:     opts.DEX,
		rpc:     opts.RPC,
		watcher: opts.Watcher,
		keys:    opts.Keys,
		journal: opts.Journal,
		prices:  opts.Prices,
		cfg:     cfg,
		policy:  policy,
		metrics: metrics,
		log:     log.WithField("component", "execution"),
		now:     time.Now,
	}
}

// BuyRequest spends AmountUSD worth of SOL on TokenMint.
type BuyRequest struct {
	Wallet        *domain.Wallet
	TokenID       string
	TokenMint     string
	AmountUSD     float64
	TokenDecimals int
	// PriorSignature is a journaled signature of an earlier attempt of the
	// same intent. It is checked before anything new is submitted.
	PriorSignature string
}

// SellRequest sells TokenAmount (UI units) of TokenMint for SOL.
type SellRequest struct {
	Wallet         *domain.Wallet
	TokenID        string
	TokenMint      string
	TokenAmount    decimal.Decimal
	TokenDecimals  int
	Reason         string // exit reason, journaled with the signature
	PriorSignature string
}

// ResumeRequest names a journaled signature to finish. Resume never starts a
// new swap.
type ResumeRequest struct {
	Side      domain.Side
	Wallet    *domain.Wallet
	TokenID   string
	TokenMint string
	Signature string
}

// order is one buy or sell intent flowing through the pipeline.
type order struct {
	side       domain.Side
	wallet     *domain.Wallet
	tokenID    string
	mint       string
	inputMint  string
	outputMint string
	amount     decimal.Decimal // raw input units
	prior      string
	intentID   string
	reason     string
}

// Buy executes a buy. Failures are reported in the result, never as a
// fabricated success.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) *domain.TradeResult {
	o := order{
		side:       domain.SideBuy,
		wallet:     req.Wallet,
		tokenID:    req.TokenID,
		mint:       req.TokenMint,
		inputMint:  pricefeed.WrappedSOLMint,
		outputMint: req.TokenMint,
		prior:      req.PriorSignature,
	}
	if err := validate(req.Wallet, req.TokenMint); err != nil {
		return e.fail(ctx, o, StageValidate, "", err)
	}
	if req.AmountUSD <= 0 {
		return e.fail(ctx, o, StageValidate, "", fmt.Errorf("amount_usd %v must be positive", req.AmountUSD))
	}

	solUSD := e.prices.SOLUSD()
	if solUSD <= 0 {
		return e.fail(ctx, o, StagePrice, "", ErrPriceUnavailable)
	}

	o.amount = decimal.NewFromFloat(req.AmountUSD).
		Div(decimal.NewFromFloat(solUSD)).
		Shift(9).
		Floor()
	if !o.amount.IsPositive() {
		return e.fail(ctx, o, StageValidate, "", fmt.Errorf("amount_usd %v is below one lamport", req.AmountUSD))
	}

	return e.execute(ctx, o, solUSD)
}

// Sell executes a sell.
func (e *Executor) Sell(ctx context.Context, req SellRequest) *domain.TradeResult {
	o := order{
		side:       domain.SideSell,
		wallet:     req.Wallet,
		tokenID:    req.TokenID,
		mint:       req.TokenMint,
		inputMint:  req.TokenMint,
		outputMint: pricefeed.WrappedSOLMint,
		prior:      req.PriorSignature,
		reason:     req.Reason,
	}
	if err := validate(req.Wallet, req.TokenMint); err != nil {
		return e.fail(ctx, o, StageValidate, "", err)
	}

	solUSD := e.prices.SOLUSD()
	if solUSD <= 0 {
		return e.fail(ctx, o, StagePrice, "", ErrPriceUnavailable)
	}

	o.amount = req.TokenAmount.
		Shift(int32(req.TokenDecimals)).
		Floor()
	if !o.amount.IsPositive() {
		return e.fail(ctx, o, StageValidate, "", fmt.Errorf("token amount %v must be positive", req.TokenAmount))
	}

	return e.execute(ctx, o, solUSD)
}

// Resume settles a journaled signature that may have landed. It fails with
// ErrNotLanded when the signature is known to have failed or has been
// unknown for longer than UnknownGrace; the journal entry is then failed.
func (e *Executor) Resume(ctx context.Context, req ResumeRequest) (res *domain.TradeResult) {
	o := order{
		side:    req.Side,
		wallet:  req.Wallet,
		tokenID: req.TokenID,
		mint:    req.TokenMint,
		prior:   req.Signature,
	}
	if err := validate(req.Wallet, req.TokenMint); err != nil {
		return e.fail(ctx, o, StageValidate, req.Signature, err)
	}
	if !req.Side.IsValid() || req.Signature == "" {
		return e.fail(ctx, o, StageValidate, req.Signature, errors.New("side and signature are required"))
	}

	solUSD := e.prices.SOLUSD()
	if solUSD <= 0 {
		return e.fail(ctx, o, StagePrice, req.Signature, ErrPriceUnavailable)
	}

	ctx, span := tracing.StartSpan(ctx, "execution.resume", o.attributes()...)
	defer func() {
		var err error
		if !res.Success {
			err = errors.New(res.ErrorMessage)
		}
		tracing.End(span, err)
		e.metrics.RecordTrade(string(o.side), res.Success)
	}()

	if res, done := e.resume(ctx, &o, solUSD); done {
		return res
	}
	return e.fail(ctx, o, StageResume, req.Signature, ErrNotLanded)
}

func validate(w *domain.Wallet, mint string) error {
	if w == nil {
		return errors.New("wallet is required")
	}
	if err := solana.ValidateAddress(mint); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if err := solana.ValidateAddress(w.Address); err != nil {
		return fmt.Errorf("wallet %d: %w", w.WalletID, err)
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, o order, solUSD float64) (res *domain.TradeResult) {
	ctx, span := tracing.StartSpan(ctx, "execution."+string(o.side), o.attributes()...)
	defer func() {
		var err error
		if !res.Success {
			err = errors.New(res.ErrorMessage)
		}
		tracing.End(span, err)
		e.metrics.RecordTrade(string(o.side), res.Success)
	}()

	if o.prior != "" {
		if res, done := e.resume(ctx, &o, solUSD); done {
			return res
		}
	}
	if o.intentID == "" {
		o.intentID = uuid.NewString()
	}

	var quote *Quote
	err := e.stage(ctx, o, StageQuote, func(ctx context.Context) error {
		var err error
		quote, err = e.dex.Quote(ctx, QuoteRequest{
			InputMint:   o.inputMint,
			OutputMint:  o.outputMint,
			Amount:      o.amount.String(),
			SlippageBps: e.cfg.SlippageBps,
		})
		return err
	})
	if err != nil {
		return e.fail(ctx, o, StageQuote, "", err)
	}

	var unsigned string
	err = e.stage(ctx, o, StageBuild, func(ctx context.Context) error {
		var err error
		unsigned, err = e.dex.BuildSwap(ctx, quote, o.wallet.Address)
		return err
	})
	if err != nil {
		return e.fail(ctx, o, StageBuild, "", err)
	}

	var signed, sig string
	err = e.stage(ctx, o, StageSign, func(context.Context) error {
		kp, err := e.keys.Keypair(o.wallet.KeyRef)
		if err != nil {
			return err
		}
		if kp.Address() != o.wallet.Address {
			return fmt.Errorf("key %s does not belong to wallet %s", o.wallet.KeyRef, o.wallet.Address)
		}
		signed, sig, err = kp.SignTransaction(unsigned)
		return err
	})
	if err != nil {
		return e.fail(ctx, o, StageSign, "", err)
	}

	// The signature is durable before the relay sees the transaction.
	err = e.stage(ctx, o, StageJournal, func(ctx context.Context) error {
		return e.journal.Insert(ctx, &domain.Settlement{
			Signature: sig,
			IntentID:  o.intentID,
			WalletID:  o.wallet.WalletID,
			TokenID:   o.tokenID,
			Side:      o.side,
			Status:    domain.SettlementSubmitted,
			Reason:    o.reason,
			CreatedAt: e.now().UTC(),
		})
	})
	if err != nil {
		return e.fail(ctx, o, StageJournal, "", err)
	}

	err = e.stage(ctx, o, StageSubmit, func(ctx context.Context) error {
		relayed, err := e.rpc.SendTransaction(ctx, signed)
		if err != nil {
			return err
		}
		if relayed != sig {
			e.log.WithFields(logrus.Fields{
				"signature": sig,
				"relayed":   relayed,
			}).Warn("relay returned a different signature")
		}
		return nil
	})
	if err != nil {
		e.resolve(ctx, sig, domain.SettlementFailed)
		return e.fail(ctx, o, StageSubmit, "", err)
	}

	e.log.WithFields(o.fields()).WithField("signature", sig).Info("transaction submitted")
	return e.confirmAndSettle(ctx, o, sig, solUSD)
}

// resume checks a prior attempt. done is false when the prior is known not to
// have landed; its journal entry has been failed by then.
func (e *Executor) resume(ctx context.Context, o *order, solUSD float64) (res *domain.TradeResult, done bool) {
	var journaled *domain.Settlement
	if s, err := e.journal.GetBySignature(ctx, o.prior); err == nil {
		journaled = s
		o.intentID = s.IntentID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return e.fail(ctx, *o, StageResume, o.prior, err), true
	}

	var status *solana.SignatureStatus
	err := e.stage(ctx, *o, StageResume, func(ctx context.Context) error {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{o.prior})
		if err != nil {
			return err
		}
		if len(statuses) > 0 {
			status = statuses[0]
		}
		return nil
	})
	if err != nil {
		// Unknown state: resubmitting could double-execute.
		return e.fail(ctx, *o, StageResume, o.prior, err), true
	}

	log := e.log.WithFields(o.fields()).WithField("signature", o.prior)
	switch {
	case status == nil:
		if journaled != nil && e.now().Sub(journaled.CreatedAt) < e.cfg.UnknownGrace {
			return e.fail(ctx, *o, StageResume, o.prior, errors.New("prior signature not yet visible")), true
		}
		log.Info("prior signature unknown, starting fresh")
		e.resolve(ctx, o.prior, domain.SettlementFailed)
		return nil, false
	case status.Failed():
		log.WithField("tx_err", status.Err).Info("prior signature failed, starting fresh")
		e.resolve(ctx, o.prior, domain.SettlementFailed)
		return nil, false
	default:
		log.WithField("status", status.ConfirmationStatus).Info("prior signature landed, settling")
		return e.confirmAndSettle(ctx, *o, o.prior, solUSD), true
	}
}

func (e *Executor) confirmAndSettle(ctx context.Context, o order, sig string, solUSD float64) *domain.TradeResult {
	err := e.stage(ctx, o, StageConfirm, func(ctx context.Context) error {
		return e.confirm(ctx, sig)
	})
	if err != nil {
		if errors.Is(err, ErrTransactionFailed) {
			e.resolve(ctx, sig, domain.SettlementFailed)
		}
		return e.fail(ctx, o, StageConfirm, sig, err)
	}

	var res *domain.TradeResult
	err = e.stage(ctx, o, StageSettle, func(ctx context.Context) error {
		var err error
		res, err = e.settle(ctx, o, sig, solUSD)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTransactionFailed) {
			e.resolve(ctx, sig, domain.SettlementFailed)
		}
		return e.fail(ctx, o, StageSettle, sig, err)
	}

	e.resolve(ctx, sig, domain.SettlementConfirmed)
	e.log.WithContext(ctx).WithFields(o.fields()).WithFields(logrus.Fields{
		"signature":     sig,
		"amount_tokens": res.AmountTokens.String(),
		"amount_sol":    res.AmountSOL,
		"price_usd":     res.PriceUSD,
	}).Info("trade settled")
	return res
}

// stage runs fn inside a span and records its latency.
func (e *Executor) stage(ctx context.Context, o order, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "execution."+name, o.attributes()...)
	start := time.Now()
	err := fn(ctx)
	e.metrics.RecordStage(string(o.side), name, time.Since(start), err)
	tracing.End(span, err)
	return err
}

func (e *Executor) resolve(ctx context.Context, sig string, status domain.SettlementStatus) {
	if err := e.journal.Resolve(ctx, sig, status, e.now().UTC()); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"signature": sig,
			"status":    status,
		}).Error("journal resolve failed")
	}
}

func (e *Executor) fail(ctx context.Context, o order, stage, sig string, err error) *domain.TradeResult {
	e.log.WithContext(ctx).WithFields(o.fields()).WithFields(logrus.Fields{
		"stage":     stage,
		"signature": sig,
	}).WithError(err).Warn("trade failed")
	return domain.Failed(stage, sig, fmt.Errorf("%s %s: %w", o.side, stage, err))
}

func (o order) fields() logrus.Fields {
	f := logrus.Fields{
		"side":     o.side,
		"token_id": o.tokenID,
	}
	if o.wallet != nil {
		f["wallet_id"] = o.wallet.WalletID
	}
	return f
}

func (o order) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("side", string(o.side)),
		attribute.String("token_id", o.tokenID),
	}
	if o.wallet != nil {
		attrs = append(attrs, attribute.Int64("wallet_id", o.wallet.WalletID))
	}
	return attrs
}
