package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"solana-position-engine/internal/domain"
	"solana-position-engine/internal/retry"
	"solana-position-engine/internal/solana"
)

type notification struct {
	n   *solana.SignatureNotification
	err error
}

// confirm blocks until sig reaches the configured commitment. The websocket
// notification and status polling race; whichever sees it first wins.
func (e *Executor) confirm(ctx context.Context, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	var notified chan notification
	if e.watcher != nil {
		notified = make(chan notification, 1)
		go func() {
			n, err := e.watcher.WaitSignature(ctx, sig, e.cfg.Commitment)
			notified <- notification{n: n, err: err}
		}()
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := e.pollStatus(ctx, sig)
		if done {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case nt := <-notified:
			notified = nil
			if nt.err != nil {
				// Polling carries on without the websocket.
				if ctx.Err() == nil {
					e.log.WithError(nt.err).WithField("signature", sig).Debug("signature subscription ended")
				}
				continue
			}
			if nt.n.Err != nil {
				return fmt.Errorf("%w: %v", ErrTransactionFailed, nt.n.Err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// pollStatus reports done once sig failed or reached the commitment.
// Transport errors are not final; the next tick polls again.
func (e *Executor) pollStatus(ctx context.Context, sig string) (bool, error) {
	statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{sig})
	if err != nil {
		if ctx.Err() == nil {
			e.log.WithError(err).WithField("signature", sig).Debug("status poll failed")
		}
		return false, nil
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}
	st := statuses[0]
	if st.Failed() {
		return true, fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
	}
	return st.ConfirmationStatus.AtLeast(e.cfg.Commitment), nil
}

// settle reads the confirmed transaction and derives what actually moved.
func (e *Executor) settle(ctx context.Context, o order, sig string, solUSD float64) (*domain.TradeResult, error) {
	tx, err := retry.Value(ctx, e.policy, func(ctx context.Context) (*solana.Transaction, error) {
		tx, err := e.rpc.GetTransaction(ctx, sig, e.cfg.Commitment)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, errors.New("transaction not yet available")
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}
	if tx.Meta == nil {
		return nil, errors.New("transaction has no meta")
	}
	if tx.Meta.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, tx.Meta.Err)
	}

	owner := o.wallet.Address
	tokens, err := tx.TokenDelta(owner, o.mint)
	if err != nil {
		return nil, err
	}
	sol, err := tx.SOLDelta(owner)
	if err != nil {
		return nil, err
	}
	if o.side == domain.SideBuy {
		sol = sol.Neg()
	} else {
		tokens = tokens.Neg()
	}
	if !tokens.IsPositive() || !sol.IsPositive() {
		return nil, fmt.Errorf("unexpected balance changes: tokens %s sol %s", tokens, sol)
	}

	// Value at the price seen at confirmation when there is one.
	if p := e.prices.SOLUSD(); p > 0 {
		solUSD = p
	}
	amountUSD := sol.Mul(decimal.NewFromFloat(solUSD))
	price := amountUSD.Div(tokens)

	return &domain.TradeResult{
		Success:      true,
		Signature:    sig,
		AmountTokens: tokens,
		AmountSOL:    sol.InexactFloat64(),
		AmountUSD:    amountUSD.InexactFloat64(),
		PriceUSD:     price.InexactFloat64(),
	}, nil
}
