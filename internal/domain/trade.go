package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeResult is the outcome of one buy or sell execution.
// It is never stored as-is; successful results are folded into Position rows.
type TradeResult struct {
	Success      bool
	Signature    string          // settlement signature, empty if nothing was submitted
	AmountTokens decimal.Decimal // exact UI token amount moved, as read from the chain
	AmountSOL    float64         // SOL moved
	AmountUSD    float64         // AmountSOL valued at the SOL/USD price at confirmation
	PriceUSD     float64         // AmountUSD / AmountTokens
	ErrorMessage string
	Stage        string // pipeline stage that failed, empty on success
}

// Failed builds an unsuccessful result.
func Failed(stage, signature string, err error) *TradeResult {
	r := &TradeResult{Stage: stage, Signature: signature}
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}

// SettlementStatus tracks a submitted transaction in the settlement journal.
//
// submitted -> confirmed -> recorded, or failed from either of the first two.
// A confirmed entry has moved funds on chain but is not yet reflected in the
// positions table; only the decision loop marks it recorded, after the
// ledger change has committed.
type SettlementStatus string

const (
	SettlementSubmitted SettlementStatus = "submitted"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementRecorded  SettlementStatus = "recorded"
	SettlementFailed    SettlementStatus = "failed"
)

// Unrecorded reports whether the entry may still need a ledger change.
func (s SettlementStatus) Unrecorded() bool {
	return s == SettlementSubmitted || s == SettlementConfirmed
}

// Settlement is a journal entry for a signed transaction handed to the relay.
// Corresponds to settlements table in PostgreSQL.
type Settlement struct {
	Signature  string           // PRIMARY KEY
	IntentID   string           // uuid shared by all attempts of one buy/sell intent
	WalletID   int64            // FK to wallets
	TokenID    string           // FK to tokens
	Side       Side             // buy | sell
	Status     SettlementStatus // submitted | confirmed | recorded | failed
	Reason     string           // exit reason code for sells, empty for buys
	CreatedAt  time.Time        // journal time
	ResolvedAt *time.Time       // when status left submitted
}
