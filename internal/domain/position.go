package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a wallet's stake in one token between entry and exit.
// Corresponds to positions table in PostgreSQL. Rows are never deleted;
// together they form the full audit trail of what was traded.
type Position struct {
	PositionID int64  // BIGSERIAL primary key
	WalletID   int64  // FK to wallets
	TokenID    string // FK to tokens

	// Entry
	EntryIteration    int64           // decision loop tick that opened the position
	EntryAmountUSD    float64         // USD committed at entry
	EntryPriceUSD     float64         // settled price per token
	EntryAmountTokens decimal.Decimal // exact tokens received at settlement
	EntrySignature    string          // buy settlement signature
	OpenedAt          time.Time       // settlement time

	// Exit (all nil while open)
	ExitIteration *int64     // tick that closed the position
	ExitPriceUSD  *float64   // settled price per token
	ExitSignature *string    // sell settlement signature
	ExitReason    *string    // reason code
	ClosedAt      *time.Time // close time
}

// IsOpen reports whether the position has not been closed yet.
func (p *Position) IsOpen() bool {
	return p.ExitIteration == nil
}

// Exit reason codes
const (
	ExitReasonTargetReturn = "TARGET_RETURN"
	ExitReasonTimeout      = "TIMEOUT"
	ExitReasonForecastSell = "FORECAST_SELL"
)
