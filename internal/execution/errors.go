package execution

import "errors"

// Execution errors.
var (
	// ErrRouteUnavailable is returned when the aggregator has no route for
	// the swap right now. It is terminal for the attempt cycle.
	ErrRouteUnavailable = errors.New("route unavailable")

	// ErrPriceUnavailable is returned when no SOL/USD price is cached. The
	// trade is deferred without touching the network.
	ErrPriceUnavailable = errors.New("sol price unavailable")

	// ErrTransactionFailed is returned when the transaction landed with an
	// on-chain error.
	ErrTransactionFailed = errors.New("transaction failed on chain")

	// ErrNotLanded is returned by Resume when the signature did not land.
	ErrNotLanded = errors.New("signature did not land")

	// ErrConfirmTimeout is returned when the transaction did not reach the
	// configured commitment in time. Its journal entry stays submitted.
	ErrConfirmTimeout = errors.New("confirmation timed out")
)

// Pipeline stages, as reported in TradeResult.Stage.
const (
	StageValidate = "validate"
	StagePrice    = "price"
	StageResume   = "resume"
	StageQuote    = "quote"
	StageBuild    = "build"
	StageSign     = "sign"
	StageJournal  = "journal"
	StageSubmit   = "submit"
	StageConfirm  = "confirm"
	StageSettle   = "settle"
)
