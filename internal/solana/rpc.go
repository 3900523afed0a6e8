package solana

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// RPCClient defines the Solana JSON-RPC calls the executor needs.
type RPCClient interface {
	// SendTransaction relays a signed base64 transaction and returns its signature.
	SendTransaction(ctx context.Context, signedTx string) (string, error)

	// GetSignatureStatuses returns one entry per signature; nil means unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetTransaction retrieves a transaction at the given commitment.
	// Returns nil, nil if the transaction is not found.
	GetTransaction(ctx context.Context, signature string, commitment Commitment) (*Transaction, error)
}

// Commitment is a Solana confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether c is a known commitment level.
func (c Commitment) IsValid() bool {
	return c.rank() > 0
}

// AtLeast reports whether c is at or beyond target.
func (c Commitment) AtLeast(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int64 // nil once rooted
	Err                interface{}
	ConfirmationStatus Commitment
}

// Failed reports whether the transaction landed with an error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LogMessages       []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// TokenBalance is an SPL token account balance in transaction metadata.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw integer amount
	Decimals     int32
}

// LamportDelta returns post − pre lamports of account in the transaction.
func (tx *Transaction) LamportDelta(account string) (int64, error) {
	if tx.Meta == nil || tx.Message == nil {
		return 0, fmt.Errorf("transaction %s has no metadata", tx.Signature)
	}
	for i, key := range tx.Message.AccountKeys {
		if key != account {
			continue
		}
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			return 0, fmt.Errorf("balance index %d out of range", i)
		}
		return int64(tx.Meta.PostBalances[i]) - int64(tx.Meta.PreBalances[i]), nil
	}
	return 0, fmt.Errorf("account %s not in transaction %s", account, tx.Signature)
}

// SOLDelta is LamportDelta expressed in SOL.
func (tx *Transaction) SOLDelta(account string) (decimal.Decimal, error) {
	lamports, err := tx.LamportDelta(account)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(lamports).Shift(-9), nil
}

// TokenDelta returns the post − pre UI amount of mint held by owner across
// all of owner's token accounts. A missing pre or post entry counts as zero.
func (tx *Transaction) TokenDelta(owner, mint string) (decimal.Decimal, error) {
	if tx.Meta == nil {
		return decimal.Zero, fmt.Errorf("transaction %s has no metadata", tx.Signature)
	}
	pre, err := sumTokenBalances(tx.Meta.PreTokenBalances, owner, mint)
	if err != nil {
		return decimal.Zero, err
	}
	post, err := sumTokenBalances(tx.Meta.PostTokenBalances, owner, mint)
	if err != nil {
		return decimal.Zero, err
	}
	return post.Sub(pre), nil
}

func sumTokenBalances(balances []TokenBalance, owner, mint string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range balances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		raw, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			return decimal.Zero, fmt.Errorf("invalid token amount %q", b.Amount)
		}
		total = total.Add(decimal.NewFromBigInt(raw, -b.Decimals))
	}
	return total, nil
}
