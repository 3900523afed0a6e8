// Package stub provides in-memory stand-ins for the Solana node clients.
package stub

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/mr-tron/base58"

	"solana-position-engine/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Statuses and
// Transactions are keyed by signature; unknown signatures report nil.
type RPCClient struct {
	mu sync.Mutex

	Statuses     map[string]*solana.SignatureStatus
	Transactions map[string]*solana.Transaction
	Sent         []string

	// SendErr fails every SendTransaction when set.
	SendErr error
	// OnSend runs after a transaction is accepted, typically to register
	// its status and transaction.
	OnSend func(signature, signedTx string)

	StatusCalls int
}

// Compile-time interface check.
var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Statuses:     make(map[string]*solana.SignatureStatus),
		Transactions: make(map[string]*solana.Transaction),
	}
}

// SendTransaction records signedTx and returns its first signature.
func (c *RPCClient) SendTransaction(_ context.Context, signedTx string) (string, error) {
	c.mu.Lock()
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return "", err
	}
	sig, err := solana.TransactionID(signedTx)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.Sent = append(c.Sent, signedTx)
	onSend := c.OnSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(sig, signedTx)
	}
	return sig, nil
}

// GetSignatureStatuses returns the registered statuses.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.StatusCalls++
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, sig := range signatures {
		if s, ok := c.Statuses[sig]; ok {
			cp := *s
			out[i] = &cp
		}
	}
	return out, nil
}

// GetTransaction returns the registered transaction or nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string, _ solana.Commitment) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[signature], nil
}

// SetStatus registers the status of signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

// AddTransaction registers tx under its signature.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SentCount returns how many transactions were submitted.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// SwapTransaction builds an unsigned legacy transaction (base64) whose only
// signer is owner. The seed makes the message, and so the signature, unique.
func SwapTransaction(owner, seed string) (string, error) {
	pub, err := base58.Decode(owner)
	if err != nil {
		return "", err
	}
	program := sha256.Sum256([]byte("program"))
	blockhash := sha256.Sum256([]byte(seed))

	msg := []byte{1, 0, 1, 2}
	msg = append(msg, pub...)
	msg = append(msg, program[:]...)
	msg = append(msg, blockhash[:]...)
	msg = append(msg, 0) // no instructions

	return solana.UnsignedTransaction(msg)
}

// Signature returns a deterministic base58 signature for tests that do not
// sign.
func Signature(seed string) string {
	a := sha256.Sum256([]byte(seed))
	b := sha256.Sum256(a[:])
	return base58.Encode(append(a[:], b[:]...))
}
