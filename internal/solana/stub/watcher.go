package stub

import (
	"context"
	"sync"

	"solana-position-engine/internal/solana"
)

// Watcher implements solana.SignatureWatcher. WaitSignature returns as soon
// as Notify is called for the signature; with Silent set it only returns
// when ctx is done.
type Watcher struct {
	mu      sync.Mutex
	waiters map[string][]chan solana.SignatureNotification
	fired   map[string]solana.SignatureNotification
	closed  bool

	Silent bool
}

// Compile-time interface check.
var _ solana.SignatureWatcher = (*Watcher)(nil)

// NewWatcher creates a new stub watcher.
func NewWatcher() *Watcher {
	return &Watcher{
		waiters: make(map[string][]chan solana.SignatureNotification),
		fired:   make(map[string]solana.SignatureNotification),
	}
}

// Notify delivers a notification for signature to current and future waiters.
func (w *Watcher) Notify(signature string, slot int64, txErr interface{}) {
	n := solana.SignatureNotification{Signature: signature, Slot: slot, Err: txErr}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.fired[signature] = n
	for _, ch := range w.waiters[signature] {
		ch <- n
	}
	delete(w.waiters, signature)
}

// WaitSignature blocks until Notify, ctx is done or the watcher is closed.
func (w *Watcher) WaitSignature(ctx context.Context, signature string, _ solana.Commitment) (*solana.SignatureNotification, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, solana.ErrWatcherClosed
	}
	if n, ok := w.fired[signature]; ok && !w.Silent {
		w.mu.Unlock()
		return &n, nil
	}
	ch := make(chan solana.SignatureNotification, 1)
	if !w.Silent {
		w.waiters[signature] = append(w.waiters[signature], ch)
	}
	w.mu.Unlock()

	select {
	case n := <-ch:
		return &n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close makes further waits fail.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
