package solana

import "context"

// SignatureWatcher waits for signature notifications over a websocket.
type SignatureWatcher interface {
	// WaitSignature subscribes to signature and blocks until the node reports
	// it at commitment, ctx is done or the watcher closes.
	WaitSignature(ctx context.Context, signature string, commitment Commitment) (*SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification is the payload of a signatureNotification.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{} // non-nil if the transaction failed on chain
}
