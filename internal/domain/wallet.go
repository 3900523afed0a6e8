package domain

import "time"

// Wallet is a funded trading wallet from the allocation pool.
// Corresponds to wallets table in PostgreSQL.
type Wallet struct {
	WalletID       int64     // PRIMARY KEY, lower IDs are allocated first
	Address        string    // base58 public key
	KeyRef         string    // key store reference; the secret never lives in this row
	CashUSD        float64   // informational balance
	EntryAmountUSD float64   // 0 disables the wallet for allocation
	ActiveTokenID  *string   // token the wallet is currently bound to (nullable)
	CreatedAt      time.Time // record creation time
	UpdatedAt      time.Time // last mutation time
}

// Enabled reports whether the wallet may be allocated at all.
func (w *Wallet) Enabled() bool {
	return w.EntryAmountUSD > 0
}
