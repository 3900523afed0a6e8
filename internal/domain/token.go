package domain

// Token represents a tradable token the decision loop considers for entry.
// Corresponds to tokens table in PostgreSQL.
type Token struct {
	TokenID   string  // PRIMARY KEY
	Mint      string  // token mint address (base58)
	Symbol    *string // token symbol (nullable)
	Decimals  int     // SPL token decimals
	Active    bool    // only active tokens are evaluated for entry
	CreatedAt int64   // record creation timestamp (ms)
}
