package domain

import "time"

// TokenClassification is one append-only pattern label assigned to a token.
// Corresponds to token_classifications table in PostgreSQL.
type TokenClassification struct {
	ID          int64     // BIGSERIAL primary key
	TokenID     string    // FK to tokens
	PatternCode string    // classifier label, compared case-insensitively
	Source      string    // which classifier produced the label
	Confidence  float64   // classifier confidence in [0, 1]
	CreatedAt   time.Time // record creation time
}

// AuditSnapshot holds the on-chain audit flags of a token at a point in time.
// Corresponds to token_audits table in PostgreSQL.
type AuditSnapshot struct {
	TokenID        string    // FK to tokens
	Rugpull        bool      // irreversible rugpull flag raised by the auditor
	MintDisabled   bool      // mint authority revoked
	FreezeDisabled bool      // freeze authority revoked
	TopHoldersPct  float64   // share of supply held by top holders, percent
	DevBalancePct  float64   // share of supply held by the developer, percent
	FetchedAt      time.Time // when the audit was taken
}
