package domain

// LiquiditySample is one point of a token's pool liquidity history.
// Corresponds to liquidity_timeseries table in ClickHouse.
type LiquiditySample struct {
	TokenID      string  // token identifier
	TimestampMs  int64   // Unix timestamp in milliseconds
	Slot         int64   // Solana slot number
	LiquidityUSD float64 // total pool liquidity in USD
}
