package domain

// Side is the direction of a swap relative to the traded token.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}
