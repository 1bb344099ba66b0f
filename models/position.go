package models

// Position is the net exposure in one symbol. Quantity is signed: positive
// long, negative short. AverageCost is the weighted average fill price of
// the lots opening the current direction; commissions are not part of it.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"average_cost"`
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Quantity < 0 }

// ClosingSide returns the order side that reduces the position toward zero.
func (p Position) ClosingSide() Side {
	if p.IsLong() {
		return Sell
	}
	return Buy
}
