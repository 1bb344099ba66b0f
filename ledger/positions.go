package ledger

import (
	"math"

	"stratflow/models"
)

// quantities closer to zero than this are treated as flat
const flatEpsilon = 1e-9

// FoldPositions replays fills in (timestamp, symbol, order id) order and
// returns the resulting net positions. Symbols that end flat are omitted.
//
// Average cost follows the opening side of the position: extending a
// position blends the fill price in quantity-weighted; reducing one leaves
// the average untouched; a fill that crosses through zero restarts the
// average at the crossing fill's price. The fold is pure, so the same
// ledger always produces the same positions regardless of process history.
func FoldPositions(fills []models.Fill) map[string]models.Position {
	ordered := make([]models.Fill, len(fills))
	copy(ordered, fills)
	models.SortFills(ordered)

	positions := make(map[string]models.Position)
	for _, f := range ordered {
		pos := positions[f.Symbol]
		pos.Symbol = f.Symbol

		dq := f.SignedQuantity()
		next := pos.Quantity + dq

		switch {
		case math.Abs(pos.Quantity) < flatEpsilon:
			// opening from flat
			pos.Quantity = dq
			pos.AverageCost = f.Price
		case sameSign(pos.Quantity, dq):
			// extending: quantity-weighted average cost
			total := math.Abs(pos.Quantity) + f.Quantity
			pos.AverageCost = (pos.AverageCost*math.Abs(pos.Quantity) + f.Price*f.Quantity) / total
			pos.Quantity = next
		case math.Abs(next) < flatEpsilon:
			// closed out
			delete(positions, f.Symbol)
			continue
		case sameSign(pos.Quantity, next):
			// partial reduce: average cost of the remaining lots is unchanged
			pos.Quantity = next
		default:
			// crossed through zero: the remainder opened at this fill's price
			pos.Quantity = next
			pos.AverageCost = f.Price
		}

		positions[f.Symbol] = pos
	}
	return positions
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
