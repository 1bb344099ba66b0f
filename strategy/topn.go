package strategy

import (
	"fmt"
	"sort"
	"time"

	"stratflow/models"
)

// TopN ranks signal rows by their momentum value and selects the strongest
// n symbols above the strength floor. Ties break on symbol name so the
// selection is total-ordered.
type TopN struct {
	n           int
	minStrength float64
}

func NewTopN(n int, minStrength float64) *TopN {
	if n <= 0 {
		n = 3
	}
	return &TopN{n: n, minStrength: minStrength}
}

func (c *TopN) Construct(t time.Time, signals []models.SignalRow, positions []models.Position) ([]models.PortfolioRow, error) {
	type candidate struct {
		symbol   string
		strength float64
	}

	candidates := make([]candidate, 0, len(signals))
	for _, row := range signals {
		strength, ok := row.Values["momentum"]
		if !ok {
			return nil, fmt.Errorf("%w: signal row for %s has no momentum value", models.ErrSchemaViolation, row.Symbol)
		}
		if strength <= c.minStrength {
			continue
		}
		candidates = append(candidates, candidate{symbol: row.Symbol, strength: strength})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].strength != candidates[j].strength {
			return candidates[i].strength > candidates[j].strength
		}
		return candidates[i].symbol < candidates[j].symbol
	})
	if len(candidates) > c.n {
		candidates = candidates[:c.n]
	}

	rows := make([]models.PortfolioRow, 0, len(candidates))
	for i, cand := range candidates {
		rows = append(rows, models.PortfolioRow{
			Timestamp: t,
			Symbol:    cand.symbol,
			Strength:  cand.strength,
			Priority:  i + 1,
		})
	}
	return rows, nil
}
