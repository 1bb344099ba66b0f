package strategy

import (
	"math"
	"sort"
	"time"

	"stratflow/models"
)

// FixedQuantityEntry opens a fixed-size market position for every portfolio
// member that has a tradable price. Sizing by notional or volatility can
// replace this without touching the engine.
type FixedQuantityEntry struct {
	quantity float64
}

func NewFixedQuantityEntry(quantity float64) *FixedQuantityEntry {
	if quantity <= 0 {
		quantity = 1
	}
	return &FixedQuantityEntry{quantity: quantity}
}

func (c *FixedQuantityEntry) Create(t time.Time, portfolio []models.PortfolioRow, latest []models.Bar) ([]models.Order, error) {
	priced := make(map[string]bool, len(latest))
	for _, b := range latest {
		priced[b.Symbol] = true
	}

	ranked := make([]models.PortfolioRow, len(portfolio))
	copy(ranked, portfolio)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority < ranked[j].Priority
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})

	orders := make([]models.Order, 0, len(ranked))
	for _, row := range ranked {
		if !priced[row.Symbol] {
			continue
		}
		orders = append(orders, models.Order{
			Symbol:   row.Symbol,
			Side:     models.Buy,
			Type:     models.Market,
			Quantity: c.quantity,
		})
	}
	return orders, nil
}

// CloseAll flattens every open position with a market order on the closing
// side. Paired with an entry creator it yields a full rebalance per step.
type CloseAll struct{}

func NewCloseAll() *CloseAll { return &CloseAll{} }

func (c *CloseAll) Create(t time.Time, positions []models.Position, latest []models.Bar) ([]models.Order, error) {
	sorted := make([]models.Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	orders := make([]models.Order, 0, len(sorted))
	for _, pos := range sorted {
		if pos.Quantity == 0 {
			continue
		}
		orders = append(orders, models.Order{
			Symbol:   pos.Symbol,
			Side:     pos.ClosingSide(),
			Type:     models.Market,
			Quantity: math.Abs(pos.Quantity),
		})
	}
	return orders, nil
}
