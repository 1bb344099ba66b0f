// Package strategy defines the pluggable decision components the step
// engine invokes, one per stage: signal calculation, portfolio
// construction, and entry/exit order creation. Reference implementations
// ship alongside the interfaces so a configured binary runs end to end;
// the engine itself depends only on the contracts.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"stratflow/config"
	"stratflow/models"
)

// SignalCalculator turns a window of bars into signal rows for reference
// timestamp t. Bars arrive sorted by symbol then timestamp with none later
// than t. Implementations must be pure: same bars in, same rows out.
type SignalCalculator interface {
	Calculate(t time.Time, bars []models.Bar) ([]models.SignalRow, error)
}

// PortfolioConstructor selects the target portfolio from the signal rows
// and the currently held positions.
type PortfolioConstructor interface {
	Construct(t time.Time, signals []models.SignalRow, positions []models.Position) ([]models.PortfolioRow, error)
}

// EntryOrderCreator emits the orders that move toward the target portfolio.
// Returned orders carry no ID or timestamp; the engine stamps both when it
// persists the batch, which keeps IDs stable across re-runs.
type EntryOrderCreator interface {
	Create(t time.Time, portfolio []models.PortfolioRow, latest []models.Bar) ([]models.Order, error)
}

// ExitOrderCreator emits the orders that unwind existing positions. It sees
// positions and prices only, never the portfolio artifact.
type ExitOrderCreator interface {
	Create(t time.Time, positions []models.Position, latest []models.Bar) ([]models.Order, error)
}

// Components bundles the four injected implementations for one strategy.
type Components struct {
	Calculator  SignalCalculator
	Constructor PortfolioConstructor
	Entry       EntryOrderCreator
	Exit        ExitOrderCreator
}

// Build returns the component set matching the configured strategy name.
func Build(cfg config.StrategyConfig) (Components, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "", "sma_momentum":
		return Components{
			Calculator:  NewSMAMomentum(int(cfg.Param("window_bars", 20))),
			Constructor: NewTopN(int(cfg.Param("top_n", 3)), cfg.Param("min_strength", 0)),
			Entry:       NewFixedQuantityEntry(cfg.Param("order_quantity", 1)),
			Exit:        NewCloseAll(),
		}, nil
	default:
		return Components{}, fmt.Errorf("unknown strategy: %s", cfg.Name)
	}
}
