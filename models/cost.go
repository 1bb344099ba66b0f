package models

import "fmt"

// FillPricePolicy selects the reference price for market-order fills.
type FillPricePolicy string

const (
	// NextBarOpen prices market orders at the open of the first bar after
	// the order timestamp.
	NextBarOpen FillPricePolicy = "next_bar_open"
	// CurrentBarClose prices market orders at the close of the bar at the
	// order timestamp.
	CurrentBarClose FillPricePolicy = "current_bar_close"
)

// CostModel carries the execution-cost assumptions of a simulated venue.
// SlippageBps is applied directionally to market fills only; CommissionRate
// is charged on the post-slippage notional of every fill.
type CostModel struct {
	CommissionRate  float64         `json:"commission_rate" yaml:"commission_rate"`
	SlippageBps     float64         `json:"slippage_bps" yaml:"slippage_bps"`
	FillPricePolicy FillPricePolicy `json:"fill_price_policy" yaml:"fill_price_policy"`
}

// Validate reports the first invalid field, wrapped in ErrSchemaViolation.
func (c CostModel) Validate() error {
	if c.CommissionRate < 0 {
		return fmt.Errorf("%w: negative commission_rate %v", ErrSchemaViolation, c.CommissionRate)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("%w: negative slippage_bps %v", ErrSchemaViolation, c.SlippageBps)
	}
	switch c.FillPricePolicy {
	case NextBarOpen, CurrentBarClose:
	default:
		return fmt.Errorf("%w: invalid fill_price_policy %q", ErrSchemaViolation, c.FillPricePolicy)
	}
	return nil
}

// SlipMarket moves a reference price against the taker by SlippageBps.
func (c CostModel) SlipMarket(price float64, side Side) float64 {
	adj := price * c.SlippageBps / 10000
	if side == Buy {
		return price + adj
	}
	return price - adj
}

// Commission charges the commission rate on the fill notional.
func (c CostModel) Commission(price, quantity float64) float64 {
	return price * quantity * c.CommissionRate
}
