package models

import (
	"fmt"
	"time"
)

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType selects the matching rule applied by the execution venue.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Order is a request to trade one symbol. Price is nil for market orders
// and must be set for limit orders. ID is assigned when the batch is
// persisted and is stable across re-runs of the same stage.
type Order struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     *float64  `json:"price,omitempty"`
}

// Validate reports the first structural problem with the order, wrapped in
// ErrSchemaViolation. Fills carry the order ID as their identity, so a
// submittable order must have one.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: order has empty id", ErrSchemaViolation)
	}
	switch o.Side {
	case Buy, Sell:
	default:
		return fmt.Errorf("%w: order %q has invalid side %q", ErrSchemaViolation, o.ID, o.Side)
	}
	switch o.Type {
	case Market, Limit:
	default:
		return fmt.Errorf("%w: order %q has invalid type %q", ErrSchemaViolation, o.ID, o.Type)
	}
	if o.Symbol == "" {
		return fmt.Errorf("%w: order %q has empty symbol", ErrSchemaViolation, o.ID)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: order %q has non-positive quantity %v", ErrSchemaViolation, o.ID, o.Quantity)
	}
	if o.Type == Limit {
		if o.Price == nil {
			return fmt.Errorf("%w: limit order %q has no price", ErrSchemaViolation, o.ID)
		}
		if *o.Price <= 0 {
			return fmt.Errorf("%w: limit order %q has non-positive price %v", ErrSchemaViolation, o.ID, *o.Price)
		}
	}
	return nil
}

// ValidateOrders validates a whole batch, reporting the offending index.
func ValidateOrders(orders []Order) error {
	for i, o := range orders {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
	}
	return nil
}

// LimitPrice returns the order's limit price, panicking if the order is not
// a validated limit order. Callers validate batches before matching.
func (o Order) LimitPrice() float64 {
	if o.Price == nil {
		panic("models: LimitPrice called on order without price")
	}
	return *o.Price
}
