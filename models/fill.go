package models

import (
	"sort"
	"time"
)

// Fill is one execution of an order. Quantity is always positive; Side
// carries the direction. Timestamp is the bar timestamp the fill was
// priced against, not wall-clock time.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"filled_quantity"`
	Price      float64   `json:"filled_price"`
	Commission float64   `json:"commission"`
}

// SignedQuantity maps the fill onto the position axis: buys are positive,
// sells negative.
func (f Fill) SignedQuantity() float64 {
	if f.Side == Sell {
		return -f.Quantity
	}
	return f.Quantity
}

// SortFills orders fills by (timestamp, symbol, order_id) ascending so that
// replaying a ledger is deterministic regardless of arrival order.
func SortFills(fills []Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].Timestamp.Equal(fills[j].Timestamp) {
			return fills[i].Timestamp.Before(fills[j].Timestamp)
		}
		if fills[i].Symbol != fills[j].Symbol {
			return fills[i].Symbol < fills[j].Symbol
		}
		return fills[i].OrderID < fills[j].OrderID
	})
}
