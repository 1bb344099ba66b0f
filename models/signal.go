package models

import (
	"fmt"
	"time"
)

// SignalRow is one row of a signals artifact: named numeric features for
// one symbol at one timestamp. Value names are opaque to everything except
// the strategy that produced them.
type SignalRow struct {
	Timestamp time.Time          `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Values    map[string]float64 `json:"values"`
}

// PortfolioRow is one row of a portfolio artifact: membership of a symbol
// in the target portfolio, with optional strategy-defined metadata.
type PortfolioRow struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Strength  float64   `json:"strength,omitempty"`
	Priority  int       `json:"priority,omitempty"`
}

// ValidateSignalRows checks the structural schema of a signals batch.
func ValidateSignalRows(rows []SignalRow) error {
	for i, r := range rows {
		if r.Timestamp.IsZero() {
			return fmt.Errorf("%w: signal row %d has zero timestamp", ErrSchemaViolation, i)
		}
		if r.Symbol == "" {
			return fmt.Errorf("%w: signal row %d has empty symbol", ErrSchemaViolation, i)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("%w: signal row %d for %s has no values", ErrSchemaViolation, i, r.Symbol)
		}
	}
	return nil
}

// ValidatePortfolioRows checks the structural schema of a portfolio batch.
func ValidatePortfolioRows(rows []PortfolioRow) error {
	for i, r := range rows {
		if r.Timestamp.IsZero() {
			return fmt.Errorf("%w: portfolio row %d has zero timestamp", ErrSchemaViolation, i)
		}
		if r.Symbol == "" {
			return fmt.Errorf("%w: portfolio row %d has empty symbol", ErrSchemaViolation, i)
		}
	}
	return nil
}
