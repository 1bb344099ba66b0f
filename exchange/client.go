// Package exchange defines the execution venue contract and its two
// implementations: the deterministic mock matching engine used by backtests
// and a Binance futures adapter for live runs. The submission stages only
// ever see the Client interface, which is what makes the two modes
// interchangeable.
package exchange

import (
	"context"
	"time"

	"stratflow/models"
)

// Client is an execution venue. SubmitOrders forwards a validated batch;
// it is not idempotent and must not be retried blindly. FetchFills and
// FetchPositions are pure reads, safe to repeat with identical results for
// identical arguments.
type Client interface {
	SubmitOrders(ctx context.Context, orders []models.Order) error
	FetchFills(ctx context.Context, start, end time.Time) ([]models.Fill, error)
	FetchPositions(ctx context.Context) ([]models.Position, error)
}
