package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stratflow/ledger"
	"stratflow/logger"
	"stratflow/models"
)

// MatchingEngine is the mock venue: a pure, deterministic transformation of
// an order batch plus at most one look-ahead bar into fills, recorded
// straight into the fill ledger. The driver advances its clock explicitly;
// nothing else about it is stateful, so replaying the same orders against
// the same bars always yields the same fills.
type MatchingEngine struct {
	mu     sync.Mutex
	cost   models.CostModel
	ledger *ledger.Ledger
	bars   map[string][]models.Bar // per symbol, sorted by timestamp
	cursor time.Time
	log    *logger.Entry
}

// NewMatchingEngine builds a mock venue over the given bar series.
func NewMatchingEngine(cost models.CostModel, led *ledger.Ledger, bars []models.Bar) (*MatchingEngine, error) {
	if err := cost.Validate(); err != nil {
		return nil, err
	}
	m := &MatchingEngine{
		cost:   cost,
		ledger: led,
		bars:   make(map[string][]models.Bar),
		log:    logger.GetLogger().WithComponent("exchange_mock"),
	}
	m.extendLocked(bars)
	return m, nil
}

// Extend adds bars to the series, keeping per-symbol order.
func (m *MatchingEngine) Extend(bars []models.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extendLocked(bars)
}

func (m *MatchingEngine) extendLocked(bars []models.Bar) {
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
	}
	for sym := range m.bars {
		series := m.bars[sym]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
		m.bars[sym] = series
	}
}

// Advance moves the simulation clock to t. Submissions match against the
// bar at t and the first bar after t.
func (m *MatchingEngine) Advance(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = t
}

// Cursor reports the current simulation timestamp.
func (m *MatchingEngine) Cursor() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// SubmitOrders validates the whole batch, matches each order against the
// cost model and the bar series, and appends the resulting fills to the
// ledger. Unmatched orders vanish: no partial fills, no resting book.
func (m *MatchingEngine) SubmitOrders(ctx context.Context, orders []models.Order) error {
	if err := models.ValidateOrders(orders); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor.IsZero() {
		return fmt.Errorf("matching engine clock not advanced before submit")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fills := make([]models.Fill, 0, len(orders))
	for _, o := range orders {
		fill, ok, reason := m.match(o)
		if !ok {
			m.log.WithFields(logger.Fields{
				"order_id": o.ID,
				"symbol":   o.Symbol,
				"reason":   reason,
			}).Debug("order unfilled")
			continue
		}
		fills = append(fills, fill)
	}

	logger.IncrementVenueCall(len(orders))
	if len(fills) == 0 {
		return nil
	}
	if err := m.ledger.Append(fills...); err != nil {
		return fmt.Errorf("failed to record fills: %w", err)
	}
	m.log.WithFields(logger.Fields{
		"orders": len(orders),
		"fills":  len(fills),
		"cursor": m.cursor.Format(time.RFC3339),
	}).Debug("batch matched")
	return nil
}

// match applies the deterministic matching rules for a single order at the
// current cursor. The bool result reports whether the order filled; the
// string carries the non-fill reason for logging.
func (m *MatchingEngine) match(o models.Order) (models.Fill, bool, string) {
	switch o.Type {
	case models.Market:
		return m.matchMarket(o)
	case models.Limit:
		return m.matchLimit(o)
	}
	return models.Fill{}, false, "unknown order type"
}

func (m *MatchingEngine) matchMarket(o models.Order) (models.Fill, bool, string) {
	var ref float64
	var ts time.Time

	switch m.cost.FillPricePolicy {
	case models.NextBarOpen:
		next, ok := m.nextBar(o.Symbol, m.cursor)
		if !ok {
			return models.Fill{}, false, "no next bar"
		}
		ref, ts = next.Open, next.Timestamp
	case models.CurrentBarClose:
		cur, ok := m.barAt(o.Symbol, m.cursor)
		if !ok {
			return models.Fill{}, false, "no current bar"
		}
		ref, ts = cur.Close, cur.Timestamp
	default:
		return models.Fill{}, false, "unknown fill price policy"
	}

	price := m.cost.SlipMarket(ref, o.Side)
	return models.Fill{
		OrderID:    o.ID,
		Timestamp:  ts,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      price,
		Commission: m.cost.Commission(price, o.Quantity),
	}, true, ""
}

// matchLimit examines the next bar only. A buy fills iff the limit price is
// strictly above the bar low; a sell iff strictly below the bar high.
// Equality is a non-fill. Limit fills take no slippage.
func (m *MatchingEngine) matchLimit(o models.Order) (models.Fill, bool, string) {
	next, ok := m.nextBar(o.Symbol, m.cursor)
	if !ok {
		return models.Fill{}, false, "no next bar"
	}

	limit := o.LimitPrice()
	switch o.Side {
	case models.Buy:
		if !(limit > next.Low) {
			return models.Fill{}, false, "buy limit not above next bar low"
		}
	case models.Sell:
		if !(limit < next.High) {
			return models.Fill{}, false, "sell limit not below next bar high"
		}
	}

	return models.Fill{
		OrderID:    o.ID,
		Timestamp:  next.Timestamp,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      limit,
		Commission: m.cost.Commission(limit, o.Quantity),
	}, true, ""
}

// FetchFills filters the ledger by timestamp range. Repeated calls with the
// same arguments return the same rows.
func (m *MatchingEngine) FetchFills(ctx context.Context, start, end time.Time) ([]models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.ledger.FillsBetween(start, end), nil
}

// FetchPositions folds the entire ledger into net positions, sorted by
// symbol.
func (m *MatchingEngine) FetchPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bySymbol := ledger.FoldPositions(m.ledger.Fills())
	out := make([]models.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// nextBar returns the first bar for symbol strictly after t.
func (m *MatchingEngine) nextBar(symbol string, t time.Time) (models.Bar, bool) {
	series := m.bars[symbol]
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(t)
	})
	if idx == len(series) {
		return models.Bar{}, false
	}
	return series[idx], true
}

// barAt returns the bar for symbol exactly at t.
func (m *MatchingEngine) barAt(symbol string, t time.Time) (models.Bar, bool) {
	series := m.bars[symbol]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(t)
	})
	if idx == len(series) || !series[idx].Timestamp.Equal(t) {
		return models.Bar{}, false
	}
	return series[idx], true
}
