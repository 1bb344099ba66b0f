package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	ratemetrics "stratflow/internal/metrics/rate"
	"stratflow/internal/symbols"
	"stratflow/logger"
	"stratflow/models"
)

// BinanceClient adapts Binance USD-M futures to the venue contract. All API
// failures are wrapped in ErrExternalCall; retry and backoff policy belongs
// to the caller, not here.
type BinanceClient struct {
	client      *futures.Client
	limiter     *rate.Limiter
	symbols     []string
	weightLimit int64
	log         *logger.Entry
}

// NewBinanceClient builds the adapter. symbols bounds the instruments
// FetchFills reconciles, since the trade-history endpoint is per symbol.
func NewBinanceClient(ctx context.Context, apiKey, apiSecret string, testnet bool, symbols []string, rps, burst int) *BinanceClient {
	if testnet {
		futures.UseTestnet = true
	}
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}

	b := &BinanceClient{
		client:  futures.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		symbols: symbols,
		log:     logger.GetLogger().WithComponent("exchange_binance"),
	}

	if limit, err := ratemetrics.FetchRequestWeightLimit(ctx, b.client); err == nil {
		b.weightLimit = limit
		b.log.WithFields(logger.Fields{"weight_limit": limit}).Info("binance venue initialized")
	} else {
		b.log.WithError(err).Warn("failed to fetch request weight limit")
	}

	return b
}

// SubmitOrders places each order with the submitted deterministic id as the
// client order id, so venue fills remain correlated with artifacts. Symbols
// arrive in canonical form and are translated to venue naming on the wire.
func (b *BinanceClient) SubmitOrders(ctx context.Context, orders []models.Order) error {
	if err := models.ValidateOrders(orders); err != nil {
		return err
	}

	for _, o := range orders {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", models.ErrExternalCall, err)
		}

		svc := b.client.NewCreateOrderService().
			Symbol(symbols.ToBinance(o.Symbol)).
			Side(sideType(o.Side)).
			Quantity(formatFloat(o.Quantity)).
			NewClientOrderID(o.ID)

		switch o.Type {
		case models.Market:
			svc = svc.Type(futures.OrderTypeMarket)
		case models.Limit:
			svc = svc.Type(futures.OrderTypeLimit).
				Price(formatFloat(o.LimitPrice())).
				TimeInForce(futures.TimeInForceTypeGTC)
		}

		if _, err := svc.Do(ctx); err != nil {
			ratemetrics.ReportLimitFromMessage(logger.GetLogger(), "binance", o.Symbol, "orders", err.Error())
			return fmt.Errorf("%w: submit order %s: %v", models.ErrExternalCall, o.ID, err)
		}
		b.log.WithFields(logger.Fields{
			"order_id": o.ID,
			"symbol":   o.Symbol,
			"side":     o.Side,
			"type":     o.Type,
		}).Info("order submitted")
	}

	logger.IncrementVenueCall(len(orders))
	return nil
}

// FetchFills lists account trades per symbol in [start, end] and maps them
// onto the fill model. The venue's order id becomes the fill's order id.
func (b *BinanceClient) FetchFills(ctx context.Context, start, end time.Time) ([]models.Fill, error) {
	var fills []models.Fill
	for _, symbol := range b.symbols {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrExternalCall, err)
		}

		venueSym := symbols.ToBinance(symbol)
		trades, err := b.client.NewListAccountTradeService().
			Symbol(venueSym).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Do(ctx)
		if err != nil {
			ratemetrics.ReportLimitFromMessage(logger.GetLogger(), "binance", venueSym, "trades", err.Error())
			return nil, fmt.Errorf("%w: fetch trades for %s: %v", models.ErrExternalCall, symbol, err)
		}

		for _, t := range trades {
			price, err := strconv.ParseFloat(t.Price, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: trade %d has malformed price %q", models.ErrSchemaViolation, t.ID, t.Price)
			}
			qty, err := strconv.ParseFloat(t.Quantity, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: trade %d has malformed quantity %q", models.ErrSchemaViolation, t.ID, t.Quantity)
			}
			commission, _ := strconv.ParseFloat(t.Commission, 64)

			side := models.Sell
			if t.Side == futures.SideTypeBuy {
				side = models.Buy
			}

			fills = append(fills, models.Fill{
				OrderID:    strconv.FormatInt(t.OrderID, 10),
				Timestamp:  time.UnixMilli(t.Time).UTC(),
				Symbol:     symbol,
				Side:       side,
				Quantity:   qty,
				Price:      price,
				Commission: commission,
			})
		}
	}

	models.SortFills(fills)
	logger.IncrementVenueCall(len(fills))
	return fills, nil
}

// FetchPositions reads current position risk, dropping flat symbols.
func (b *BinanceClient) FetchPositions(ctx context.Context) ([]models.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrExternalCall, err)
	}

	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		ratemetrics.ReportLimitFromMessage(logger.GetLogger(), "binance", "", "positions", err.Error())
		return nil, fmt.Errorf("%w: fetch positions: %v", models.ErrExternalCall, err)
	}

	var out []models.Position
	for _, r := range risks {
		qty, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil || qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		out = append(out, models.Position{
			Symbol:      symbols.Canonical("binance", r.Symbol),
			Quantity:    qty,
			AverageCost: entry,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func sideType(s models.Side) futures.SideType {
	if s == models.Buy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
