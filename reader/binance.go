package reader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"stratflow/config"
	ratemetrics "stratflow/internal/metrics/rate"
	"stratflow/internal/symbols"
	"stratflow/logger"
	"stratflow/models"
)

// klinesPageLimit is the venue's maximum candles per request.
const klinesPageLimit = 1500

// BinanceSource pulls klines from Binance USD-M futures REST. Symbols are
// accepted in canonical form and translated to the venue's naming on the
// way out, back to canonical on the way in.
type BinanceSource struct {
	client   *futures.Client
	limiter  *rate.Limiter
	interval string
	step     time.Duration
	log      *logger.Entry
}

func NewBinanceSource(ctx context.Context, cfg config.DataConfig) (*BinanceSource, error) {
	interval, err := klineInterval(cfg.IntervalMs)
	if err != nil {
		return nil, err
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	src := &BinanceSource{
		client:   futures.NewClient("", ""),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		interval: interval,
		step:     cfg.Interval(),
		log:      logger.GetLogger().WithComponent("binance_source"),
	}

	if limit, err := ratemetrics.FetchRequestWeightLimit(ctx, src.client); err == nil {
		src.log.WithFields(logger.Fields{
			"interval":     interval,
			"weight_limit": limit,
		}).Info("binance bar source initialized")
	} else {
		src.log.WithError(err).Warn("failed to fetch request weight limit")
	}

	return src, nil
}

func (s *BinanceSource) Fetch(ctx context.Context, start, end time.Time, syms []string) ([]models.Bar, error) {
	var bars []models.Bar
	for _, sym := range syms {
		venueSym := symbols.ToBinance(sym)
		for cursor := start; !cursor.After(end); {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrExternalCall, err)
			}

			klines, err := s.client.NewKlinesService().
				Symbol(venueSym).
				Interval(s.interval).
				StartTime(cursor.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(klinesPageLimit).
				Do(ctx)
			if err != nil {
				ratemetrics.ReportLimitFromMessage(logger.GetLogger(), "binance", venueSym, "klines", err.Error())
				return nil, fmt.Errorf("%w: fetch klines for %s: %v", models.ErrExternalCall, sym, err)
			}
			if len(klines) == 0 {
				break
			}

			for _, k := range klines {
				bar, err := parseKline(k, sym)
				if err != nil {
					return nil, err
				}
				if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
					continue
				}
				bars = append(bars, bar)
			}

			if len(klines) < klinesPageLimit {
				break
			}
			cursor = time.UnixMilli(klines[len(klines)-1].OpenTime).Add(s.step)
		}
	}

	models.SortBars(bars)
	logger.IncrementVenueCall(len(bars))
	return bars, nil
}

func (s *BinanceSource) Latest(ctx context.Context, asOf time.Time, syms []string) ([]models.Bar, error) {
	var bars []models.Bar
	for _, sym := range syms {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", models.ErrExternalCall, err)
		}

		venueSym := symbols.ToBinance(sym)
		klines, err := s.client.NewKlinesService().
			Symbol(venueSym).
			Interval(s.interval).
			EndTime(asOf.UnixMilli()).
			Limit(1).
			Do(ctx)
		if err != nil {
			ratemetrics.ReportLimitFromMessage(logger.GetLogger(), "binance", venueSym, "klines", err.Error())
			return nil, fmt.Errorf("%w: fetch latest kline for %s: %v", models.ErrExternalCall, sym, err)
		}
		if len(klines) == 0 {
			continue
		}
		bar, err := parseKline(klines[len(klines)-1], sym)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}

	models.SortBars(bars)
	return bars, nil
}

func parseKline(k *futures.Kline, symbol string) (models.Bar, error) {
	var parseErr error
	parse := func(name, raw string) float64 {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%w: kline for %s has malformed %s %q", models.ErrSchemaViolation, symbol, name, raw)
		}
		return v
	}

	bar := models.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Symbol:    symbol,
		Open:      parse("open", k.Open),
		High:      parse("high", k.High),
		Low:       parse("low", k.Low),
		Close:     parse("close", k.Close),
		Volume:    parse("volume", k.Volume),
	}
	if parseErr != nil {
		return models.Bar{}, parseErr
	}
	return bar, nil
}

// klineInterval maps a bar interval in milliseconds onto the venue's
// interval naming.
func klineInterval(ms int64) (string, error) {
	intervals := map[int64]string{
		60_000:      "1m",
		180_000:     "3m",
		300_000:     "5m",
		900_000:     "15m",
		1_800_000:   "30m",
		3_600_000:   "1h",
		7_200_000:   "2h",
		14_400_000:  "4h",
		21_600_000:  "6h",
		28_800_000:  "8h",
		43_200_000:  "12h",
		86_400_000:  "1d",
		259_200_000: "3d",
		604_800_000: "1w",
	}
	interval, ok := intervals[ms]
	if !ok {
		return "", fmt.Errorf("no binance kline interval for %dms bars", ms)
	}
	return interval, nil
}
