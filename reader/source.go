// Package reader provides OHLCV bar sources. Backtests read prepared CSV or
// parquet files; live runs pull klines from Binance futures. Every source
// answers the same windowed contract, so the step engine never knows which
// feed it is running against.
package reader

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stratflow/config"
	"stratflow/models"
)

// BarSource serves bars for a closed time window. Implementations never
// return a bar stamped after end, and results are sorted by symbol then
// timestamp so identical requests produce identical slices.
type BarSource interface {
	Fetch(ctx context.Context, start, end time.Time, symbols []string) ([]models.Bar, error)
	Latest(ctx context.Context, asOf time.Time, symbols []string) ([]models.Bar, error)
}

// NewSource builds the bar source selected by the data config.
func NewSource(ctx context.Context, cfg config.DataConfig) (BarSource, error) {
	switch cfg.Source {
	case "csv":
		return NewCSVSource(cfg.Path, cfg.Vendor)
	case "parquet":
		return NewParquetSource(cfg.Path, cfg.Vendor)
	case "binance":
		return NewBinanceSource(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported data source: %s", cfg.Source)
	}
}

// memorySource answers the window contract from a fully loaded bar set,
// keyed per symbol with each slice sorted by timestamp. CSV and parquet
// sources embed it.
type memorySource struct {
	bars map[string][]models.Bar
}

func newMemorySource(bars []models.Bar) memorySource {
	bySymbol := make(map[string][]models.Bar)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}
	for sym := range bySymbol {
		s := bySymbol[sym]
		sort.Slice(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	}
	return memorySource{bars: bySymbol}
}

func (m *memorySource) Fetch(ctx context.Context, start, end time.Time, symbols []string) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Bar
	for _, sym := range symbols {
		for _, b := range m.bars[sym] {
			if b.Timestamp.Before(start) || b.Timestamp.After(end) {
				continue
			}
			out = append(out, b)
		}
	}
	models.SortBars(out)
	return out, nil
}

func (m *memorySource) Latest(ctx context.Context, asOf time.Time, symbols []string) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.Bar
	for _, sym := range symbols {
		series := m.bars[sym]
		i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(asOf) })
		if i == 0 {
			continue
		}
		out = append(out, series[i-1])
	}
	models.SortBars(out)
	return out, nil
}

func (m *memorySource) symbolCount() int { return len(m.bars) }

func (m *memorySource) barCount() int {
	n := 0
	for _, s := range m.bars {
		n += len(s)
	}
	return n
}
