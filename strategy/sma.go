package strategy

import (
	"sort"
	"time"

	"stratflow/models"
)

// SMAMomentum computes a simple moving average of closes and the relative
// price change over the look-back window. Symbols with fewer bars than the
// window are skipped, which keeps warmup periods signal-free instead of
// emitting rows from a shorter, non-comparable window.
type SMAMomentum struct {
	window int
}

func NewSMAMomentum(window int) *SMAMomentum {
	if window <= 1 {
		window = 20
	}
	return &SMAMomentum{window: window}
}

func (s *SMAMomentum) Calculate(t time.Time, bars []models.Bar) ([]models.SignalRow, error) {
	closes := make(map[string][]float64)
	for _, b := range bars {
		closes[b.Symbol] = append(closes[b.Symbol], b.Close)
	}

	syms := make([]string, 0, len(closes))
	for sym := range closes {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	rows := make([]models.SignalRow, 0, len(syms))
	for _, sym := range syms {
		series := closes[sym]
		if len(series) < s.window {
			continue
		}
		tail := series[len(series)-s.window:]

		var sum float64
		for _, c := range tail {
			sum += c
		}
		sma := sum / float64(s.window)

		first, last := tail[0], tail[len(tail)-1]
		momentum := 0.0
		if first != 0 {
			momentum = (last - first) / first
		}

		rows = append(rows, models.SignalRow{
			Timestamp: t,
			Symbol:    sym,
			Values: map[string]float64{
				"close":    last,
				"sma":      sma,
				"momentum": momentum,
			},
		})
	}
	return rows, nil
}
