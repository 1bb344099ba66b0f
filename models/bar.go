package models

import (
	"sort"
	"time"
)

// Bar is a single OHLCV observation for one symbol at one timestamp.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SortBars orders bars by (symbol, timestamp) ascending, the canonical
// ordering every consumer assumes.
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// LatestBars reduces a sorted or unsorted bar slice to the most recent bar
// per symbol with timestamp at or before cutoff.
func LatestBars(bars []Bar, cutoff time.Time) map[string]Bar {
	latest := make(map[string]Bar)
	for _, b := range bars {
		if b.Timestamp.After(cutoff) {
			continue
		}
		cur, ok := latest[b.Symbol]
		if !ok || b.Timestamp.After(cur.Timestamp) {
			latest[b.Symbol] = b
		}
	}
	return latest
}
