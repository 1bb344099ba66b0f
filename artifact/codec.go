package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"stratflow/models"
)

// Artifact payloads are JSON lines: one fixed-field record per row,
// timestamps as epoch milliseconds, rows in canonical order. Encoding the
// same rows always yields the same bytes, which is what makes resumed runs
// comparable to consecutive ones at the artifact level.

const maxLineBytes = 1024 * 1024

type signalRowRecord struct {
	Timestamp int64              `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Values    map[string]float64 `json:"values"`
}

type portfolioRowRecord struct {
	Timestamp int64   `json:"timestamp"`
	Symbol    string  `json:"symbol"`
	Strength  float64 `json:"strength"`
	Priority  int     `json:"priority,omitempty"`
}

type orderRecord struct {
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"`
	Symbol    string           `json:"symbol"`
	Side      models.Side      `json:"side"`
	Type      models.OrderType `json:"type"`
	Quantity  float64          `json:"quantity"`
	Price     *float64         `json:"price,omitempty"`
}

// EncodeSignals serializes signal rows sorted by timestamp then symbol.
func EncodeSignals(rows []models.SignalRow) ([]byte, error) {
	sorted := make([]models.SignalRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var buf bytes.Buffer
	for _, row := range sorted {
		rec := signalRowRecord{
			Timestamp: row.Timestamp.UnixMilli(),
			Symbol:    row.Symbol,
			Values:    row.Values,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode signal row for %s: %w", row.Symbol, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func DecodeSignals(data []byte) ([]models.SignalRow, error) {
	rows := []models.SignalRow{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec signalRowRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode signal row: %w", err)
		}
		rows = append(rows, models.SignalRow{
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
			Symbol:    rec.Symbol,
			Values:    rec.Values,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan signal rows: %w", err)
	}
	return rows, nil
}

// EncodePortfolio serializes portfolio rows sorted by timestamp then symbol.
func EncodePortfolio(rows []models.PortfolioRow) ([]byte, error) {
	sorted := make([]models.PortfolioRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var buf bytes.Buffer
	for _, row := range sorted {
		rec := portfolioRowRecord{
			Timestamp: row.Timestamp.UnixMilli(),
			Symbol:    row.Symbol,
			Strength:  row.Strength,
			Priority:  row.Priority,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode portfolio row for %s: %w", row.Symbol, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func DecodePortfolio(data []byte) ([]models.PortfolioRow, error) {
	rows := []models.PortfolioRow{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec portfolioRowRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode portfolio row: %w", err)
		}
		rows = append(rows, models.PortfolioRow{
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
			Symbol:    rec.Symbol,
			Strength:  rec.Strength,
			Priority:  rec.Priority,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan portfolio rows: %w", err)
	}
	return rows, nil
}

// EncodeOrders serializes orders in the order given. Order IDs are assigned
// positionally by the stage that created them, so the codec must not reorder.
func EncodeOrders(orders []models.Order) ([]byte, error) {
	var buf bytes.Buffer
	for _, o := range orders {
		rec := orderRecord{
			ID:        o.ID,
			Timestamp: o.Timestamp.UnixMilli(),
			Symbol:    o.Symbol,
			Side:      o.Side,
			Type:      o.Type,
			Quantity:  o.Quantity,
			Price:     o.Price,
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode order %s: %w", o.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func DecodeOrders(data []byte) ([]models.Order, error) {
	orders := []models.Order{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec orderRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, models.Order{
			ID:        rec.ID,
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
			Symbol:    rec.Symbol,
			Side:      rec.Side,
			Type:      rec.Type,
			Quantity:  rec.Quantity,
			Price:     rec.Price,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	return orders, nil
}
