// Package ledger implements the append-only fill ledger and the pure
// position fold derived from it. The ledger is the system of record for
// executions: stages append fills exactly once and every position view is
// recomputed from the full history, never cached.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"stratflow/logger"
	"stratflow/models"
)

// Ledger is a durable append-only sequence of fills backed by a JSONL file.
// Each fill is keyed by its order id; appending a fill for an order already
// in the ledger is a no-op, which makes submission stages safe to replay.
type Ledger struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	fills []models.Fill
	seen  map[string]struct{}
	log   *logger.Entry
}

// Open loads the ledger at path, creating it (and its directory) when it
// does not exist yet.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	l := &Ledger{
		path: path,
		file: file,
		seen: make(map[string]struct{}),
		log:  logger.GetLogger().WithComponent("ledger"),
	}

	if err := l.load(); err != nil {
		file.Close()
		return nil, err
	}

	l.log.WithFields(logger.Fields{"path": path, "fills": len(l.fills)}).Debug("ledger opened")
	return l, nil
}

func (l *Ledger) load() error {
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec fillRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: ledger line %d: %v", models.ErrSchemaViolation, line, err)
		}
		fill := rec.fill()
		if err := validateFill(fill); err != nil {
			return fmt.Errorf("ledger line %d: %w", line, err)
		}
		l.fills = append(l.fills, fill)
		l.seen[fill.OrderID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ledger file: %w", err)
	}
	models.SortFills(l.fills)
	return nil
}

// Append durably records the given fills. Fills whose order id is already
// present are skipped. The whole batch is validated before anything is
// written, so a schema violation leaves the ledger untouched.
func (l *Ledger) Append(fills ...models.Fill) error {
	for i, f := range fills {
		if err := validateFill(f); err != nil {
			return fmt.Errorf("fill %d: %w", i, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make([]models.Fill, 0, len(fills))
	for _, f := range fills {
		if _, dup := l.seen[f.OrderID]; dup {
			l.log.WithFields(logger.Fields{"order_id": f.OrderID}).Debug("skipping duplicate fill")
			continue
		}
		fresh = append(fresh, f)
	}
	if len(fresh) == 0 {
		return nil
	}

	buf := bufio.NewWriter(l.file)
	for _, f := range fresh {
		data, err := json.Marshal(newFillRecord(f))
		if err != nil {
			return fmt.Errorf("failed to encode fill %s: %w", f.OrderID, err)
		}
		if _, err := buf.Write(data); err != nil {
			return fmt.Errorf("failed to write ledger file: %w", err)
		}
		if err := buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write ledger file: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}

	for _, f := range fresh {
		l.fills = append(l.fills, f)
		l.seen[f.OrderID] = struct{}{}
	}
	models.SortFills(l.fills)

	logger.IncrementLedgerAppend(len(fresh))
	l.log.WithFields(logger.Fields{"appended": len(fresh), "total": len(l.fills)}).Debug("fills appended")
	return nil
}

// Close releases the backing file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Len reports the number of fills in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fills)
}

// Fills returns a sorted copy of the entire ledger.
func (l *Ledger) Fills() []models.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// FillsBetween returns a sorted copy of the fills with start <= timestamp
// <= end.
func (l *Ledger) FillsBetween(start, end time.Time) []models.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Fill
	for _, f := range l.fills {
		if f.Timestamp.Before(start) || f.Timestamp.After(end) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Positions folds every fill with timestamp at or before asOf into net
// positions. The view never depends on cached state.
func (l *Ledger) Positions(asOf time.Time) map[string]models.Position {
	l.mu.Lock()
	fills := make([]models.Fill, 0, len(l.fills))
	for _, f := range l.fills {
		if f.Timestamp.After(asOf) {
			continue
		}
		fills = append(fills, f)
	}
	l.mu.Unlock()
	return FoldPositions(fills)
}

// PositionList returns the asOf positions sorted by symbol.
func (l *Ledger) PositionList(asOf time.Time) []models.Position {
	bySymbol := l.Positions(asOf)
	out := make([]models.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func validateFill(f models.Fill) error {
	if f.OrderID == "" {
		return fmt.Errorf("%w: fill has empty order_id", models.ErrSchemaViolation)
	}
	if f.Symbol == "" {
		return fmt.Errorf("%w: fill %s has empty symbol", models.ErrSchemaViolation, f.OrderID)
	}
	if f.Side != models.Buy && f.Side != models.Sell {
		return fmt.Errorf("%w: fill %s has invalid side %q", models.ErrSchemaViolation, f.OrderID, f.Side)
	}
	if f.Timestamp.IsZero() {
		return fmt.Errorf("%w: fill %s has zero timestamp", models.ErrSchemaViolation, f.OrderID)
	}
	if f.Quantity <= 0 {
		return fmt.Errorf("%w: fill %s has non-positive quantity %v", models.ErrSchemaViolation, f.OrderID, f.Quantity)
	}
	if f.Price <= 0 {
		return fmt.Errorf("%w: fill %s has non-positive price %v", models.ErrSchemaViolation, f.OrderID, f.Price)
	}
	if f.Commission < 0 {
		return fmt.Errorf("%w: fill %s has negative commission %v", models.ErrSchemaViolation, f.OrderID, f.Commission)
	}
	return nil
}

// fillRecord is the on-disk line format. Timestamps are epoch milliseconds
// so lines are stable across timezones and Go versions.
type fillRecord struct {
	OrderID    string  `json:"order_id"`
	Timestamp  int64   `json:"timestamp"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"filled_quantity"`
	Price      float64 `json:"filled_price"`
	Commission float64 `json:"commission"`
}

func newFillRecord(f models.Fill) fillRecord {
	return fillRecord{
		OrderID:    f.OrderID,
		Timestamp:  f.Timestamp.UnixMilli(),
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
	}
}

func (r fillRecord) fill() models.Fill {
	return models.Fill{
		OrderID:    r.OrderID,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Symbol:     r.Symbol,
		Side:       models.Side(r.Side),
		Quantity:   r.Quantity,
		Price:      r.Price,
		Commission: r.Commission,
	}
}
