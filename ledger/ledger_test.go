package ledger

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"stratflow/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func openTempLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fills.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return l, path
}

func fill(id string, ts time.Time, symbol string, side models.Side, qty, price float64) models.Fill {
	return models.Fill{
		OrderID:    id,
		Timestamp:  ts,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Commission: price * qty * 0.001,
	}
}

func TestAppendAndReload(t *testing.T) {
	l, path := openTempLedger(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fills := []models.Fill{
		fill("o1", ts, "BTCUSDT", models.Buy, 10, 100),
		fill("o2", ts.Add(24*time.Hour), "BTCUSDT", models.Sell, 4, 110),
	}
	if err := l.Append(fills...); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got := reopened.Fills()
	if len(got) != 2 {
		t.Fatalf("expected 2 fills after reload, got %d", len(got))
	}
	if got[0].OrderID != "o1" || !got[0].Timestamp.Equal(ts) {
		t.Errorf("first fill mismatch: %+v", got[0])
	}
	if got[1].OrderID != "o2" || got[1].Side != models.Sell {
		t.Errorf("second fill mismatch: %+v", got[1])
	}
}

func TestAppendDuplicateOrderIDIsNoOp(t *testing.T) {
	l, _ := openTempLedger(t)
	defer l.Close()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f := fill("o1", ts, "BTCUSDT", models.Buy, 10, 100)
	if err := l.Append(f); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := l.Append(f); err != nil {
		t.Fatalf("replayed append failed: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 fill after replay, got %d", l.Len())
	}
}

func TestAppendRejectsInvalidFill(t *testing.T) {
	l, _ := openTempLedger(t)
	defer l.Close()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	bad := fill("", ts, "BTCUSDT", models.Buy, 10, 100)
	err := l.Append(bad)
	if !errors.Is(err, models.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("invalid batch must leave ledger untouched, got %d fills", l.Len())
	}
}

func TestFillsBetweenIsInclusive(t *testing.T) {
	l, _ := openTempLedger(t)
	defer l.Close()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)
	t2 := t1.Add(24 * time.Hour)

	if err := l.Append(
		fill("o1", t0, "BTCUSDT", models.Buy, 1, 100),
		fill("o2", t1, "BTCUSDT", models.Buy, 1, 101),
		fill("o3", t2, "BTCUSDT", models.Buy, 1, 102),
	); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got := l.FillsBetween(t1, t2)
	if len(got) != 2 {
		t.Fatalf("expected 2 fills in [t1,t2], got %d", len(got))
	}
	if got[0].OrderID != "o2" || got[1].OrderID != "o3" {
		t.Errorf("unexpected window contents: %+v", got)
	}
}

func TestPositionsExcludeFutureFills(t *testing.T) {
	l, _ := openTempLedger(t)
	defer l.Close()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	if err := l.Append(
		fill("o1", t0, "BTCUSDT", models.Buy, 10, 100),
		fill("o2", t1, "BTCUSDT", models.Sell, 10, 120),
	); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	atT0 := l.Positions(t0)
	if pos, ok := atT0["BTCUSDT"]; !ok || pos.Quantity != 10 {
		t.Errorf("as-of t0 position = %+v, want long 10", atT0["BTCUSDT"])
	}

	atT1 := l.Positions(t1)
	if _, ok := atT1["BTCUSDT"]; ok {
		t.Errorf("as-of t1 position should be flat, got %+v", atT1["BTCUSDT"])
	}
}

func TestFoldPositions(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := func(i int) time.Time { return ts.Add(time.Duration(i) * 24 * time.Hour) }

	tests := []struct {
		name     string
		fills    []models.Fill
		wantQty  float64
		wantAvg  float64
		wantFlat bool
	}{
		{
			name: "extend long averages cost",
			fills: []models.Fill{
				fill("o1", next(0), "BTCUSDT", models.Buy, 10, 100),
				fill("o2", next(1), "BTCUSDT", models.Buy, 10, 110),
			},
			wantQty: 20,
			wantAvg: 105,
		},
		{
			name: "partial reduce keeps average",
			fills: []models.Fill{
				fill("o1", next(0), "BTCUSDT", models.Buy, 10, 100),
				fill("o2", next(1), "BTCUSDT", models.Sell, 4, 130),
			},
			wantQty: 6,
			wantAvg: 100,
		},
		{
			name: "cross through zero restarts average",
			fills: []models.Fill{
				fill("o1", next(0), "BTCUSDT", models.Buy, 10, 100),
				fill("o2", next(1), "BTCUSDT", models.Sell, 15, 110),
			},
			wantQty: -5,
			wantAvg: 110,
		},
		{
			name: "close to flat removes symbol",
			fills: []models.Fill{
				fill("o1", next(0), "BTCUSDT", models.Buy, 10, 100),
				fill("o2", next(1), "BTCUSDT", models.Sell, 10, 110),
			},
			wantFlat: true,
		},
		{
			name: "extend short averages cost",
			fills: []models.Fill{
				fill("o1", next(0), "BTCUSDT", models.Sell, 5, 100),
				fill("o2", next(1), "BTCUSDT", models.Sell, 5, 90),
			},
			wantQty: -10,
			wantAvg: 95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FoldPositions(tt.fills)
			pos, ok := got["BTCUSDT"]
			if tt.wantFlat {
				if ok {
					t.Fatalf("expected flat symbol to be omitted, got %+v", pos)
				}
				return
			}
			if !ok {
				t.Fatal("expected position for BTCUSDT")
			}
			if !almostEqual(pos.Quantity, tt.wantQty) {
				t.Errorf("quantity = %v, want %v", pos.Quantity, tt.wantQty)
			}
			if !almostEqual(pos.AverageCost, tt.wantAvg) {
				t.Errorf("average cost = %v, want %v", pos.AverageCost, tt.wantAvg)
			}
		})
	}
}

func TestFoldPositionsOrderInsensitive(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []models.Fill{
		fill("o3", ts.Add(48*time.Hour), "BTCUSDT", models.Sell, 15, 110),
		fill("o1", ts, "BTCUSDT", models.Buy, 10, 100),
		fill("o2", ts.Add(24*time.Hour), "BTCUSDT", models.Buy, 5, 104),
	}
	shuffled := []models.Fill{fills[2], fills[0], fills[1]}

	a := FoldPositions(fills)
	b := FoldPositions(shuffled)
	if !almostEqual(a["BTCUSDT"].Quantity, b["BTCUSDT"].Quantity) ||
		!almostEqual(a["BTCUSDT"].AverageCost, b["BTCUSDT"].AverageCost) {
		t.Errorf("fold depends on slice order: %+v vs %+v", a["BTCUSDT"], b["BTCUSDT"])
	}
}

func TestPositionsMatchAfterReload(t *testing.T) {
	l, path := openTempLedger(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	if err := l.Append(
		fill("o1", t0, "BTCUSDT", models.Buy, 10, 100),
		fill("o2", t1, "ETHUSDT", models.Buy, 3, 2000),
	); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	before := l.PositionList(t1)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	after := reopened.PositionList(t1)
	if len(before) != len(after) {
		t.Fatalf("position count changed across reload: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Symbol != after[i].Symbol ||
			!almostEqual(before[i].Quantity, after[i].Quantity) ||
			!almostEqual(before[i].AverageCost, after[i].AverageCost) {
			t.Errorf("position %d changed across reload: %+v vs %+v", i, before[i], after[i])
		}
	}
}
