package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"stratflow/config"
	"stratflow/models"
)

var testTime = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func barSeries(symbol string, closes ...float64) []models.Bar {
	bars := make([]models.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, models.Bar{
			Timestamp: testTime.Add(time.Duration(i-len(closes)) * 24 * time.Hour),
			Symbol:    symbol,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		})
	}
	return bars
}

func TestSMAMomentumCalculate(t *testing.T) {
	calc := NewSMAMomentum(3)

	var bars []models.Bar
	bars = append(bars, barSeries("BTCUSDT", 100, 110, 120)...)
	bars = append(bars, barSeries("ETHUSDT", 50, 45, 40)...)
	bars = append(bars, barSeries("SOLUSDT", 10)...) // too short for the window

	rows, err := calc.Calculate(testTime, bars)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	btc := rows[0]
	if btc.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol-sorted rows, got %q first", btc.Symbol)
	}
	if !btc.Timestamp.Equal(testTime) {
		t.Errorf("expected row stamped with reference time, got %v", btc.Timestamp)
	}
	if !almostEqual(btc.Values["sma"], 110) {
		t.Errorf("expected sma 110, got %v", btc.Values["sma"])
	}
	if !almostEqual(btc.Values["momentum"], 0.2) {
		t.Errorf("expected momentum 0.2, got %v", btc.Values["momentum"])
	}
	if !almostEqual(btc.Values["close"], 120) {
		t.Errorf("expected close 120, got %v", btc.Values["close"])
	}

	eth := rows[1]
	if !almostEqual(eth.Values["momentum"], -0.2) {
		t.Errorf("expected momentum -0.2, got %v", eth.Values["momentum"])
	}
}

func TestSMAMomentumUsesWindowTail(t *testing.T) {
	calc := NewSMAMomentum(2)
	bars := barSeries("BTCUSDT", 1, 2, 100, 110)

	rows, err := calc.Calculate(testTime, bars)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !almostEqual(rows[0].Values["sma"], 105) {
		t.Errorf("expected sma over last 2 closes, got %v", rows[0].Values["sma"])
	}
	if !almostEqual(rows[0].Values["momentum"], 0.1) {
		t.Errorf("expected momentum over last 2 closes, got %v", rows[0].Values["momentum"])
	}
}

func signalRow(symbol string, momentum float64) models.SignalRow {
	return models.SignalRow{
		Timestamp: testTime,
		Symbol:    symbol,
		Values:    map[string]float64{"momentum": momentum, "close": 100},
	}
}

func TestTopNConstruct(t *testing.T) {
	cons := NewTopN(2, 0)
	signals := []models.SignalRow{
		signalRow("AAAUSDT", 0.1),
		signalRow("BBBUSDT", 0.5),
		signalRow("CCCUSDT", 0.3),
		signalRow("DDDUSDT", -0.2),
	}

	rows, err := cons.Construct(testTime, signals, nil)
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Symbol != "BBBUSDT" || rows[0].Priority != 1 {
		t.Errorf("unexpected first row %+v", rows[0])
	}
	if rows[1].Symbol != "CCCUSDT" || rows[1].Priority != 2 {
		t.Errorf("unexpected second row %+v", rows[1])
	}
	if !almostEqual(rows[0].Strength, 0.5) {
		t.Errorf("expected strength carried over, got %v", rows[0].Strength)
	}
}

func TestTopNTieBreaksOnSymbol(t *testing.T) {
	cons := NewTopN(1, 0)
	signals := []models.SignalRow{
		signalRow("ZZZUSDT", 0.4),
		signalRow("AAAUSDT", 0.4),
	}

	rows, err := cons.Construct(testTime, signals, nil)
	if err != nil {
		t.Fatalf("Construct failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Symbol != "AAAUSDT" {
		t.Fatalf("expected deterministic tie-break on symbol, got %+v", rows)
	}
}

func TestTopNRequiresMomentum(t *testing.T) {
	cons := NewTopN(2, 0)
	signals := []models.SignalRow{
		{Timestamp: testTime, Symbol: "BTCUSDT", Values: map[string]float64{"close": 100}},
	}
	if _, err := cons.Construct(testTime, signals, nil); !errors.Is(err, models.ErrSchemaViolation) {
		t.Errorf("expected schema violation, got %v", err)
	}
}

func TestFixedQuantityEntryCreate(t *testing.T) {
	entry := NewFixedQuantityEntry(2.5)
	portfolio := []models.PortfolioRow{
		{Timestamp: testTime, Symbol: "ETHUSDT", Strength: 0.3, Priority: 2},
		{Timestamp: testTime, Symbol: "BTCUSDT", Strength: 0.5, Priority: 1},
		{Timestamp: testTime, Symbol: "GONEUSDT", Strength: 0.1, Priority: 3}, // no latest bar
	}
	latest := []models.Bar{
		{Timestamp: testTime, Symbol: "BTCUSDT", Close: 100},
		{Timestamp: testTime, Symbol: "ETHUSDT", Close: 50},
	}

	orders, err := entry.Create(testTime, portfolio, latest)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Symbol != "BTCUSDT" || orders[1].Symbol != "ETHUSDT" {
		t.Errorf("expected priority order, got %q then %q", orders[0].Symbol, orders[1].Symbol)
	}
	for _, o := range orders {
		if o.Side != models.Buy || o.Type != models.Market || o.Quantity != 2.5 {
			t.Errorf("unexpected order %+v", o)
		}
		if o.ID != "" {
			t.Errorf("creator must not assign IDs, got %q", o.ID)
		}
	}
}

func TestCloseAllCreate(t *testing.T) {
	exit := NewCloseAll()
	positions := []models.Position{
		{Symbol: "ETHUSDT", Quantity: -3, AverageCost: 50},
		{Symbol: "BTCUSDT", Quantity: 5, AverageCost: 100},
	}

	orders, err := exit.Create(testTime, positions, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Symbol != "BTCUSDT" || orders[0].Side != models.Sell || orders[0].Quantity != 5 {
		t.Errorf("expected sell 5 BTCUSDT, got %+v", orders[0])
	}
	if orders[1].Symbol != "ETHUSDT" || orders[1].Side != models.Buy || orders[1].Quantity != 3 {
		t.Errorf("expected buy 3 ETHUSDT to cover, got %+v", orders[1])
	}
}

func TestBuild(t *testing.T) {
	comps, err := Build(config.StrategyConfig{
		Name: "sma_momentum",
		Params: map[string]float64{
			"window_bars":    5,
			"top_n":          2,
			"order_quantity": 1.5,
		},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if comps.Calculator == nil || comps.Constructor == nil || comps.Entry == nil || comps.Exit == nil {
		t.Fatal("expected all components wired")
	}

	if _, err := Build(config.StrategyConfig{Name: "does_not_exist"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
