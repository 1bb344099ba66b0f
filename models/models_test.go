package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func floatPtr(v float64) *float64 { return &v }

func TestOrderValidate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{
			name:  "valid market",
			order: Order{ID: "o1", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: 10},
		},
		{
			name:  "valid limit",
			order: Order{ID: "o2", Timestamp: ts, Symbol: "ETHUSDT", Side: Sell, Type: Limit, Quantity: 1, Price: floatPtr(2500)},
		},
		{
			name:    "empty id",
			order:   Order{Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "invalid side",
			order:   Order{ID: "o3", Timestamp: ts, Symbol: "BTCUSDT", Side: "hold", Type: Market, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "invalid type",
			order:   Order{ID: "o4", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: "stop", Quantity: 1},
			wantErr: true,
		},
		{
			name:    "empty symbol",
			order:   Order{ID: "o5", Timestamp: ts, Side: Buy, Type: Market, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			order:   Order{ID: "o6", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: 0},
			wantErr: true,
		},
		{
			name:    "limit without price",
			order:   Order{ID: "o7", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Limit, Quantity: 1},
			wantErr: true,
		},
		{
			name:    "limit with non-positive price",
			order:   Order{ID: "o8", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Limit, Quantity: 1, Price: floatPtr(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrSchemaViolation) {
					t.Errorf("error %v is not ErrSchemaViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateOrdersReportsIndex(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orders := []Order{
		{ID: "good", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: 1},
		{ID: "bad", Timestamp: ts, Symbol: "BTCUSDT", Side: Buy, Type: Market, Quantity: -1},
	}

	err := ValidateOrders(orders)
	if err == nil {
		t.Fatal("expected error for invalid batch")
	}
	if !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("error %v is not ErrSchemaViolation", err)
	}
}

func TestCostModelValidate(t *testing.T) {
	tests := []struct {
		name    string
		model   CostModel
		wantErr bool
	}{
		{
			name:  "valid next bar open",
			model: CostModel{CommissionRate: 0.001, SlippageBps: 5, FillPricePolicy: NextBarOpen},
		},
		{
			name:  "valid current bar close",
			model: CostModel{FillPricePolicy: CurrentBarClose},
		},
		{
			name:    "negative commission",
			model:   CostModel{CommissionRate: -0.001, FillPricePolicy: NextBarOpen},
			wantErr: true,
		},
		{
			name:    "negative slippage",
			model:   CostModel{SlippageBps: -1, FillPricePolicy: NextBarOpen},
			wantErr: true,
		},
		{
			name:    "unknown policy",
			model:   CostModel{FillPricePolicy: "vwap"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.model.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCostModelSlipMarket(t *testing.T) {
	c := CostModel{SlippageBps: 5, FillPricePolicy: NextBarOpen}

	if got := c.SlipMarket(10000, Buy); !almostEqual(got, 10005) {
		t.Errorf("buy slip = %v, want 10005", got)
	}
	if got := c.SlipMarket(10000, Sell); !almostEqual(got, 9995) {
		t.Errorf("sell slip = %v, want 9995", got)
	}

	zero := CostModel{FillPricePolicy: NextBarOpen}
	if got := zero.SlipMarket(10000, Buy); got != 10000 {
		t.Errorf("zero slip = %v, want 10000", got)
	}
}

func TestCostModelCommission(t *testing.T) {
	c := CostModel{CommissionRate: 0.001}
	if got := c.Commission(103, 10); !almostEqual(got, 1.03) {
		t.Errorf("commission = %v, want 1.03", got)
	}
}

func TestSignedQuantity(t *testing.T) {
	buy := Fill{Side: Buy, Quantity: 3}
	sell := Fill{Side: Sell, Quantity: 3}
	if got := buy.SignedQuantity(); got != 3 {
		t.Errorf("buy signed quantity = %v, want 3", got)
	}
	if got := sell.SignedQuantity(); got != -3 {
		t.Errorf("sell signed quantity = %v, want -3", got)
	}
}

func TestSortFillsDeterministic(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	fills := []Fill{
		{OrderID: "b", Timestamp: t2, Symbol: "ETHUSDT"},
		{OrderID: "b", Timestamp: t1, Symbol: "BTCUSDT"},
		{OrderID: "a", Timestamp: t1, Symbol: "BTCUSDT"},
		{OrderID: "a", Timestamp: t1, Symbol: "ETHUSDT"},
	}
	SortFills(fills)

	wantOrder := []string{"a", "b", "a", "b"}
	wantSymbol := []string{"BTCUSDT", "BTCUSDT", "ETHUSDT", "ETHUSDT"}
	for i := range fills {
		if fills[i].OrderID != wantOrder[i] || fills[i].Symbol != wantSymbol[i] {
			t.Fatalf("position %d: got (%s,%s), want (%s,%s)",
				i, fills[i].Symbol, fills[i].OrderID, wantSymbol[i], wantOrder[i])
		}
	}
}

func TestLatestBars(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t2.Add(24 * time.Hour)

	bars := []Bar{
		{Timestamp: t1, Symbol: "BTCUSDT", Close: 100},
		{Timestamp: t2, Symbol: "BTCUSDT", Close: 110},
		{Timestamp: t3, Symbol: "BTCUSDT", Close: 120},
		{Timestamp: t1, Symbol: "ETHUSDT", Close: 10},
	}

	latest := LatestBars(bars, t2)
	if got := latest["BTCUSDT"].Close; got != 110 {
		t.Errorf("BTCUSDT latest close = %v, want 110 (bar after cutoff must be ignored)", got)
	}
	if got := latest["ETHUSDT"].Close; got != 10 {
		t.Errorf("ETHUSDT latest close = %v, want 10", got)
	}
}

func TestPositionClosingSide(t *testing.T) {
	long := Position{Symbol: "BTCUSDT", Quantity: 2}
	short := Position{Symbol: "BTCUSDT", Quantity: -2}
	if !long.IsLong() || long.IsShort() {
		t.Errorf("position %+v misreports its direction", long)
	}
	if !short.IsShort() || short.IsLong() {
		t.Errorf("position %+v misreports its direction", short)
	}
	if got := long.ClosingSide(); got != Sell {
		t.Errorf("long closing side = %v, want sell", got)
	}
	if got := short.ClosingSide(); got != Buy {
		t.Errorf("short closing side = %v, want buy", got)
	}
}

func TestValidateSignalRows(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	good := []SignalRow{{Timestamp: ts, Symbol: "BTCUSDT", Values: map[string]float64{"momentum": 0.4}}}
	if err := ValidateSignalRows(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noValues := []SignalRow{{Timestamp: ts, Symbol: "BTCUSDT"}}
	if err := ValidateSignalRows(noValues); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("row without values: got %v, want ErrSchemaViolation", err)
	}

	noSymbol := []SignalRow{{Timestamp: ts, Values: map[string]float64{"momentum": 1}}}
	if err := ValidateSignalRows(noSymbol); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("row without symbol: got %v, want ErrSchemaViolation", err)
	}
}

func TestValidatePortfolioRows(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	good := []PortfolioRow{{Timestamp: ts, Symbol: "BTCUSDT", Strength: 0.9}}
	if err := ValidatePortfolioRows(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []PortfolioRow{{Symbol: "BTCUSDT"}}
	if err := ValidatePortfolioRows(bad); !errors.Is(err, ErrSchemaViolation) {
		t.Errorf("row without timestamp: got %v, want ErrSchemaViolation", err)
	}
}
