package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"stratflow/models"
)

var (
	day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
)

func writeCSVFixture(t *testing.T, dir, name string, rows ...string) {
	t.Helper()
	content := "timestamp,open,high,low,close,volume\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
}

func TestCSVSourceFetchWindow(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "BTCUSDT.csv",
		"2024-01-01T00:00:00Z,100,105,95,102,1000",
		"2024-01-02T00:00:00Z,103,108,101,106,1100",
		"2024-01-03T00:00:00Z,106,110,104,109,900",
	)
	writeCSVFixture(t, dir, "ethusdt.csv",
		"2024-01-02T00:00:00Z,50,52,49,51,5000",
	)

	src, err := NewCSVSource(dir, "csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	bars, err := src.Fetch(context.Background(), day1, day2, []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars in window, got %d", len(bars))
	}
	for _, b := range bars {
		if b.Timestamp.After(day2) {
			t.Errorf("bar %s %v leaks past window end", b.Symbol, b.Timestamp)
		}
	}
	if bars[0].Symbol != "BTCUSDT" || !bars[0].Timestamp.Equal(day1) {
		t.Errorf("unexpected first bar %+v", bars[0])
	}
	if bars[2].Symbol != "ETHUSDT" {
		t.Errorf("expected lowercase file name to canonicalize, got %q", bars[2].Symbol)
	}
	if bars[0].Open != 100 || bars[0].Close != 102 {
		t.Errorf("unexpected OHLC in %+v", bars[0])
	}

	none, err := src.Fetch(context.Background(), day1, day2, []string{"SOLUSDT"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no bars for unknown symbol, got %d", len(none))
	}
}

func TestCSVSourceEpochMillis(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "BTCUSDT.csv",
		"1704067200000,100,105,95,102,1000",
	)

	src, err := NewCSVSource(dir, "csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}
	bars, err := src.Fetch(context.Background(), day1, day2, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bars) != 1 || !bars[0].Timestamp.Equal(day1) {
		t.Fatalf("expected one bar at %v, got %+v", day1, bars)
	}
}

func TestCSVSourceRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		rows []string
	}{
		{"bad timestamp", []string{"yesterday,100,105,95,102,1000"}},
		{"bad price", []string{"2024-01-01T00:00:00Z,abc,105,95,102,1000"}},
		{"missing column", []string{"2024-01-01T00:00:00Z,100,105,95,102"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeCSVFixture(t, dir, "BTCUSDT.csv", tt.rows...)
			_, err := NewCSVSource(dir, "csv")
			if !errors.Is(err, models.ErrSchemaViolation) {
				t.Errorf("expected schema violation, got %v", err)
			}
		})
	}
}

func TestCSVSourceRejectsWrongHeader(t *testing.T) {
	dir := t.TempDir()
	content := "time,o,h,l,c,v\n2024-01-01T00:00:00Z,100,105,95,102,1000\n"
	if err := os.WriteFile(filepath.Join(dir, "BTCUSDT.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := NewCSVSource(dir, "csv"); !errors.Is(err, models.ErrSchemaViolation) {
		t.Errorf("expected schema violation, got %v", err)
	}
}

func TestLatestPicksMostRecentBar(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir, "BTCUSDT.csv",
		"2024-01-01T00:00:00Z,100,105,95,102,1000",
		"2024-01-03T00:00:00Z,106,110,104,109,900",
	)

	src, err := NewCSVSource(dir, "csv")
	if err != nil {
		t.Fatalf("NewCSVSource failed: %v", err)
	}

	bars, err := src.Latest(context.Background(), day2, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(bars) != 1 || !bars[0].Timestamp.Equal(day1) {
		t.Fatalf("expected day1 bar as latest at day2, got %+v", bars)
	}

	bars, err = src.Latest(context.Background(), day3, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(bars) != 1 || !bars[0].Timestamp.Equal(day3) {
		t.Fatalf("expected day3 bar as latest at day3, got %+v", bars)
	}

	bars, err = src.Latest(context.Background(), day1.Add(-time.Hour), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(bars) != 0 {
		t.Fatalf("expected no bar before history starts, got %+v", bars)
	}
}

func writeParquetFixture(t *testing.T, path string, records []barRecord) {
	t.Helper()
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		t.Fatalf("failed to create parquet fixture: %v", err)
	}
	pw, err := writer.NewParquetWriter(fw, new(barRecord), 4)
	if err != nil {
		t.Fatalf("failed to create parquet writer: %v", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			t.Fatalf("failed to write parquet record: %v", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		t.Fatalf("failed to finalize parquet fixture: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("failed to close parquet fixture: %v", err)
	}
}

func TestParquetSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.parquet")
	writeParquetFixture(t, path, []barRecord{
		{Timestamp: day2.UnixMilli(), Symbol: "1000PEPEUSDT", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: day1.UnixMilli(), Symbol: "BTCUSDT", Open: 100, High: 105, Low: 95, Close: 102, Volume: 1000},
	})

	src, err := NewParquetSource(path, "binance")
	if err != nil {
		t.Fatalf("NewParquetSource failed: %v", err)
	}

	bars, err := src.Fetch(context.Background(), day1, day3, []string{"BTCUSDT", "PEPEUSDT"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Symbol != "BTCUSDT" || bars[0].Close != 102 {
		t.Errorf("unexpected first bar %+v", bars[0])
	}
	if bars[1].Symbol != "PEPEUSDT" {
		t.Errorf("expected vendor symbol canonicalized, got %q", bars[1].Symbol)
	}
	if !bars[1].Timestamp.Equal(day2) {
		t.Errorf("expected %v, got %v", day2, bars[1].Timestamp)
	}
}

func TestParquetSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	writeParquetFixture(t, filepath.Join(dir, "a.parquet"), []barRecord{
		{Timestamp: day1.UnixMilli(), Symbol: "BTCUSDT", Open: 100, High: 105, Low: 95, Close: 102, Volume: 1000},
	})
	writeParquetFixture(t, filepath.Join(dir, "b.parquet"), []barRecord{
		{Timestamp: day2.UnixMilli(), Symbol: "BTCUSDT", Open: 103, High: 108, Low: 101, Close: 106, Volume: 1100},
	})

	src, err := NewParquetSource(dir, "binance")
	if err != nil {
		t.Fatalf("NewParquetSource failed: %v", err)
	}
	bars, err := src.Fetch(context.Background(), day1, day2, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected bars from both files, got %d", len(bars))
	}
	if !bars[0].Timestamp.Equal(day1) || !bars[1].Timestamp.Equal(day2) {
		t.Errorf("expected chronological merge, got %+v", bars)
	}
}

func TestKlineInterval(t *testing.T) {
	if got, err := klineInterval(86_400_000); err != nil || got != "1d" {
		t.Errorf("expected 1d, got %q err %v", got, err)
	}
	if got, err := klineInterval(60_000); err != nil || got != "1m" {
		t.Errorf("expected 1m, got %q err %v", got, err)
	}
	if _, err := klineInterval(42); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

func TestParseKline(t *testing.T) {
	k := &futures.Kline{
		OpenTime: day1.UnixMilli(),
		Open:     "100.5",
		High:     "105",
		Low:      "95",
		Close:    "102",
		Volume:   "1000",
	}
	bar, err := parseKline(k, "BTCUSDT")
	if err != nil {
		t.Fatalf("parseKline failed: %v", err)
	}
	if bar.Open != 100.5 || !bar.Timestamp.Equal(day1) || bar.Symbol != "BTCUSDT" {
		t.Errorf("unexpected bar %+v", bar)
	}

	k.High = "not-a-number"
	if _, err := parseKline(k, "BTCUSDT"); !errors.Is(err, models.ErrSchemaViolation) {
		t.Errorf("expected schema violation, got %v", err)
	}
}
