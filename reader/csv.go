package reader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"stratflow/internal/symbols"
	"stratflow/logger"
	"stratflow/models"
)

// csvHeader is the required column order of bar files.
var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// CSVSource loads a directory of per-symbol CSV bar files at construction
// time. The file name minus extension is the symbol as the vendor names it.
type CSVSource struct {
	memorySource
	path string
}

// NewCSVSource reads every *.csv file under dir. Malformed rows fail the
// whole load as a schema violation rather than being silently dropped.
func NewCSVSource(dir, vendor string) (*CSVSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read bar directory %s: %w", dir, err)
	}

	var bars []models.Bar
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".csv") {
			continue
		}
		symbol := symbols.Canonical(vendor, strings.TrimSuffix(name, filepath.Ext(name)))
		fileBars, err := loadCSVFile(filepath.Join(dir, name), symbol)
		if err != nil {
			return nil, err
		}
		bars = append(bars, fileBars...)
	}

	src := &CSVSource{memorySource: newMemorySource(bars), path: dir}
	logger.GetLogger().WithComponent("csv_source").WithFields(logger.Fields{
		"path":    dir,
		"symbols": src.symbolCount(),
		"bars":    src.barCount(),
	}).Info("csv bar source loaded")
	return src, nil
}

func loadCSVFile(path, symbol string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no header row", models.ErrSchemaViolation, path)
	}
	if len(header) < len(csvHeader) {
		return nil, fmt.Errorf("%w: %s header has %d columns, need %d", models.ErrSchemaViolation, path, len(header), len(csvHeader))
	}
	for i, want := range csvHeader {
		if strings.ToLower(strings.TrimSpace(header[i])) != want {
			return nil, fmt.Errorf("%w: %s column %d is %q, expected %q", models.ErrSchemaViolation, path, i, header[i], want)
		}
	}

	var bars []models.Bar
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrSchemaViolation, path, line, err)
		}

		ts, err := parseBarTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", models.ErrSchemaViolation, path, line, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: malformed %s %q", models.ErrSchemaViolation, path, line, csvHeader[i+1], record[i+1])
			}
			vals[i] = v
		}

		bars = append(bars, models.Bar{
			Timestamp: ts,
			Symbol:    symbol,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}

// parseBarTime accepts RFC3339 timestamps or integer epoch milliseconds.
func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
}
