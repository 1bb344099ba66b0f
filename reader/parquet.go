package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"stratflow/internal/symbols"
	"stratflow/logger"
	"stratflow/models"
)

// barRecord is the parquet row schema for bar files, timestamps in epoch
// milliseconds.
type barRecord struct {
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
}

// ParquetSource loads bar files produced by capture pipelines. The path may
// be a single parquet file or a directory of them.
type ParquetSource struct {
	memorySource
	path string
}

func NewParquetSource(path, vendor string) (*ParquetSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bar path %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read bar directory %s: %w", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".parquet") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	} else {
		files = []string{path}
	}

	var bars []models.Bar
	for _, file := range files {
		fileBars, err := loadParquetFile(file, vendor)
		if err != nil {
			return nil, err
		}
		bars = append(bars, fileBars...)
	}

	src := &ParquetSource{memorySource: newMemorySource(bars), path: path}
	logger.GetLogger().WithComponent("parquet_source").WithFields(logger.Fields{
		"path":    path,
		"files":   len(files),
		"symbols": src.symbolCount(),
		"bars":    src.barCount(),
	}).Info("parquet bar source loaded")
	return src, nil
}

func loadParquetFile(path, vendor string) ([]models.Bar, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(barRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a bar parquet file: %v", models.ErrSchemaViolation, path, err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	records := make([]barRecord, num)
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("%w: failed to read bar rows from %s: %v", models.ErrSchemaViolation, path, err)
	}

	bars := make([]models.Bar, 0, len(records))
	for _, rec := range records {
		bars = append(bars, models.Bar{
			Timestamp: time.UnixMilli(rec.Timestamp).UTC(),
			Symbol:    symbols.Canonical(vendor, rec.Symbol),
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			Volume:    rec.Volume,
		})
	}
	return bars, nil
}
