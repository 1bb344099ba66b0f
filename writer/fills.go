// Package writer exports the fill ledger to parquet files partitioned by
// symbol and trade date, with optional upload to S3. Exports are derived
// views for analysis tooling; the ledger file itself stays the record of
// truth.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"stratflow/artifact"
	"stratflow/config"
	"stratflow/logger"
	"stratflow/models"
)

type fillRecord struct {
	OrderID    string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Side       string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Quantity   float64 `parquet:"name=quantity, type=DOUBLE"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Commission float64 `parquet:"name=commission, type=DOUBLE"`
}

// memoryFile adapts a byte buffer to the parquet writer's file interface so
// a file can be staged fully in memory before hitting disk or S3.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(name string) (source.ParquetFile, error) { return m, nil }

func (m *memoryFile) Open(name string) (source.ParquetFile, error) { return m, nil }

// Seek is not exercised on the write path; report the current length.
func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	return int64(m.buf.Len()), nil
}

func (m *memoryFile) Read(p []byte) (int, error) { return m.buf.Read(p) }

func (m *memoryFile) Write(p []byte) (int, error) { return m.buf.Write(p) }

func (m *memoryFile) Close() error { return nil }

func (m *memoryFile) Bytes() []byte { return m.buf.Bytes() }

// ExportedFile describes one parquet file produced by an export.
type ExportedFile struct {
	Path    string `json:"path"`
	Key     string `json:"key"`
	Records int    `json:"records"`
	Size    int64  `json:"size_in_bytes"`
}

// FillExporter writes fills as partitioned parquet files under a local
// directory and optionally mirrors them to S3.
type FillExporter struct {
	cfg      config.ExportConfig
	storage  config.S3Config
	s3Client *s3.Client
	version  string
	manifest *artifact.ManifestWriter
	log      *logger.Entry
}

// NewFillExporter validates the export settings and, when upload is
// requested, connects the S3 client. The manifest writer is optional; when
// present every exported file is recorded in the run manifest.
func NewFillExporter(ctx context.Context, cfg config.ExportConfig, storage config.S3Config, version string, manifest *artifact.ManifestWriter) (*FillExporter, error) {
	log := logger.GetLogger().WithComponent("fill_exporter")

	switch cfg.Compression {
	case "snappy", "gzip", "none", "":
	default:
		return nil, fmt.Errorf("unsupported export compression %q", cfg.Compression)
	}
	if cfg.Directory == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	e := &FillExporter{
		cfg:      cfg,
		storage:  storage,
		version:  version,
		manifest: manifest,
		log:      log,
	}

	if cfg.Upload {
		if !storage.Enabled {
			return nil, fmt.Errorf("export upload requires S3 storage to be enabled")
		}
		client, err := artifact.NewS3Client(ctx, storage)
		if err != nil {
			return nil, err
		}
		e.s3Client = client
	}

	log.WithFields(logger.Fields{
		"directory":   cfg.Directory,
		"compression": cfg.Compression,
		"batch_size":  cfg.BatchSize,
		"upload":      cfg.Upload,
	}).Info("fill exporter initialized")

	return e, nil
}

type exportGroup struct {
	symbol string
	date   string
}

// Export writes the fills to parquet, one file per symbol, trade date and
// batch-size chunk. Files land under the export directory; with upload
// enabled they are also put to S3 under exports/. Group and chunk order is
// deterministic, file names carry a random batch ID.
func (e *FillExporter) Export(ctx context.Context, fills []models.Fill) ([]ExportedFile, error) {
	if len(fills) == 0 {
		e.log.Debug("no fills to export")
		return nil, nil
	}

	groups := make(map[exportGroup][]models.Fill)
	for _, f := range fills {
		g := exportGroup{symbol: f.Symbol, date: f.Timestamp.UTC().Format("2006-01-02")}
		groups[g] = append(groups[g], f)
	}
	keys := make([]exportGroup, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].date < keys[j].date
	})

	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(fills)
	}

	var (
		files  []ExportedFile
		staged [][]byte
	)
	for _, g := range keys {
		rows := groups[g]
		for offset := 0; offset < len(rows); offset += batchSize {
			end := offset + batchSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[offset:end]

			data, err := e.buildParquet(chunk)
			if err != nil {
				return files, fmt.Errorf("failed to build parquet for %s %s: %w", g.symbol, g.date, err)
			}

			key := exportKey(g.symbol, g.date)
			full := filepath.Join(e.cfg.Directory, filepath.FromSlash(key))
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return files, fmt.Errorf("failed to create partition directory: %w", err)
			}
			if err := os.WriteFile(full, data, 0o644); err != nil {
				return files, fmt.Errorf("failed to write export file %s: %w", full, err)
			}

			ef := ExportedFile{
				Path:    full,
				Key:     key,
				Records: len(chunk),
				Size:    int64(len(data)),
			}
			files = append(files, ef)
			staged = append(staged, data)

			logger.LogArtifactFlow(e.log, "fill_ledger", key, ef.Records, "fills")
			logger.RecordStreamMessage("fills_export", len(data))

			if e.manifest != nil {
				if err := e.manifest.Record(ctx, "fills_export", key, ef.Records, ef.Size, time.Now().UTC()); err != nil {
					e.log.WithError(err).Warn("failed to record export in run manifest")
				}
			}
		}
	}

	if e.s3Client != nil {
		if err := e.uploadAll(ctx, files, staged); err != nil {
			return files, err
		}
	}

	records := 0
	for _, f := range files {
		records += f.Records
	}
	e.log.WithFields(logger.Fields{
		"files":   len(files),
		"records": records,
	}).Info("fill export complete")

	return files, nil
}

// exportKey builds the partition-relative key for one export file.
func exportKey(symbol, date string) string {
	compact := strings.ReplaceAll(date, "-", "")
	name := fmt.Sprintf("fills_%s_%s_%s.parquet", symbol, compact, uuid.New().String()[:8])
	return path.Join(
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", date),
		name,
	)
}

func (e *FillExporter) buildParquet(fills []models.Fill) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(fillRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch e.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, f := range fills {
		rec := fillRecord{
			OrderID:    f.OrderID,
			Timestamp:  f.Timestamp.UnixMilli(),
			Symbol:     f.Symbol,
			Side:       string(f.Side),
			Quantity:   f.Quantity,
			Price:      f.Price,
			Commission: f.Commission,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

// uploadAll puts every staged file to S3 with a small worker pool sized by
// storage.s3.upload_concurrency.
func (e *FillExporter) uploadAll(ctx context.Context, files []ExportedFile, staged [][]byte) error {
	workers := e.storage.UploadConcurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	type job struct {
		file ExportedFile
		data []byte
	}
	jobs := make(chan job)
	errCh := make(chan error, len(files))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := e.upload(ctx, j.file, j.data); err != nil {
					errCh <- err
				}
			}
		}()
	}
	for i, f := range files {
		jobs <- job{file: f, data: staged[i]}
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	var (
		failed int
		first  error
	)
	for err := range errCh {
		failed++
		if first == nil {
			first = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d export uploads failed: %w", failed, len(files), first)
	}
	return nil
}

func (e *FillExporter) upload(ctx context.Context, f ExportedFile, data []byte) error {
	key := path.Join("exports", f.Key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.storage.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       e.cfg.Compression,
			"stratflow-version": e.version,
		},
	}
	if _, err := e.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to upload %s to bucket %s: %v",
			models.ErrExternalCall, key, e.storage.Bucket, err)
	}
	e.log.WithFields(logger.Fields{
		"key":  key,
		"size": f.Size,
	}).Debug("export file uploaded")
	logger.IncrementArtifactWrite(f.Size)
	return nil
}
