package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stratflow StratflowConfig `yaml:"stratflow"`
	Run       RunConfig       `yaml:"run"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Data      DataConfig      `yaml:"data"`
	Venue     VenueConfig     `yaml:"venue"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Export    ExportConfig    `yaml:"export"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StratflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RunConfig bounds a backtest or replay: the timestamp range stepped over,
// the spacing between steps, and the signal window geometry. Durations are
// plain milliseconds so the file stays portable across tooling.
type RunConfig struct {
	Start    string   `yaml:"start"` // RFC3339
	End      string   `yaml:"end"`   // RFC3339, exclusive
	StepMs   int64    `yaml:"step_ms"`
	WindowMs int64    `yaml:"window_ms"`
	OffsetMs int64    `yaml:"offset_ms"`
	Symbols  []string `yaml:"symbols"`
	// Universe optionally names an entry in UniverseFile instead of listing
	// symbols inline.
	Universe     string `yaml:"universe"`
	UniverseFile string `yaml:"universe_file"`
}

// Range parses the configured start and end timestamps.
func (r RunConfig) Range() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("run.start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("run.end: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

func (r RunConfig) Step() time.Duration   { return time.Duration(r.StepMs) * time.Millisecond }
func (r RunConfig) Window() time.Duration { return time.Duration(r.WindowMs) * time.Millisecond }
func (r RunConfig) Offset() time.Duration { return time.Duration(r.OffsetMs) * time.Millisecond }

// StrategyConfig names the strategy bundle to instantiate and carries its
// numeric parameters. Parameter names are owned by the strategy.
type StrategyConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// Param returns the named parameter or def when the file does not set it.
func (s StrategyConfig) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// DataConfig selects the bar source feeding signal calculation.
type DataConfig struct {
	Source     string          `yaml:"source"` // csv, parquet or binance
	Path       string          `yaml:"path"`
	Vendor     string          `yaml:"vendor"` // symbol naming convention of the file or feed
	IntervalMs int64           `yaml:"interval_ms"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

func (d DataConfig) Interval() time.Duration { return time.Duration(d.IntervalMs) * time.Millisecond }

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// VenueConfig selects the execution venue and its cost assumptions.
type VenueConfig struct {
	Mode    string             `yaml:"mode"` // mock or binance
	Cost    CostConfig         `yaml:"cost"`
	Binance BinanceVenueConfig `yaml:"binance"`
}

type CostConfig struct {
	CommissionRate  float64 `yaml:"commission_rate"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	FillPricePolicy string  `yaml:"fill_price_policy"`
}

type BinanceVenueConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// ArtifactsConfig selects where stage outputs are persisted.
type ArtifactsConfig struct {
	Backend string `yaml:"backend"` // local or s3
	Root    string `yaml:"root"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig controls the parquet export of the fill ledger.
type ExportConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Directory   string `yaml:"directory"`
	Compression string `yaml:"compression"` // snappy, gzip or none
	BatchSize   int    `yaml:"batch_size"`
	Upload      bool   `yaml:"upload"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled           bool   `yaml:"enabled"`
	Bucket            string `yaml:"bucket"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	PathStyle         bool   `yaml:"path_style"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Data: DataConfig{
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 10},
		},
		Export: ExportConfig{
			Compression: "snappy",
			BatchSize:   5000,
		},
		Storage: StorageConfig{
			S3: S3Config{UploadConcurrency: 2},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	// Venue credentials always come from the environment when present so
	// keys never have to live in the file.
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Venue.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		config.Venue.Binance.APISecret = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Stratflow.Name == "" {
		return fmt.Errorf("stratflow.name is required")
	}

	if cfg.Stratflow.Version == "" {
		return fmt.Errorf("stratflow.version is required")
	}

	start, end, err := cfg.Run.Range()
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return fmt.Errorf("run.start must be before run.end")
	}
	if cfg.Run.StepMs <= 0 {
		return fmt.Errorf("run.step_ms must be greater than 0")
	}
	if cfg.Run.WindowMs <= 0 {
		return fmt.Errorf("run.window_ms must be greater than 0")
	}
	if cfg.Run.OffsetMs < 0 {
		return fmt.Errorf("run.offset_ms must not be negative")
	}
	if len(cfg.Run.Symbols) == 0 && cfg.Run.Universe == "" {
		return fmt.Errorf("run.symbols or run.universe is required")
	}
	if cfg.Run.Universe != "" && cfg.Run.UniverseFile == "" {
		return fmt.Errorf("run.universe_file is required when run.universe is set")
	}

	if cfg.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}

	switch cfg.Data.Source {
	case "csv", "parquet":
		if cfg.Data.Path == "" {
			return fmt.Errorf("data.path is required for source '%s'", cfg.Data.Source)
		}
	case "binance":
	default:
		return fmt.Errorf("data.source '%s' is not supported", cfg.Data.Source)
	}
	if cfg.Data.IntervalMs <= 0 {
		return fmt.Errorf("data.interval_ms must be greater than 0")
	}

	switch cfg.Venue.Mode {
	case "mock":
	case "binance":
		if cfg.Venue.Binance.APIKey == "" || cfg.Venue.Binance.APISecret == "" {
			return fmt.Errorf("venue.binance.api_key and venue.binance.api_secret are required when venue.mode is 'binance'")
		}
	default:
		return fmt.Errorf("venue.mode '%s' is not supported", cfg.Venue.Mode)
	}
	if cfg.Venue.Cost.CommissionRate < 0 {
		return fmt.Errorf("venue.cost.commission_rate must not be negative")
	}
	if cfg.Venue.Cost.SlippageBps < 0 {
		return fmt.Errorf("venue.cost.slippage_bps must not be negative")
	}
	switch cfg.Venue.Cost.FillPricePolicy {
	case "next_bar_open", "current_bar_close":
	default:
		return fmt.Errorf("venue.cost.fill_price_policy '%s' is not supported", cfg.Venue.Cost.FillPricePolicy)
	}

	switch cfg.Artifacts.Backend {
	case "local":
		if cfg.Artifacts.Root == "" {
			return fmt.Errorf("artifacts.root is required for the local backend")
		}
	case "s3":
		if !cfg.Storage.S3.Enabled {
			return fmt.Errorf("artifacts.backend 's3' requires storage.s3.enabled")
		}
	default:
		return fmt.Errorf("artifacts.backend '%s' is not supported", cfg.Artifacts.Backend)
	}

	if cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}

	if cfg.Export.Enabled {
		if cfg.Export.Directory == "" {
			return fmt.Errorf("export.directory is required when export is enabled")
		}
		switch cfg.Export.Compression {
		case "snappy", "gzip", "none":
		default:
			return fmt.Errorf("export.compression '%s' is not supported", cfg.Export.Compression)
		}
		if cfg.Export.BatchSize <= 0 {
			return fmt.Errorf("export.batch_size must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
