package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stratflow/artifact"
	"stratflow/config"
	"stratflow/driver"
	"stratflow/engine"
	"stratflow/exchange"
	"stratflow/internal/symbols"
	"stratflow/ledger"
	"stratflow/logger"
	"stratflow/models"
	"stratflow/reader"
	"stratflow/strategy"
	"stratflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	stageName := flag.String("stage", "", "Run a single stage and exit (live-style invocation)")
	stageTime := flag.String("at", "", "RFC3339 timestamp for -stage")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Stratflow.Name,
		"version": cfg.Stratflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting stratflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	// CloudWatch publishing stays off for local development runs
	if cfg.Storage.S3.Enabled && config.IsProductionLike(config.AppEnvironment()) {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Stratflow.Name, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if err := run(ctx, cfg, *stageName, *stageTime); err != nil {
		log.WithError(err).Error("run failed")
		os.Exit(1)
	}

	log.Info("stratflow stopped")
}

// run wires the configured components and either walks the full backtest
// calendar or, when stage is set, performs exactly one stage invocation the
// way a live scheduler would.
func run(ctx context.Context, cfg *config.Config, stage, stageAt string) error {
	log := logger.GetLogger().WithComponent("main")

	syms, err := resolveSymbols(cfg)
	if err != nil {
		return err
	}
	start, end, err := cfg.Run.Range()
	if err != nil {
		return err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer led.Close()

	source, err := reader.NewSource(ctx, cfg.Data)
	if err != nil {
		return err
	}

	comps, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return err
	}

	manifest := artifact.NewManifestWriter(store, cfg.Strategy.Name, time.Now().UTC())

	var venue exchange.Client
	var mock *exchange.MatchingEngine
	switch cfg.Venue.Mode {
	case "mock":
		cost := models.CostModel{
			CommissionRate:  cfg.Venue.Cost.CommissionRate,
			SlippageBps:     cfg.Venue.Cost.SlippageBps,
			FillPricePolicy: models.FillPricePolicy(cfg.Venue.Cost.FillPricePolicy),
		}
		// The mock venue needs the window head for warmup and one step past
		// the end for the look-ahead fill rule.
		bars, err := source.Fetch(ctx, start.Add(-(cfg.Run.Window()+cfg.Run.Offset())), end.Add(cfg.Run.Step()), syms)
		if err != nil {
			return fmt.Errorf("failed to load bars for the mock venue: %w", err)
		}
		mock, err = exchange.NewMatchingEngine(cost, led, bars)
		if err != nil {
			return err
		}
		venue = mock
	case "binance":
		venue = exchange.NewBinanceClient(ctx,
			cfg.Venue.Binance.APIKey, cfg.Venue.Binance.APISecret, cfg.Venue.Binance.Testnet,
			syms, cfg.Data.RateLimit.RequestsPerSecond, cfg.Data.RateLimit.BurstSize)
	default:
		return fmt.Errorf("venue.mode '%s' is not supported", cfg.Venue.Mode)
	}

	eng, err := engine.New(engine.Params{
		Source:     source,
		Store:      store,
		Venue:      venue,
		Components: comps,
		Symbols:    syms,
		Window:     cfg.Run.Window(),
		Offset:     cfg.Run.Offset(),
		Manifest:   manifest,
	})
	if err != nil {
		return err
	}

	var exporter *writer.FillExporter
	if cfg.Export.Enabled {
		exporter, err = writer.NewFillExporter(ctx, cfg.Export, cfg.Storage.S3, cfg.Stratflow.Version, manifest)
		if err != nil {
			return err
		}
	}

	if stage != "" {
		t, err := time.Parse(time.RFC3339, stageAt)
		if err != nil {
			return fmt.Errorf("-at must be a RFC3339 timestamp when -stage is set: %w", err)
		}
		if mock != nil {
			mock.Advance(t.UTC())
		}
		log.WithFields(logger.Fields{
			"stage":  stage,
			"at":     t.UTC().Format(time.RFC3339),
			"run_id": manifest.RunID(),
		}).Info("single stage invocation")
		return eng.Run(ctx, stage, t.UTC())
	}

	if mock == nil {
		return fmt.Errorf("venue.mode must be 'mock' for a calendar run; live venues are driven one stage at a time with -stage")
	}

	bt, err := driver.New(driver.Params{
		Engine:   eng,
		Venue:    mock,
		Ledger:   led,
		Exporter: exporter,
		Start:    start,
		End:      end,
		Step:     cfg.Run.Step(),
	})
	if err != nil {
		return err
	}

	sum, err := bt.Run(ctx)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"run_id":   manifest.RunID(),
		"steps":    sum.Steps,
		"skipped":  sum.Skipped,
		"fills":    sum.Fills,
		"exported": len(sum.Exported),
		"elapsed":  sum.Elapsed.String(),
	}).Info("run summary")
	return nil
}

// resolveSymbols returns the canonical symbol list for the run, either from
// the named universe or from the inline run.symbols list.
func resolveSymbols(cfg *config.Config) ([]string, error) {
	if cfg.Run.Universe != "" {
		universes, err := config.LoadUniverses(cfg.Run.UniverseFile)
		if err != nil {
			return nil, err
		}
		u, ok := universes.Find(cfg.Run.Universe)
		if !ok {
			return nil, fmt.Errorf("universe '%s' not found in %s", cfg.Run.Universe, cfg.Run.UniverseFile)
		}
		return symbols.CanonicalAll(u.Vendor, u.Symbols), nil
	}
	return symbols.CanonicalAll(cfg.Data.Vendor, cfg.Run.Symbols), nil
}

func buildStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	switch cfg.Artifacts.Backend {
	case "local":
		return artifact.NewLocalStore(cfg.Artifacts.Root)
	case "s3":
		return artifact.NewS3Store(ctx, cfg.Storage.S3, cfg.Artifacts.Root, cfg.Stratflow.Version)
	}
	return nil, fmt.Errorf("artifacts.backend '%s' is not supported", cfg.Artifacts.Backend)
}
