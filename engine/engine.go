// Package engine implements the strategy step engine: six named stages per
// logical timestamp, each independently invocable, reading only persisted
// artifacts, bounded bar windows and the fill ledger. No state crosses a
// stage boundary in memory, which is what lets a run be resumed across
// process restarts with bit-identical results.
package engine

import (
	"context"
	"fmt"
	"time"

	"stratflow/artifact"
	"stratflow/exchange"
	"stratflow/logger"
	"stratflow/models"
	"stratflow/reader"
	"stratflow/strategy"
)

// Stage names, as they appear in logs and error messages.
const (
	StageCalculateSignals   = "calculate_signals"
	StageConstructPortfolio = "construct_portfolio"
	StageCreateEntryOrders  = "create_entry_orders"
	StageCreateExitOrders   = "create_exit_orders"
	StageSubmitEntryOrders  = "submit_entry_orders"
	StageSubmitExitOrders   = "submit_exit_orders"
)

// Artifact kinds persisted by the first four stages.
const (
	artifactSignals     = "signals"
	artifactPortfolio   = "portfolio"
	artifactEntryOrders = "entry_orders"
	artifactExitOrders  = "exit_orders"
)

// Params carries the injected collaborators for a StepEngine.
type Params struct {
	Source     reader.BarSource
	Store      artifact.Store
	Venue      exchange.Client
	Components strategy.Components
	Symbols    []string

	// Window and Offset bound the bar fetch for signal calculation:
	// bars in [T-Offset-Window, T-Offset] feed the calculator.
	Window time.Duration
	Offset time.Duration

	// Manifest, when set, receives an entry per persisted artifact. It is
	// advisory run metadata and plays no part in stage semantics.
	Manifest *artifact.ManifestWriter
}

// StepEngine orchestrates the six stages. It holds no mutable run state of
// its own; everything it reads or writes lives in the store, the ledger
// behind the venue, or the bar source.
type StepEngine struct {
	source   reader.BarSource
	store    artifact.Store
	venue    exchange.Client
	comps    strategy.Components
	symbols  []string
	window   time.Duration
	offset   time.Duration
	manifest *artifact.ManifestWriter
	log      *logger.Entry
}

// New validates the wiring and returns a ready engine.
func New(p Params) (*StepEngine, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("step engine requires a bar source")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("step engine requires an artifact store")
	}
	if p.Venue == nil {
		return nil, fmt.Errorf("step engine requires a venue client")
	}
	if p.Components.Calculator == nil || p.Components.Constructor == nil ||
		p.Components.Entry == nil || p.Components.Exit == nil {
		return nil, fmt.Errorf("step engine requires all four strategy components")
	}
	if len(p.Symbols) == 0 {
		return nil, fmt.Errorf("step engine requires at least one symbol")
	}
	if p.Window <= 0 {
		return nil, fmt.Errorf("signal window must be positive")
	}
	if p.Offset < 0 {
		return nil, fmt.Errorf("signal offset must not be negative")
	}

	return &StepEngine{
		source:   p.Source,
		store:    p.Store,
		venue:    p.Venue,
		comps:    p.Components,
		symbols:  p.Symbols,
		window:   p.Window,
		offset:   p.Offset,
		manifest: p.Manifest,
		log:      logger.GetLogger().WithComponent("step_engine"),
	}, nil
}

// recordArtifact notes a persisted artifact in the run manifest when one is
// attached. Manifest failures are logged, never fatal.
func (e *StepEngine) recordArtifact(ctx context.Context, kind, key string, rows int, size int64) {
	if e.manifest == nil {
		return
	}
	if err := e.manifest.Record(ctx, kind, key, rows, size, time.Now().UTC()); err != nil {
		e.log.WithError(err).Warn("failed to record artifact in run manifest")
	}
}

// CalculateSignals fetches the bounded bar window ending at T-offset, runs
// the signal calculator and persists the signals artifact for T.
func (e *StepEngine) CalculateSignals(ctx context.Context, t time.Time) error {
	started := time.Now()
	log := e.log.WithStage(StageCalculateSignals)

	end := t.Add(-e.offset)
	start := end.Add(-e.window)
	bars, err := e.source.Fetch(ctx, start, end, e.symbols)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars between %s and %s",
			models.ErrDataUnavailable, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	rows, err := e.comps.Calculator.Calculate(t, bars)
	if err != nil {
		return fmt.Errorf("signal calculator failed: %w", err)
	}
	if err := models.ValidateSignalRows(rows); err != nil {
		return err
	}

	data, err := artifact.EncodeSignals(rows)
	if err != nil {
		return err
	}
	key := artifact.Key(artifactSignals, t)
	if err := e.store.Save(ctx, key, data); err != nil {
		return err
	}
	e.recordArtifact(ctx, artifactSignals, key, len(rows), int64(len(data)))

	logger.IncrementStageRun(len(rows))
	logger.IncrementArtifactWrite(int64(len(data)))
	logger.LogStageEntry(log, StageCalculateSignals, time.Since(started), len(rows), logger.Fields{
		"t":    t.Format(time.RFC3339),
		"bars": len(bars),
	})
	return nil
}

// ConstructPortfolio reads the signals artifact for T plus freshly queried
// positions, runs the constructor and persists the portfolio artifact.
func (e *StepEngine) ConstructPortfolio(ctx context.Context, t time.Time) error {
	started := time.Now()
	log := e.log.WithStage(StageConstructPortfolio)

	signals, err := e.loadSignals(ctx, t)
	if err != nil {
		return err
	}
	positions, err := e.venue.FetchPositions(ctx)
	if err != nil {
		return err
	}

	rows, err := e.comps.Constructor.Construct(t, signals, positions)
	if err != nil {
		return fmt.Errorf("portfolio constructor failed: %w", err)
	}
	if err := models.ValidatePortfolioRows(rows); err != nil {
		return err
	}

	data, err := artifact.EncodePortfolio(rows)
	if err != nil {
		return err
	}
	key := artifact.Key(artifactPortfolio, t)
	if err := e.store.Save(ctx, key, data); err != nil {
		return err
	}
	e.recordArtifact(ctx, artifactPortfolio, key, len(rows), int64(len(data)))

	logger.IncrementStageRun(len(rows))
	logger.IncrementArtifactWrite(int64(len(data)))
	logger.LogStageEntry(log, StageConstructPortfolio, time.Since(started), len(rows), logger.Fields{
		"t":         t.Format(time.RFC3339),
		"positions": len(positions),
	})
	return nil
}

// CreateEntryOrders reads the portfolio artifact plus the latest bar per
// symbol, runs the entry creator and persists the entry orders artifact
// with deterministic order IDs.
func (e *StepEngine) CreateEntryOrders(ctx context.Context, t time.Time) error {
	started := time.Now()
	log := e.log.WithStage(StageCreateEntryOrders)

	portfolio, err := e.loadPortfolio(ctx, t)
	if err != nil {
		return err
	}
	latest, err := e.source.Latest(ctx, t, e.symbols)
	if err != nil {
		return err
	}

	orders, err := e.comps.Entry.Create(t, portfolio, latest)
	if err != nil {
		return fmt.Errorf("entry order creator failed: %w", err)
	}
	if err := e.persistOrders(ctx, artifactEntryOrders, "entry", t, orders); err != nil {
		return err
	}

	logger.LogStageEntry(log, StageCreateEntryOrders, time.Since(started), len(orders), logger.Fields{
		"t": t.Format(time.RFC3339),
	})
	return nil
}

// CreateExitOrders reads freshly queried positions plus the latest bar per
// symbol, runs the exit creator and persists the exit orders artifact. It
// has no portfolio dependency.
func (e *StepEngine) CreateExitOrders(ctx context.Context, t time.Time) error {
	started := time.Now()
	log := e.log.WithStage(StageCreateExitOrders)

	positions, err := e.venue.FetchPositions(ctx)
	if err != nil {
		return err
	}
	latest, err := e.source.Latest(ctx, t, e.symbols)
	if err != nil {
		return err
	}

	orders, err := e.comps.Exit.Create(t, positions, latest)
	if err != nil {
		return fmt.Errorf("exit order creator failed: %w", err)
	}
	if err := e.persistOrders(ctx, artifactExitOrders, "exit", t, orders); err != nil {
		return err
	}

	logger.LogStageEntry(log, StageCreateExitOrders, time.Since(started), len(orders), logger.Fields{
		"t":         t.Format(time.RFC3339),
		"positions": len(positions),
	})
	return nil
}

// SubmitEntryOrders forwards the persisted entry orders for T to the venue.
// Submission is not idempotent: re-invoking this stage resubmits the batch,
// exactly as resending a live order would.
func (e *StepEngine) SubmitEntryOrders(ctx context.Context, t time.Time) error {
	return e.submitOrders(ctx, StageSubmitEntryOrders, artifactEntryOrders, t)
}

// SubmitExitOrders forwards the persisted exit orders for T to the venue.
func (e *StepEngine) SubmitExitOrders(ctx context.Context, t time.Time) error {
	return e.submitOrders(ctx, StageSubmitExitOrders, artifactExitOrders, t)
}

// Stages lists the stage names in canonical execution order.
func Stages() []string {
	return []string{
		StageCalculateSignals,
		StageConstructPortfolio,
		StageCreateEntryOrders,
		StageCreateExitOrders,
		StageSubmitEntryOrders,
		StageSubmitExitOrders,
	}
}

// Run invokes one named stage at T. This is how a resumed process re-enters
// a run: any stage works on a fresh engine as long as its prerequisite
// artifacts already exist in the store.
func (e *StepEngine) Run(ctx context.Context, stage string, t time.Time) error {
	switch stage {
	case StageCalculateSignals:
		return e.CalculateSignals(ctx, t)
	case StageConstructPortfolio:
		return e.ConstructPortfolio(ctx, t)
	case StageCreateEntryOrders:
		return e.CreateEntryOrders(ctx, t)
	case StageCreateExitOrders:
		return e.CreateExitOrders(ctx, t)
	case StageSubmitEntryOrders:
		return e.SubmitEntryOrders(ctx, t)
	case StageSubmitExitOrders:
		return e.SubmitExitOrders(ctx, t)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Step runs all six stages for T in canonical order.
func (e *StepEngine) Step(ctx context.Context, t time.Time) error {
	stages := []struct {
		name string
		run  func(context.Context, time.Time) error
	}{
		{StageCalculateSignals, e.CalculateSignals},
		{StageConstructPortfolio, e.ConstructPortfolio},
		{StageCreateEntryOrders, e.CreateEntryOrders},
		{StageCreateExitOrders, e.CreateExitOrders},
		{StageSubmitEntryOrders, e.SubmitEntryOrders},
		{StageSubmitExitOrders, e.SubmitExitOrders},
	}
	for _, stage := range stages {
		if err := stage.run(ctx, t); err != nil {
			return fmt.Errorf("%s at %s: %w", stage.name, t.Format(time.RFC3339), err)
		}
	}
	return nil
}

func (e *StepEngine) loadSignals(ctx context.Context, t time.Time) ([]models.SignalRow, error) {
	data, found, err := e.store.Load(ctx, artifact.Key(artifactSignals, t))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no signals artifact for %s; run %s first",
			models.ErrMissingDependency, t.Format(time.RFC3339), StageCalculateSignals)
	}
	return artifact.DecodeSignals(data)
}

func (e *StepEngine) loadPortfolio(ctx context.Context, t time.Time) ([]models.PortfolioRow, error) {
	data, found, err := e.store.Load(ctx, artifact.Key(artifactPortfolio, t))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: no portfolio artifact for %s; run %s first",
			models.ErrMissingDependency, t.Format(time.RFC3339), StageConstructPortfolio)
	}
	return artifact.DecodePortfolio(data)
}

// persistOrders stamps timestamps and positional IDs onto a creator's
// batch, validates it and writes the orders artifact. IDs derive from the
// artifact kind, T and the batch position only, so a re-run of the same
// stage yields the same IDs.
func (e *StepEngine) persistOrders(ctx context.Context, kind, idPrefix string, t time.Time, orders []models.Order) error {
	for i := range orders {
		orders[i].ID = fmt.Sprintf("%s-%d-%04d", idPrefix, t.UnixMilli(), i)
		orders[i].Timestamp = t
	}
	if err := models.ValidateOrders(orders); err != nil {
		return err
	}

	data, err := artifact.EncodeOrders(orders)
	if err != nil {
		return err
	}
	key := artifact.Key(kind, t)
	if err := e.store.Save(ctx, key, data); err != nil {
		return err
	}
	e.recordArtifact(ctx, kind, key, len(orders), int64(len(data)))

	logger.IncrementStageRun(len(orders))
	logger.IncrementArtifactWrite(int64(len(data)))
	return nil
}

func (e *StepEngine) submitOrders(ctx context.Context, stage, kind string, t time.Time) error {
	started := time.Now()
	log := e.log.WithStage(stage)

	data, found, err := e.store.Load(ctx, artifact.Key(kind, t))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no %s artifact for %s; run the create stage first",
			models.ErrMissingDependency, kind, t.Format(time.RFC3339))
	}
	orders, err := artifact.DecodeOrders(data)
	if err != nil {
		return err
	}

	if len(orders) == 0 {
		log.WithFields(logger.Fields{"t": t.Format(time.RFC3339)}).Debug("empty order batch, nothing to submit")
		return nil
	}
	if err := e.venue.SubmitOrders(ctx, orders); err != nil {
		return err
	}

	logger.IncrementStageRun(len(orders))
	logger.LogStageEntry(log, stage, time.Since(started), len(orders), logger.Fields{
		"t": t.Format(time.RFC3339),
	})
	return nil
}
