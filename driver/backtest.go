// Package driver walks a strategy over a bar calendar against the mock
// venue. Each step advances the simulation clock and runs the six stages in
// canonical order; the run leaves behind stage artifacts, a fill ledger and
// optionally a parquet export of the fills.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stratflow/engine"
	"stratflow/exchange"
	"stratflow/ledger"
	"stratflow/logger"
	"stratflow/models"
	"stratflow/writer"
)

// Params wires a Backtest.
type Params struct {
	Engine *engine.StepEngine
	Venue  *exchange.MatchingEngine
	Ledger *ledger.Ledger

	// Exporter, when set, writes the final fill ledger to parquet after
	// the calendar walk completes.
	Exporter *writer.FillExporter

	Start time.Time
	End   time.Time // exclusive
	Step  time.Duration
}

// Summary reports what a completed run did.
type Summary struct {
	Steps    int                   `json:"steps"`
	Skipped  int                   `json:"skipped"`
	Fills    int                   `json:"fills"`
	Exported []writer.ExportedFile `json:"exported,omitempty"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// Backtest drives a full run. It owns no strategy state; interrupting and
// re-running over the same store and ledger reproduces the same decisions.
type Backtest struct {
	engine   *engine.StepEngine
	venue    *exchange.MatchingEngine
	ledger   *ledger.Ledger
	exporter *writer.FillExporter
	start    time.Time
	end      time.Time
	step     time.Duration
	log      *logger.Entry
}

// New validates the wiring and returns a ready Backtest.
func New(p Params) (*Backtest, error) {
	if p.Engine == nil {
		return nil, fmt.Errorf("backtest requires a step engine")
	}
	if p.Venue == nil {
		return nil, fmt.Errorf("backtest requires the mock venue")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("backtest requires a fill ledger")
	}
	if !p.Start.Before(p.End) {
		return nil, fmt.Errorf("backtest start %s must be before end %s",
			p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
	if p.Step <= 0 {
		return nil, fmt.Errorf("backtest step must be positive")
	}

	b := &Backtest{
		engine:   p.Engine,
		venue:    p.Venue,
		ledger:   p.Ledger,
		exporter: p.Exporter,
		start:    p.Start.UTC(),
		end:      p.End.UTC(),
		step:     p.Step,
		log:      logger.GetLogger().WithComponent("backtest_driver"),
	}

	b.log.WithFields(logger.Fields{
		"start": b.start.Format(time.RFC3339),
		"end":   b.end.Format(time.RFC3339),
		"step":  b.step.String(),
	}).Info("backtest driver initialized")

	return b, nil
}

// Run walks the calendar from start to end. Steps whose bar window is not
// served yet are skipped, which absorbs the warmup period at the head of a
// series; every other stage failure aborts the run.
func (b *Backtest) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	sum := &Summary{}

	for t := b.start; t.Before(b.end); t = t.Add(b.step) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		b.venue.Advance(t)
		err := b.engine.Step(ctx, t)
		switch {
		case err == nil:
			sum.Steps++
		case errors.Is(err, models.ErrDataUnavailable):
			sum.Skipped++
			b.log.WithFields(logger.Fields{
				"t":      t.Format(time.RFC3339),
				"reason": err.Error(),
			}).Warn("step skipped, bar window unavailable")
		default:
			return sum, fmt.Errorf("backtest aborted: %w", err)
		}
	}

	sum.Fills = b.ledger.Len()

	if b.exporter != nil {
		files, err := b.exporter.Export(ctx, b.ledger.Fills())
		if err != nil {
			return sum, fmt.Errorf("fill export failed: %w", err)
		}
		sum.Exported = files
	}

	sum.Elapsed = time.Since(started)
	b.log.WithFields(logger.Fields{
		"steps":    sum.Steps,
		"skipped":  sum.Skipped,
		"fills":    sum.Fills,
		"exported": len(sum.Exported),
		"elapsed":  sum.Elapsed.String(),
	}).Info("backtest complete")

	return sum, nil
}

// RunStage advances the simulation clock to t and invokes a single stage.
// This is the resume path: each invocation stands alone, reading its
// prerequisites from the store.
func (b *Backtest) RunStage(ctx context.Context, stage string, t time.Time) error {
	b.venue.Advance(t.UTC())
	return b.engine.Run(ctx, stage, t.UTC())
}
