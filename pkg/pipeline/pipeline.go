// Package pipeline turns long-format telemetry into per-run feature tables
// and the cross-run summary.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/runfeatures/pkg/features"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Sink receives finished run tables and the final summary.
type Sink interface {
	// WriteRun stores one completed run table.
	WriteRun(ctx context.Context, t *runtable.Table) error

	// WriteSummary stores the cross-run summary.
	WriteSummary(ctx context.Context, s *report.Summary) error
}

// Config for the pipeline.
type Config struct {
	// Concurrency bounds the number of runs processed at once. Zero or less
	// leaves it unbounded.
	Concurrency int

	// Robots whose distances appear in every report.
	Robots []telemetry.RobotID

	// FailFast cancels the remaining runs after the first run failure.
	FailFast bool
}

// Pipeline processes telemetry runs.
type Pipeline interface {
	// ProcessRun runs the full per-run chain for a single run.
	ProcessRun(ctx context.Context, runID string, ms []telemetry.Measurement) (*RunResult, error)

	// Process partitions ms by run, processes every run and aggregates the
	// reports of the successful ones.
	Process(ctx context.Context, ms []telemetry.Measurement) (*report.Summary, error)
}

// RunResult is the output of a single run.
type RunResult struct {
	Table  *runtable.Table
	Report *report.RunReport
}

// NewPipeline creates a pipeline. sink may be nil.
func NewPipeline(log logrus.FieldLogger, cfg *Config, sink Sink) Pipeline {
	l := log.WithField("component", "pipeline")

	return &pipeline{
		log:      l,
		cfg:      cfg,
		sink:     sink,
		engine:   features.NewEngine(l),
		reporter: report.NewReporter(cfg.Robots),
	}
}

type pipeline struct {
	log      logrus.FieldLogger
	cfg      *Config
	sink     Sink
	engine   features.Engine
	reporter *report.Reporter
}

// Ensure interface compliance.
var _ Pipeline = (*pipeline)(nil)

// ProcessRun augments, gap-fills, derives features and reports one run.
func (p *pipeline) ProcessRun(
	ctx context.Context,
	runID string,
	ms []telemetry.Measurement,
) (*RunResult, error) {
	t := runtable.Augment(runID, ms)

	if t.Len() == 0 && hasObservation(ms) {
		return nil, fmt.Errorf("%w: augmentation produced no rows for %d observations",
			ErrStructuralDefect, len(ms))
	}

	runtable.FillGaps(t)

	index := append([]time.Time(nil), t.Times...)

	if err := p.engine.Apply(ctx, t); err != nil {
		return nil, structural(err)
	}

	if err := sameTimes(index, t.Times); err != nil {
		return nil, err
	}

	rep, err := p.reporter.Build(t)
	if err != nil {
		return nil, structural(fmt.Errorf("building report: %w", err))
	}

	if p.sink != nil {
		if err := p.sink.WriteRun(ctx, t); err != nil {
			return nil, fmt.Errorf("writing run table: %w", err)
		}
	}

	return &RunResult{Table: t, Report: rep}, nil
}

// Process fans runs out over a bounded errgroup. A failed run is recorded in
// the summary and does not affect its siblings unless FailFast is set.
func (p *pipeline) Process(
	ctx context.Context,
	ms []telemetry.Measurement,
) (*report.Summary, error) {
	groups, order := telemetry.Partition(ms)

	p.log.WithFields(logrus.Fields{
		"measurements": len(ms),
		"runs":         len(order),
		"concurrency":  p.cfg.Concurrency,
	}).Info("Processing runs")

	var (
		mu      sync.Mutex
		reports = make(map[string]*report.RunReport, len(order))
		failed  []report.Failure
	)

	g, gCtx := errgroup.WithContext(ctx)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	}

	for _, runID := range order {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			runLog := p.log.WithField("run_id", runID)
			start := time.Now()

			res, err := p.ProcessRun(gCtx, runID, groups[runID])
			if err != nil {
				runErr := &RunError{RunID: runID, Err: err}

				runLog.WithError(err).Error("Run failed")

				mu.Lock()
				failed = append(failed, report.Failure{RunID: runID, Error: err.Error()})
				mu.Unlock()

				if p.cfg.FailFast {
					return runErr
				}

				return nil
			}

			runLog.WithFields(logrus.Fields{
				"rows":     res.Table.Len(),
				"columns":  len(res.Table.Columns()),
				"duration": time.Since(start),
			}).Debug("Run processed")

			mu.Lock()
			reports[runID] = res.Report
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing runs: %w", err)
	}

	summary := report.Aggregate(p.reporter.Robots(), reports)

	sort.Slice(failed, func(i, j int) bool {
		return failed[i].RunID < failed[j].RunID
	})

	summary.Failed = failed

	if p.sink != nil {
		if err := p.sink.WriteSummary(ctx, summary); err != nil {
			return summary, fmt.Errorf("writing summary: %w", err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"succeeded": len(summary.Runs),
		"failed":    len(summary.Failed),
	}).Info("Processing complete")

	return summary, nil
}

func hasObservation(ms []telemetry.Measurement) bool {
	for _, m := range ms {
		if m.Value.Valid {
			return true
		}
	}

	return false
}

func sameTimes(before, after []time.Time) error {
	if len(before) != len(after) {
		return fmt.Errorf("%w: %w: %d rows before features, %d after",
			ErrStructuralDefect, runtable.ErrTimeIndexMismatch, len(before), len(after))
	}

	for i := range before {
		if !before[i].Equal(after[i]) {
			return fmt.Errorf("%w: %w: row %d changed", ErrStructuralDefect, runtable.ErrTimeIndexMismatch, i)
		}
	}

	return nil
}
