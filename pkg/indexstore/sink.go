package indexstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/export"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

// Sink indexes the run summary. Run tables are not stored.
type Sink struct {
	log   logrus.FieldLogger
	store Store
}

// Ensure interface compliance.
var _ export.Sink = (*Sink)(nil)

// NewSink creates a sink writing into a started store.
func NewSink(log logrus.FieldLogger, store Store) *Sink {
	return &Sink{
		log:   log.WithField("component", "index-sink"),
		store: store,
	}
}

// WriteRun is a no-op; runs are indexed from the summary so that failed runs
// are recorded too.
func (s *Sink) WriteRun(context.Context, *runtable.Table) error {
	return nil
}

// WriteSummary upserts every processed and failed run.
func (s *Sink) WriteSummary(ctx context.Context, sum *report.Summary) error {
	now := time.Now().UTC()

	rows := make([]*Run, 0, len(sum.Runs)+len(sum.Failed))

	for _, r := range sum.Runs {
		row, err := FromReport(r)
		if err != nil {
			return err
		}

		rows = append(rows, row)
	}

	for _, f := range sum.Failed {
		rows = append(rows, FromFailure(f))
	}

	for _, row := range rows {
		row.ReindexedAt = &now

		if err := s.store.UpsertRun(ctx, row); err != nil {
			return fmt.Errorf("indexing run %s: %w", row.RunID, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"processed": len(sum.Runs),
		"failed":    len(sum.Failed),
	}).Info("Indexed run reports")

	return nil
}
