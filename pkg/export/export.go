// Package export writes finished run tables and the run summary to local
// files and external stores.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

const (
	// SummaryCSVName is the file name of the tabular summary.
	SummaryCSVName = "run_summary.csv"

	// SummaryMarkdownName is the file name of the markdown summary.
	SummaryMarkdownName = "run_summary.md"

	// SummaryXLSXName is the file name of the spreadsheet summary.
	SummaryXLSXName = "run_summary.xlsx"

	dirPerm  = 0755
	filePerm = 0644
)

// Sink receives finished run tables and the final summary.
type Sink interface {
	WriteRun(ctx context.Context, t *runtable.Table) error
	WriteSummary(ctx context.Context, s *report.Summary) error
}

// Prepare creates the output directory. It is idempotent and must run once
// before any file sink writes into dir.
func Prepare(dir string, owner *fsutil.OwnerConfig) error {
	if dir == "" {
		return errors.New("output directory is required")
	}

	if err := fsutil.MkdirAll(dir, dirPerm, owner); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	return nil
}

// RunFileName returns the data file name for a run. Path separators and
// other unsafe bytes are percent-escaped, so distinct run ids always get
// distinct file names inside the output directory.
func RunFileName(runID string) string {
	return "run_data_" + url.PathEscape(runID) + ".csv"
}

// Multi fans out to several sinks. Every sink is called even if an earlier
// one fails; the errors are joined.
type Multi []Sink

// Ensure interface compliance.
var _ Sink = Multi(nil)

// WriteRun writes t to every sink.
func (m Multi) WriteRun(ctx context.Context, t *runtable.Table) error {
	var errs []error

	for _, s := range m {
		if err := s.WriteRun(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WriteSummary writes s to every sink.
func (m Multi) WriteSummary(ctx context.Context, s *report.Summary) error {
	var errs []error

	for _, sink := range m {
		if err := sink.WriteSummary(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
