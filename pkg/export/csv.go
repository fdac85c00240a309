package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

// CSVSink writes one run_data_<run_id>.csv per run and run_summary.csv.
type CSVSink struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Sink = (*CSVSink)(nil)

// NewCSVSink creates a sink writing into dir. Call Prepare first.
func NewCSVSink(log logrus.FieldLogger, dir string, owner *fsutil.OwnerConfig) *CSVSink {
	return &CSVSink{
		log:   log.WithField("component", "csv-sink"),
		dir:   dir,
		owner: owner,
	}
}

// WriteRun writes the feature table of one run.
func (s *CSVSink) WriteRun(_ context.Context, t *runtable.Table) error {
	data, err := EncodeTable(t)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", t.RunID, err)
	}

	path := filepath.Join(s.dir, RunFileName(t.RunID))
	if err := fsutil.WriteFileAtomic(path, data, filePerm, s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id": t.RunID,
		"rows":   t.Len(),
		"path":   path,
	}).Debug("Wrote run table")

	return nil
}

// WriteSummary writes run_summary.csv.
func (s *CSVSink) WriteSummary(_ context.Context, sum *report.Summary) error {
	data, err := EncodeSummary(sum)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	path := filepath.Join(s.dir, SummaryCSVName)
	if err := fsutil.WriteFileAtomic(path, data, filePerm, s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	s.log.WithField("runs", len(sum.Runs)).Info("Wrote run summary")

	return nil
}

// EncodeTable renders t as CSV: a time column in RFC 3339 followed by every
// column in table order. Nulls are empty cells.
func EncodeTable(t *runtable.Table) ([]byte, error) {
	cols := t.Columns()

	header := make([]string, 0, len(cols)+1)
	header = append(header, "time")

	series := make([]runtable.Series, 0, len(cols))

	for _, k := range cols {
		header = append(header, t.Header(k))

		s, _ := t.Column(k)
		series = append(series, s)
	}

	rows := make([][]string, 0, t.Len())

	for i, ts := range t.Times {
		row := make([]string, 0, len(header))
		row = append(row, ts.UTC().Format(time.RFC3339Nano))

		for _, s := range series {
			row = append(row, s[i].String())
		}

		rows = append(rows, row)
	}

	return encodeCSV(header, rows)
}

// EncodeSummary renders the summary as CSV.
func EncodeSummary(s *report.Summary) ([]byte, error) {
	return encodeCSV(s.Header(), s.Records())
}

func encodeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, err
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
