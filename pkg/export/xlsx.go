package export

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ethpandaops/runfeatures/pkg/fsutil"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

const (
	summarySheet = "Summary"
	failedSheet  = "Failed"
)

// XLSXSink writes run_summary.xlsx with a Summary sheet and, when runs
// failed, a Failed sheet.
type XLSXSink struct {
	dir   string
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Sink = (*XLSXSink)(nil)

// NewXLSXSink creates a spreadsheet summary sink.
func NewXLSXSink(dir string, owner *fsutil.OwnerConfig) *XLSXSink {
	return &XLSXSink{dir: dir, owner: owner}
}

func (s *XLSXSink) WriteRun(context.Context, *runtable.Table) error {
	return nil
}

func (s *XLSXSink) WriteSummary(_ context.Context, sum *report.Summary) error {
	f, err := BuildWorkbook(sum)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("rendering workbook: %w", err)
	}

	path := filepath.Join(s.dir, SummaryXLSXName)
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), filePerm, s.owner); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// BuildWorkbook renders the summary into a workbook. Numeric fields are
// stored as numbers; null fields are left blank.
func BuildWorkbook(sum *report.Summary) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	header := sum.Header()
	if err := setRow(f, summarySheet, 1, toCells(header)); err != nil {
		_ = f.Close()

		return nil, err
	}

	for i, r := range sum.Runs {
		cells := []any{r.RunID, timeCell(r.StartTime), timeCell(r.EndTime), floatCell(r.TotalTime)}
		for _, robot := range sum.Robots {
			cells = append(cells, floatCell(r.Distance(robot)))
		}

		if err := setRow(f, summarySheet, i+2, cells); err != nil {
			_ = f.Close()

			return nil, err
		}
	}

	if len(sum.Failed) > 0 {
		if _, err := f.NewSheet(failedSheet); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("creating sheet: %w", err)
		}

		if err := setRow(f, failedSheet, 1, []any{"run_id", "error"}); err != nil {
			_ = f.Close()

			return nil, err
		}

		for i, fail := range sum.Failed {
			if err := setRow(f, failedSheet, i+2, []any{fail.RunID, fail.Error}); err != nil {
				_ = f.Close()

				return nil, err
			}
		}
	}

	return f, nil
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}

	return nil
}

func toCells(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}

	return out
}

func floatCell(f *float64) any {
	if f == nil {
		return nil
	}

	return *f
}

func timeCell(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC().Format(time.RFC3339Nano)
}
