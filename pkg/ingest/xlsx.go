package ingest

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

type xlsxReader struct {
	log   logrus.FieldLogger
	path  string
	sheet string
}

// Ensure interface compliance.
var _ Reader = (*xlsxReader)(nil)

func (r *xlsxReader) Read(ctx context.Context) ([]telemetry.Measurement, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := r.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}

		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	ms, err := parseRows(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}

	r.log.WithFields(logrus.Fields{
		"sheet":        sheet,
		"measurements": len(ms),
	}).Info("Input loaded")

	return ms, nil
}

// parseRows casts spreadsheet rows; the first row is the header. Blank rows
// are skipped.
func parseRows(ctx context.Context, rows [][]string) ([]telemetry.Measurement, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("reading header: empty input")
	}

	idx, err := newColumnIndex(rows[0])
	if err != nil {
		return nil, err
	}

	ms := make([]telemetry.Measurement, 0, len(rows)-1)

	for i, row := range rows[1:] {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if len(row) == 0 {
			continue
		}

		m, err := idx.parseRecord(row, i+2)
		if err != nil {
			return nil, err
		}

		ms = append(ms, m)
	}

	return ms, nil
}
