package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// ctxCheckInterval is how many rows are read between context checks.
const ctxCheckInterval = 4096

type csvReader struct {
	log  logrus.FieldLogger
	path string
}

// Ensure interface compliance.
var _ Reader = (*csvReader)(nil)

func (r *csvReader) Read(ctx context.Context) ([]telemetry.Measurement, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer func() { _ = f.Close() }()

	ms, err := readCSV(ctx, f)
	if err != nil {
		return nil, err
	}

	r.log.WithField("measurements", len(ms)).Info("Input loaded")

	return ms, nil
}

func readCSV(ctx context.Context, in io.Reader) ([]telemetry.Measurement, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading header: empty input")
		}

		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx, err := newColumnIndex(header)
	if err != nil {
		return nil, err
	}

	var ms []telemetry.Measurement

	for line := 2; ; line++ {
		if line%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		m, err := idx.parseRecord(rec, line)
		if err != nil {
			return nil, err
		}

		ms = append(ms, m)
	}

	return ms, nil
}
