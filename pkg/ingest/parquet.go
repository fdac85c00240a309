package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// parquetBatchSize is how many rows are decoded per read.
const parquetBatchSize = 1024

type parquetReader struct {
	log  logrus.FieldLogger
	path string
}

// Ensure interface compliance.
var _ Reader = (*parquetReader)(nil)

func (r *parquetReader) Read(ctx context.Context) ([]telemetry.Measurement, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	ms, err := readParquet(ctx, pf)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"row_groups":   len(pf.RowGroups()),
		"measurements": len(ms),
	}).Info("Input loaded")

	return ms, nil
}

// parquetColumn is one flat leaf column of the input schema.
type parquetColumn struct {
	name string
	typ  parquet.Type
}

func parquetColumns(schema *parquet.Schema) []parquetColumn {
	paths := schema.Columns()
	cols := make([]parquetColumn, len(paths))

	for i, path := range paths {
		cols[i].name = strings.Join(path, ".")

		if leaf, ok := schema.Lookup(path...); ok {
			cols[i].typ = leaf.Node.Type()
		}
	}

	return cols
}

// readParquet renders every row into text cells keyed like a csv header, so
// the same aliases and casting rules apply to all input formats.
func readParquet(ctx context.Context, pf *parquet.File) ([]telemetry.Measurement, error) {
	cols := parquetColumns(pf.Schema())

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}

	idx, err := newColumnIndex(header)
	if err != nil {
		return nil, err
	}

	reader := parquet.NewReader(pf)
	defer func() { _ = reader.Close() }()

	var (
		ms    = make([]telemetry.Measurement, 0, pf.NumRows())
		rows  = make([]parquet.Row, parquetBatchSize)
		cells = make([]string, len(cols))
		line  = 1
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := reader.ReadRows(rows)

		for _, row := range rows[:n] {
			line++

			for i := range cells {
				cells[i] = ""
			}

			for _, v := range row {
				c := v.Column()
				if c < 0 || c >= len(cols) {
					continue
				}

				cell, err := renderParquetValue(v, cols[c].typ)
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", line, cols[c].name, err)
				}

				cells[c] = cell
			}

			m, err := idx.parseRecord(cells, line)
			if err != nil {
				return nil, err
			}

			ms = append(ms, m)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("reading rows: %w", readErr)
		}
	}

	return ms, nil
}

// renderParquetValue formats v as the text ParseTime and ParseValue accept.
// Timestamp columns become RFC 3339 in UTC; nulls become empty cells.
func renderParquetValue(v parquet.Value, typ parquet.Type) (string, error) {
	if v.IsNull() {
		return "", nil
	}

	switch v.Kind() {
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean()), nil
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10), nil
	case parquet.Int64:
		if ts, ok := timestampValue(v.Int64(), typ); ok {
			return ts.Format(time.RFC3339Nano), nil
		}

		return strconv.FormatInt(v.Int64(), 10), nil
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32), nil
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64), nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray()), nil
	default:
		return "", fmt.Errorf("unsupported parquet type %s", v.Kind())
	}
}

// timestampValue converts an int64 carrying a TIMESTAMP logical type.
func timestampValue(n int64, typ parquet.Type) (time.Time, bool) {
	if typ == nil {
		return time.Time{}, false
	}

	lt := typ.LogicalType()
	if lt == nil || lt.Timestamp == nil {
		return time.Time{}, false
	}

	unit := lt.Timestamp.Unit

	switch {
	case unit.Millis != nil:
		return time.UnixMilli(n).UTC(), true
	case unit.Micros != nil:
		return time.UnixMicro(n).UTC(), true
	default:
		return time.Unix(0, n).UTC(), true
	}
}
