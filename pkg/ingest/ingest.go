// Package ingest reads long-format telemetry tables and casts their fields
// into typed measurements.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Supported input formats.
const (
	FormatCSV     = "csv"
	FormatXLSX    = "xlsx"
	FormatParquet = "parquet"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

// Reader loads measurements from a source.
type Reader interface {
	Read(ctx context.Context) ([]telemetry.Measurement, error)
}

// Config selects the input file and how to read it.
type Config struct {
	Path string
	// Format is csv, xlsx or parquet. Empty means infer from the file
	// extension.
	Format string
	// Sheet is the xlsx sheet to read. Empty means the first sheet.
	Sheet string
}

// NewReader returns a reader for cfg.
func NewReader(log logrus.FieldLogger, cfg *Config) (Reader, error) {
	format := cfg.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(cfg.Path)), ".")
	}

	l := log.WithField("component", "ingest").WithField("path", cfg.Path)

	switch format {
	case FormatCSV:
		return &csvReader{log: l, path: cfg.Path}, nil
	case FormatXLSX:
		return &xlsxReader{log: l, path: cfg.Path, sheet: cfg.Sheet}, nil
	case FormatParquet:
		return &parquetReader{log: l, path: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
}

// header aliases accepted for each column.
var (
	runIDHeaders  = []string{"run_uuid", "run_id"}
	timeHeaders   = []string{"time", "timestamp"}
	robotHeaders  = []string{"robot_id", "robot"}
	fieldHeaders  = []string{"field", "field_name"}
	valueHeaders  = []string{"value"}
	sensorHeaders = []string{"sensor_type"}
)

// columnIndex maps logical columns to record positions. sensor is -1 when
// the column is absent.
type columnIndex struct {
	runID, time, robot, field, value, sensor int
}

func newColumnIndex(header []string) (*columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}

	find := func(names []string) int {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i
			}
		}

		return -1
	}

	idx := &columnIndex{
		runID:  find(runIDHeaders),
		time:   find(timeHeaders),
		robot:  find(robotHeaders),
		field:  find(fieldHeaders),
		value:  find(valueHeaders),
		sensor: find(sensorHeaders),
	}

	required := []struct {
		name string
		i    int
	}{
		{"run_uuid", idx.runID},
		{"time", idx.time},
		{"robot_id", idx.robot},
		{"field", idx.field},
		{"value", idx.value},
	}

	for _, r := range required {
		if r.i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, r.name)
		}
	}

	return idx, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}

	return strings.TrimSpace(rec[i])
}

// parseRecord casts one row. line is used in error messages only.
func (c *columnIndex) parseRecord(rec []string, line int) (telemetry.Measurement, error) {
	ts, err := ParseTime(cell(rec, c.time))
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("line %d: %w", line, err)
	}

	v, err := ParseValue(cell(rec, c.value))
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("line %d: %w", line, err)
	}

	return telemetry.Measurement{
		RunID:      cell(rec, c.runID),
		Time:       ts,
		Robot:      telemetry.RobotID(cell(rec, c.robot)),
		Field:      cell(rec, c.field),
		Value:      v,
		SensorType: cell(rec, c.sensor),
	}, nil
}

// Times must fit the nanosecond row index of a run table.
var (
	minTime = time.Unix(0, math.MinInt64).UTC()
	maxTime = time.Unix(0, math.MaxInt64).UTC()
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime accepts RFC 3339 style timestamps (zone-less values are UTC) or
// numeric epoch seconds with an optional fraction. Times outside the range
// of nanosecond epoch timestamps are rejected.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("invalid time %q", s)
		}

		if f < float64(minTime.Unix()) || f > float64(maxTime.Unix()) {
			return time.Time{}, fmt.Errorf("time %q out of range", s)
		}

		sec, frac := math.Modf(f)

		return checkRange(s, time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC())
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return checkRange(s, t.UTC())
		}
	}

	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func checkRange(s string, t time.Time) (time.Time, error) {
	if t.Before(minTime) || t.After(maxTime) {
		return time.Time{}, fmt.Errorf("time %q out of range", s)
	}

	return t, nil
}

// ParseValue casts a measurement value. Empty, NaN and null markers are
// null; infinities are rejected.
func ParseValue(s string) (telemetry.Value, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none", "na":
		return telemetry.Null, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return telemetry.Null, fmt.Errorf("invalid value %q", s)
	}

	if math.IsNaN(f) {
		return telemetry.Null, nil
	}

	if math.IsInf(f, 0) {
		return telemetry.Null, fmt.Errorf("non-finite value %q", s)
	}

	return telemetry.Some(f), nil
}
