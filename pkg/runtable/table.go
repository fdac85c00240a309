// Package runtable holds the wide, time-indexed table built for a single run
// and the reshaping steps that produce it.
package runtable

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

var (
	// ErrDuplicateColumn is returned when a column key is added twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrLengthMismatch is returned when a series does not match the row count.
	ErrLengthMismatch = errors.New("series length does not match time index")

	// ErrTimeIndexMismatch is returned when merging tables whose time
	// indexes differ.
	ErrTimeIndexMismatch = errors.New("time index mismatch")
)

// RawPrefix is prepended to the rendered name of a raw field that would
// otherwise read like a derived column.
const RawPrefix = "raw_"

// ColumnKey identifies a column by robot and field. Derived columns live in
// their own namespace, so a raw field may share a name with a derived one.
type ColumnKey struct {
	Robot   telemetry.RobotID
	Field   string
	Derived bool
}

// DerivedKey returns the key of a computed column.
func DerivedKey(robot telemetry.RobotID, field string) ColumnKey {
	return ColumnKey{Robot: robot, Field: field, Derived: true}
}

// String returns the unqualified column header, e.g. "x_1". Use
// Table.Header for output, which keeps raw and derived headers apart.
func (k ColumnKey) String() string {
	return k.Field + "_" + string(k.Robot)
}

// Series is one column of nullable values aligned to a time index.
type Series []telemetry.Value

// Table is a wide table for one run. Rows are keyed by strictly ascending,
// unique times. Columns are only present when observed, so callers must check
// for presence with Column or Has.
type Table struct {
	RunID string
	Times []time.Time

	keys []ColumnKey
	cols map[ColumnKey]Series
}

// New creates an empty table over the given time index. The index is copied.
func New(runID string, times []time.Time) *Table {
	idx := make([]time.Time, len(times))
	copy(idx, times)

	return &Table{
		RunID: runID,
		Times: idx,
		cols:  make(map[ColumnKey]Series, 8),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Times)
}

// Columns returns column keys in table order.
func (t *Table) Columns() []ColumnKey {
	out := make([]ColumnKey, len(t.keys))
	copy(out, t.keys)

	return out
}

// Column returns the series for key.
func (t *Table) Column(key ColumnKey) (Series, bool) {
	s, ok := t.cols[key]

	return s, ok
}

// Has reports whether the column exists.
func (t *Table) Has(key ColumnKey) bool {
	_, ok := t.cols[key]

	return ok
}

// Name returns the rendered field name of key. A raw field is prefixed with
// RawPrefix when a derived column of the same robot and field exists, and
// always when it already starts with RawPrefix, so rendered names never
// collide.
func (t *Table) Name(key ColumnKey) string {
	if key.Derived {
		return key.Field
	}

	if strings.HasPrefix(key.Field, RawPrefix) || t.Has(DerivedKey(key.Robot, key.Field)) {
		return RawPrefix + key.Field
	}

	return key.Field
}

// Header returns the rendered column header of key, e.g. "x_1".
func (t *Table) Header(key ColumnKey) string {
	return t.Name(key) + "_" + string(key.Robot)
}

// Robots returns the distinct robots that own at least one column, in
// column order.
func (t *Table) Robots() []telemetry.RobotID {
	seen := make(map[telemetry.RobotID]struct{}, 2)
	out := make([]telemetry.RobotID, 0, 2)

	for _, k := range t.keys {
		if _, ok := seen[k.Robot]; ok {
			continue
		}

		seen[k.Robot] = struct{}{}
		out = append(out, k.Robot)
	}

	return out
}

// AddColumn appends a column. The series must have one value per row.
func (t *Table) AddColumn(key ColumnKey, s Series) error {
	if len(s) != len(t.Times) {
		return fmt.Errorf("column %s: %w (%d != %d)", key, ErrLengthMismatch, len(s), len(t.Times))
	}

	if _, exists := t.cols[key]; exists {
		return fmt.Errorf("column %s: %w", key, ErrDuplicateColumn)
	}

	t.keys = append(t.keys, key)
	t.cols[key] = s

	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := New(t.RunID, t.Times)

	for _, k := range t.keys {
		s := make(Series, len(t.cols[k]))
		copy(s, t.cols[k])

		c.keys = append(c.keys, k)
		c.cols[k] = s
	}

	return c
}

// Elapsed returns the seconds between row i-1 and row i.
func (t *Table) Elapsed(i int) float64 {
	return t.Times[i].Sub(t.Times[i-1]).Seconds()
}
