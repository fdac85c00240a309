package runtable

import (
	"sort"
	"time"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Augment pivots one run's long-format measurements into a wide table.
//
// A row exists for every instant with at least one non-null observation, and
// a column exists for every (robot, field) with at least one non-null
// observation. When the same (time, robot, field) is observed more than once
// the last non-null value in input order wins. This is narrower than plain
// last-write-wins: a later null observation never erases an earlier reading
// at the same instant, since nulls carry no measurement.
func Augment(runID string, ms []telemetry.Measurement) *Table {
	type cellKey struct {
		ns  int64
		col ColumnKey
	}

	cells := make(map[cellKey]float64, len(ms))
	rows := make(map[int64]time.Time, len(ms))
	colSet := make(map[ColumnKey]struct{}, 8)

	for _, m := range ms {
		if !m.Value.Valid {
			continue
		}

		ns := m.Time.UnixNano()
		key := ColumnKey{Robot: m.Robot, Field: m.Field}

		cells[cellKey{ns: ns, col: key}] = m.Value.Float
		colSet[key] = struct{}{}

		if _, ok := rows[ns]; !ok {
			rows[ns] = m.Time
		}
	}

	nss := make([]int64, 0, len(rows))
	for ns := range rows {
		nss = append(nss, ns)
	}

	sort.Slice(nss, func(i, j int) bool { return nss[i] < nss[j] })

	times := make([]time.Time, len(nss))
	for i, ns := range nss {
		times[i] = rows[ns]
	}

	keys := make([]ColumnKey, 0, len(colSet))
	for k := range colSet {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Robot != keys[j].Robot {
			return keys[i].Robot < keys[j].Robot
		}

		return keys[i].Field < keys[j].Field
	})

	t := New(runID, times)

	for _, k := range keys {
		s := make(Series, len(nss))

		for i, ns := range nss {
			if v, ok := cells[cellKey{ns: ns, col: k}]; ok {
				s[i] = telemetry.Some(v)
			}
		}

		t.keys = append(t.keys, k)
		t.cols[k] = s
	}

	return t
}
