package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runfeatures/pkg/features"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

func at(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func featured(t *testing.T, runID string, secs []int64, cols map[runtable.ColumnKey][]float64) *runtable.Table {
	t.Helper()

	times := make([]time.Time, len(secs))
	for i, s := range secs {
		times[i] = at(s)
	}

	tbl := runtable.New(runID, times)

	for _, k := range []runtable.ColumnKey{
		{Robot: "1", Field: "x"},
		{Robot: "1", Field: "y"},
		{Robot: "2", Field: "x"},
		{Robot: "2", Field: "fx"},
	} {
		vals, ok := cols[k]
		if !ok {
			continue
		}

		s := make(runtable.Series, len(vals))
		for i, v := range vals {
			s[i] = telemetry.Some(v)
		}

		require.NoError(t, tbl.AddColumn(k, s))
	}

	require.NoError(t, features.NewEngine(logrus.New()).Apply(context.Background(), tbl))

	return tbl
}

func TestBuild_TotalDistanceIsPathLength(t *testing.T) {
	tbl := featured(t, "r1", []int64{0, 1, 2}, map[runtable.ColumnKey][]float64{
		{Robot: "1", Field: "x"}: {0, 5, 2},
	})

	rep, err := NewReporter(nil).Build(tbl)
	require.NoError(t, err)

	d1 := rep.Distance("1")
	require.NotNil(t, d1)
	assert.InDelta(t, 8.0, *d1, 1e-9)
	assert.Nil(t, rep.Distance("2"))
}

func TestBuild_Times(t *testing.T) {
	tbl := featured(t, "r1", []int64{10, 12, 25}, map[runtable.ColumnKey][]float64{
		{Robot: "1", Field: "x"}: {0, 1, 2},
	})

	rep, err := NewReporter(nil).Build(tbl)
	require.NoError(t, err)

	require.NotNil(t, rep.StartTime)
	require.NotNil(t, rep.EndTime)
	require.NotNil(t, rep.TotalTime)
	assert.Equal(t, at(10), *rep.StartTime)
	assert.Equal(t, at(25), *rep.EndTime)
	assert.Equal(t, 15.0, *rep.TotalTime)
}

func TestBuild_MultiAxisUsesEuclideanSteps(t *testing.T) {
	tbl := featured(t, "r1", []int64{0, 1, 2}, map[runtable.ColumnKey][]float64{
		{Robot: "1", Field: "x"}: {0, 3, 3},
		{Robot: "1", Field: "y"}: {0, 4, 0},
	})

	rep, err := NewReporter(nil).Build(tbl)
	require.NoError(t, err)
	require.NotNil(t, rep.Distance("1"))
	assert.InDelta(t, 9.0, *rep.Distance("1"), 1e-9)
}

func TestBuild_ForceOnlyRobotHasNullDistance(t *testing.T) {
	tbl := featured(t, "r1", []int64{0, 1}, map[runtable.ColumnKey][]float64{
		{Robot: "1", Field: "x"}:  {0, 1},
		{Robot: "2", Field: "fx"}: {1, 1},
	})

	rep, err := NewReporter(nil).Build(tbl)
	require.NoError(t, err)
	assert.NotNil(t, rep.Distance("1"))
	assert.Nil(t, rep.Distance("2"))
	assert.Len(t, rep.Distances, 2, "schema is fixed width")
}

func TestBuild_EmptyTable(t *testing.T) {
	rep, err := NewReporter(nil).Build(runtable.New("empty", nil))
	require.NoError(t, err)

	assert.Equal(t, "empty", rep.RunID)
	assert.Nil(t, rep.StartTime)
	assert.Nil(t, rep.EndTime)
	assert.Nil(t, rep.TotalTime)
	assert.Nil(t, rep.Distance("1"))
	assert.Nil(t, rep.Distance("2"))
}

func TestBuild_RejectsUnorderedTimes(t *testing.T) {
	tbl := runtable.New("bad", []time.Time{at(2), at(1)})

	_, err := NewReporter(nil).Build(tbl)
	assert.ErrorIs(t, err, ErrUnorderedTimes)
}

func TestAggregate_SortedByRunID(t *testing.T) {
	reports := map[string]*RunReport{
		"c": {RunID: "c"},
		"a": {RunID: "a"},
		"b": {RunID: "b"},
	}

	s := Aggregate(nil, reports)

	ids := make([]string, 0, len(s.Runs))
	for _, r := range s.Runs {
		ids = append(ids, r.RunID)
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, DefaultRobots, s.Robots)
}

func TestSummary_HeaderAndRecords(t *testing.T) {
	start, end := at(0), at(90)
	total := 90.0
	d1 := 8.0

	s := Aggregate(nil, map[string]*RunReport{
		"r1": {
			RunID:     "r1",
			StartTime: &start,
			EndTime:   &end,
			TotalTime: &total,
			Distances: []Distance{{Robot: "1", Total: &d1}, {Robot: "2"}},
		},
		"r0": {RunID: "r0"},
	})

	assert.Equal(t, []string{
		"run_id", "start_time", "end_time", "total_time",
		"total_distance_1", "total_distance_2",
	}, s.Header())

	assert.Equal(t, [][]string{
		{"r0", "", "", "", "", ""},
		{"r1", "1970-01-01T00:00:00Z", "1970-01-01T00:01:30Z", "90", "8", ""},
	}, s.Records())
}

func TestGenerateMarkdown(t *testing.T) {
	start := at(0)
	total := 75.0
	d1 := 1.5

	s := Aggregate(nil, map[string]*RunReport{
		"r1": {
			RunID:     "r1",
			StartTime: &start,
			TotalTime: &total,
			Distances: []Distance{{Robot: "1", Total: &d1}, {Robot: "2"}},
		},
	})

	s.Failed = []Failure{{RunID: "r9", Error: "merging features: time index mismatch"}}

	md := GenerateMarkdown(s, 0)

	assert.Contains(t, md, "# Run Summary")
	assert.Contains(t, md, "| Runs | 1 |")
	assert.Contains(t, md, "| Failed Runs | 1 |")
	assert.Contains(t, md, "| `r9` | merging features: time index mismatch |")
	assert.Contains(t, md, "| `r1` | 1970-01-01 00:00:00 UTC | 1m 15s | 1.500 | - |")
}

func TestGenerateMarkdown_Truncates(t *testing.T) {
	reports := make(map[string]*RunReport, 50)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("run-%02d", i)
		reports[id] = &RunReport{RunID: id}
	}

	md := GenerateMarkdown(Aggregate(nil, reports), 400)

	assert.Contains(t, md, "more run(s) not shown")
	assert.Less(t, len(md), 600)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{name: "sub-second", duration: 500 * time.Millisecond, expected: "500ms"},
		{name: "seconds only", duration: 45 * time.Second, expected: "45s"},
		{name: "minutes and seconds", duration: 10*time.Minute + 8*time.Second, expected: "10m 8s"},
		{name: "hours minutes seconds", duration: 2*time.Hour + 30*time.Minute + 15*time.Second, expected: "2h 30m 15s"},
		{name: "zero", duration: 0, expected: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
