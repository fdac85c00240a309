package features

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

func at(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func newTable(t *testing.T, secs []int64, cols map[runtable.ColumnKey][]float64) *runtable.Table {
	t.Helper()

	times := make([]time.Time, len(secs))
	for i, s := range secs {
		times[i] = at(s)
	}

	tbl := runtable.New("run", times)

	for _, k := range sortedKeys(cols) {
		s := make(runtable.Series, len(cols[k]))
		for i, v := range cols[k] {
			s[i] = telemetry.Some(v)
		}

		require.NoError(t, tbl.AddColumn(k, s))
	}

	return tbl
}

func sortedKeys(cols map[runtable.ColumnKey][]float64) []runtable.ColumnKey {
	keys := make([]runtable.ColumnKey, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	return keys
}

func key(robot telemetry.RobotID, field string) runtable.ColumnKey {
	return runtable.ColumnKey{Robot: robot, Field: field}
}

func vals(s runtable.Series) []any {
	out := make([]any, len(s))
	for i, v := range s {
		if v.Valid {
			out[i] = v.Float
		}
	}

	return out
}

func column(t *testing.T, tbl *runtable.Table, k runtable.ColumnKey) []any {
	t.Helper()

	s, ok := tbl.Column(k)
	require.True(t, ok, "missing column %s", k)

	return vals(s)
}

func TestVelocityAndAcceleration(t *testing.T) {
	tbl := newTable(t, []int64{0, 1, 2}, map[runtable.ColumnKey][]float64{
		key("1", "x"): {0, 10, 10},
	})

	vel, err := Velocity(tbl)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 10.0, 0.0}, column(t, vel, runtable.DerivedKey("1", "vx")))
	assert.Equal(t, []any{nil, 10.0, 0.0}, column(t, vel, VelocityKey("1")))

	acc, err := Acceleration(tbl, vel)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, -10.0}, column(t, acc, runtable.DerivedKey("1", "ax")))
	assert.Equal(t, []any{nil, nil, 10.0}, column(t, acc, AccelerationKey("1")))
}

func TestVelocity_ZeroElapsedIsUndefined(t *testing.T) {
	tbl := newTable(t, []int64{0, 1, 1, 3}, map[runtable.ColumnKey][]float64{
		key("1", "x"): {0, 2, 4, 8},
	})

	vel, err := Velocity(tbl)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 2.0, nil, 2.0}, column(t, vel, runtable.DerivedKey("1", "vx")))

	acc, err := Acceleration(tbl, vel)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, nil, nil}, column(t, acc, runtable.DerivedKey("1", "ax")))
}

func TestPosition_Displacement(t *testing.T) {
	tbl := newTable(t, []int64{0, 1, 2}, map[runtable.ColumnKey][]float64{
		key("1", "x"): {0, 3, 3},
		key("1", "y"): {0, 4, 0},
	})

	pos, err := Position(tbl)
	require.NoError(t, err)

	assert.Equal(t, []any{nil, 3.0, 0.0}, column(t, pos, runtable.DerivedKey("1", "dx")))
	assert.Equal(t, []any{nil, 4.0, -4.0}, column(t, pos, runtable.DerivedKey("1", "dy")))
	assert.Equal(t, []any{nil, 5.0, 4.0}, column(t, pos, DisplacementKey("1")))
	assert.False(t, pos.Has(runtable.DerivedKey("1", "dz")))
}

func TestTotalForce(t *testing.T) {
	tests := []struct {
		name string
		cols map[runtable.ColumnKey][]float64
		want []any
	}{
		{
			name: "single axis magnitude is absolute",
			cols: map[runtable.ColumnKey][]float64{key("1", "fx"): {-2, 3}},
			want: []any{2.0, 3.0},
		},
		{
			name: "two axes euclidean",
			cols: map[runtable.ColumnKey][]float64{
				key("1", "fx"): {3, 0},
				key("1", "fy"): {4, 5},
			},
			want: []any{5.0, 5.0},
		},
		{
			name: "three axes euclidean",
			cols: map[runtable.ColumnKey][]float64{
				key("1", "fx"): {1, 2},
				key("1", "fy"): {2, 3},
				key("1", "fz"): {2, 6},
			},
			want: []any{3.0, 7.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := newTable(t, []int64{0, 1}, tt.cols)

			out, err := TotalForce(tbl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, column(t, out, TotalForceKey("1")))
			assert.Len(t, out.Columns(), 1)
		})
	}
}

func TestMissingPrerequisitesProduceNoColumns(t *testing.T) {
	tbl := newTable(t, []int64{0, 1}, map[runtable.ColumnKey][]float64{
		key("1", "fx"):    {1, 1},
		key("2", "x"):     {0, 1},
		key("3", "other"): {5, 5},
	})

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), tbl))

	assert.True(t, tbl.Has(TotalForceKey("1")))
	assert.False(t, tbl.Has(VelocityKey("1")))
	assert.False(t, tbl.Has(DisplacementKey("1")))

	assert.True(t, tbl.Has(VelocityKey("2")))
	assert.True(t, tbl.Has(AccelerationKey("2")))
	assert.False(t, tbl.Has(TotalForceKey("2")))

	assert.False(t, tbl.Has(TotalForceKey("3")))
	assert.False(t, tbl.Has(VelocityKey("3")))
}

func TestEngine_PreservesTimeIndex(t *testing.T) {
	tbl := newTable(t, []int64{0, 2, 5, 6}, map[runtable.ColumnKey][]float64{
		key("1", "x"):  {0, 1, 2, 3},
		key("1", "fx"): {1, 1, 1, 1},
		key("2", "y"):  {4, 3, 2, 1},
	})

	before := append([]time.Time(nil), tbl.Times...)

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), tbl))

	assert.Equal(t, before, tbl.Times)

	for _, k := range tbl.Columns() {
		s, _ := tbl.Column(k)
		assert.Len(t, s, len(before), "column %s", k)
	}
}

func TestEngine_ColumnOrder(t *testing.T) {
	tbl := newTable(t, []int64{0, 1}, map[runtable.ColumnKey][]float64{
		key("1", "fx"): {1, 1},
		key("1", "x"):  {0, 1},
	})

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), tbl))

	names := make([]string, 0, len(tbl.Columns()))
	for _, k := range tbl.Columns() {
		names = append(names, k.String())
	}

	assert.Equal(t, []string{
		"fx_1", "x_1",
		"dx_1", "d_1",
		"f_1",
		"vx_1", "v_1",
		"ax_1", "a_1",
	}, names)
}

func TestEngine_RawFieldsSharingDerivedNames(t *testing.T) {
	tbl := newTable(t, []int64{0, 1, 2}, map[runtable.ColumnKey][]float64{
		key("1", "x"):  {0, 1, 3},
		key("1", "d"):  {7, 7, 7},
		key("1", "vx"): {9, 9, 9},
	})

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), tbl))

	assert.Equal(t, []any{7.0, 7.0, 7.0}, column(t, tbl, key("1", "d")))
	assert.Equal(t, []any{9.0, 9.0, 9.0}, column(t, tbl, key("1", "vx")))
	assert.Equal(t, []any{nil, 1.0, 2.0}, column(t, tbl, DisplacementKey("1")))
	assert.Equal(t, []any{nil, 1.0, 2.0}, column(t, tbl, runtable.DerivedKey("1", "vx")))
	assert.Equal(t, []any{nil, nil, 1.0}, column(t, tbl, runtable.DerivedKey("1", "ax")))

	headers := make(map[string]struct{}, len(tbl.Columns()))
	for _, k := range tbl.Columns() {
		headers[tbl.Header(k)] = struct{}{}
	}

	assert.Len(t, headers, len(tbl.Columns()))
	assert.Contains(t, headers, "raw_d_1")
	assert.Contains(t, headers, "d_1")
	assert.Contains(t, headers, "raw_vx_1")
	assert.Contains(t, headers, "vx_1")
}

func TestEngine_EmptyTable(t *testing.T) {
	tbl := runtable.New("empty", nil)

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), tbl))
	assert.Empty(t, tbl.Columns())
}

func TestEngine_Idempotent(t *testing.T) {
	build := func() *runtable.Table {
		return newTable(t, []int64{0, 1, 3}, map[runtable.ColumnKey][]float64{
			key("1", "x"):  {0, 4, 1},
			key("1", "y"):  {1, 1, 2},
			key("2", "fz"): {3, 3, 3},
		})
	}

	a, b := build(), build()

	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), a))
	require.NoError(t, NewEngine(logrus.New()).Apply(context.Background(), b))

	assert.Equal(t, a.Columns(), b.Columns())

	for _, k := range a.Columns() {
		sa, _ := a.Column(k)
		sb, _ := b.Column(k)
		assert.Equal(t, sa, sb)
	}
}

func TestMagnitude_NullPropagates(t *testing.T) {
	cols := []runtable.Series{
		{telemetry.Some(3), telemetry.Null},
		{telemetry.Some(4), telemetry.Some(1)},
	}

	got := magnitude(2, cols)
	assert.Equal(t, []any{5.0, nil}, vals(got))
	assert.False(t, math.IsNaN(got[0].Float))
}

func TestGraph_Stages(t *testing.T) {
	g, err := BuildGraph(runtable.New("r", nil))
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{TaskPosition, TaskTotalForce, TaskVelocity},
		{TaskAcceleration},
	}, g.Stages())
}

func TestGraph_Validation(t *testing.T) {
	noop := func(context.Context, Results) (*runtable.Table, error) { return nil, nil }

	_, err := NewGraph(Task{Name: "a", DependsOn: []string{"missing"}, Run: noop})
	assert.ErrorIs(t, err, ErrUnknownDependency)

	_, err = NewGraph(
		Task{Name: "a", DependsOn: []string{"b"}, Run: noop},
		Task{Name: "b", DependsOn: []string{"a"}, Run: noop},
	)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = NewGraph(Task{Name: "a", Run: noop}, Task{Name: "a", Run: noop})
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestGraph_DependentRunsAfterDependency(t *testing.T) {
	var finished atomic.Bool

	first := runtable.New("first", nil)

	g, err := NewGraph(
		Task{
			Name:      "second",
			DependsOn: []string{"first"},
			Run: func(_ context.Context, deps Results) (*runtable.Table, error) {
				assert.True(t, finished.Load())
				assert.Same(t, first, deps["first"])

				return runtable.New("second", nil), nil
			},
		},
		Task{
			Name: "first",
			Run: func(context.Context, Results) (*runtable.Table, error) {
				time.Sleep(10 * time.Millisecond)
				finished.Store(true)

				return first, nil
			},
		},
	)
	require.NoError(t, err)

	results, err := g.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", results["second"].RunID)
}

func TestGraph_ErrorStopsDependents(t *testing.T) {
	boom := errors.New("boom")

	var ran atomic.Bool

	g, err := NewGraph(
		Task{
			Name: "first",
			Run: func(context.Context, Results) (*runtable.Table, error) {
				return nil, boom
			},
		},
		Task{
			Name:      "second",
			DependsOn: []string{"first"},
			Run: func(context.Context, Results) (*runtable.Table, error) {
				ran.Store(true)

				return nil, nil
			},
		},
	)
	require.NoError(t, err)

	_, err = g.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran.Load())
}
