package features

import (
	"math"

	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Derived field names. Per-axis columns prefix the raw axis, e.g. "vx",
// and the bare name holds the Euclidean magnitude, e.g. "v".
const (
	FieldDisplacement = "d"
	FieldVelocity     = "v"
	FieldTotalForce   = "f"
	FieldAcceleration = "a"
)

// DisplacementKey is the per-step displacement magnitude column of a robot.
func DisplacementKey(robot telemetry.RobotID) runtable.ColumnKey {
	return runtable.DerivedKey(robot, FieldDisplacement)
}

// VelocityKey is the velocity magnitude column of a robot.
func VelocityKey(robot telemetry.RobotID) runtable.ColumnKey {
	return runtable.DerivedKey(robot, FieldVelocity)
}

// TotalForceKey is the total force column of a robot.
func TotalForceKey(robot telemetry.RobotID) runtable.ColumnKey {
	return runtable.DerivedKey(robot, FieldTotalForce)
}

// AccelerationKey is the acceleration magnitude column of a robot.
func AccelerationKey(robot telemetry.RobotID) runtable.ColumnKey {
	return runtable.DerivedKey(robot, FieldAcceleration)
}

// axisColumns returns the present columns of robot for the given axes, keyed
// by axis name, along with the axes found in order. derived selects the
// computed namespace instead of raw fields.
func axisColumns(
	t *runtable.Table,
	robot telemetry.RobotID,
	axes []string,
	derived bool,
) ([]string, []runtable.Series) {
	var (
		found []string
		cols  []runtable.Series
	)

	for _, axis := range axes {
		s, ok := t.Column(runtable.ColumnKey{Robot: robot, Field: axis, Derived: derived})
		if !ok {
			continue
		}

		found = append(found, axis)
		cols = append(cols, s)
	}

	return found, cols
}

// difference returns s[i]-s[i-1]. Row 0, and rows next to a null, are null.
func difference(s runtable.Series) runtable.Series {
	out := make(runtable.Series, len(s))

	for i := 1; i < len(s); i++ {
		if !s[i].Valid || !s[i-1].Valid {
			continue
		}

		out[i] = telemetry.Some(s[i].Float - s[i-1].Float)
	}

	return out
}

// rate returns the finite difference of s over elapsed time. Rows with zero
// elapsed time are null.
func rate(t *runtable.Table, s runtable.Series) runtable.Series {
	out := difference(s)

	for i := 1; i < len(out); i++ {
		if !out[i].Valid {
			continue
		}

		dt := t.Elapsed(i)
		if dt == 0 {
			out[i] = telemetry.Null

			continue
		}

		out[i] = telemetry.Some(out[i].Float / dt)
	}

	return out
}

// magnitude returns the row-wise Euclidean norm of the given series. A row
// is null if any component is null.
func magnitude(n int, cols []runtable.Series) runtable.Series {
	out := make(runtable.Series, n)

	for i := 0; i < n; i++ {
		var (
			sum   float64
			valid = len(cols) > 0
		)

		for _, c := range cols {
			if !c[i].Valid {
				valid = false

				break
			}

			sum += c[i].Float * c[i].Float
		}

		if valid {
			out[i] = telemetry.Some(math.Sqrt(sum))
		}
	}

	return out
}

// derive builds a feature table from the per-axis columns of src, applying
// fn to each and adding a magnitude column named field. Source axes are raw
// fields unless fromDerived is set.
func derive(
	t, src *runtable.Table,
	fromDerived bool,
	field string,
	axes []string,
	prefix func(axis string) string,
	fn func(runtable.Series) runtable.Series,
) (*runtable.Table, error) {
	out := runtable.New(t.RunID, t.Times)

	for _, robot := range src.Robots() {
		found, cols := axisColumns(src, robot, axes, fromDerived)
		if len(found) == 0 {
			continue
		}

		derived := make([]runtable.Series, len(cols))

		for i, axis := range found {
			derived[i] = fn(cols[i])

			key := runtable.DerivedKey(robot, prefix(axis))
			if err := out.AddColumn(key, derived[i]); err != nil {
				return nil, err
			}
		}

		key := runtable.DerivedKey(robot, field)
		if err := out.AddColumn(key, magnitude(t.Len(), derived)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func prefixed(p string) func(string) string {
	return func(axis string) string { return p + axis }
}

// Position computes per-step displacement columns (dx, dy, dz, d) from the
// raw position axes of every robot.
func Position(t *runtable.Table) (*runtable.Table, error) {
	return derive(t, t, false, FieldDisplacement, telemetry.PositionAxes, prefixed(FieldDisplacement), difference)
}

// Velocity computes vx, vy, vz and the magnitude v from the raw position axes.
func Velocity(t *runtable.Table) (*runtable.Table, error) {
	return derive(t, t, false, FieldVelocity, telemetry.PositionAxes, prefixed(FieldVelocity), func(s runtable.Series) runtable.Series {
		return rate(t, s)
	})
}

// Acceleration computes ax, ay, az and the magnitude a from the per-axis
// columns of a velocity table.
func Acceleration(t, velocity *runtable.Table) (*runtable.Table, error) {
	axes := make([]string, len(telemetry.PositionAxes))
	for i, a := range telemetry.PositionAxes {
		axes[i] = FieldVelocity + a
	}

	return derive(t, velocity, true, FieldAcceleration, axes, func(vAxis string) string {
		return FieldAcceleration + vAxis[len(FieldVelocity):]
	}, func(s runtable.Series) runtable.Series {
		return rate(t, s)
	})
}

// TotalForce computes f as the Euclidean magnitude of the force axes present
// for each robot. Force axis columns are not duplicated.
func TotalForce(t *runtable.Table) (*runtable.Table, error) {
	out := runtable.New(t.RunID, t.Times)

	for _, robot := range t.Robots() {
		found, cols := axisColumns(t, robot, telemetry.ForceAxes, false)
		if len(found) == 0 {
			continue
		}

		if err := out.AddColumn(TotalForceKey(robot), magnitude(t.Len(), cols)); err != nil {
			return nil, err
		}
	}

	return out, nil
}
