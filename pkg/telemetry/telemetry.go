package telemetry

import (
	"strconv"
	"time"
)

// RobotID identifies a robot within a run (e.g. "1", "2").
type RobotID string

// Value is a nullable float sample.
type Value struct {
	Float float64
	Valid bool
}

// Null is the missing-value marker.
var Null = Value{}

// Some returns a valid Value holding f.
func Some(f float64) Value {
	return Value{Float: f, Valid: true}
}

// String renders the value for tabular output. Null renders as "".
func (v Value) String() string {
	if !v.Valid {
		return ""
	}

	return strconv.FormatFloat(v.Float, 'g', -1, 64)
}

// Ptr returns nil for null values.
func (v Value) Ptr() *float64 {
	if !v.Valid {
		return nil
	}

	f := v.Float

	return &f
}

// Measurement is a single long-format observation.
type Measurement struct {
	RunID      string
	Time       time.Time
	Robot      RobotID
	Field      string
	Value      Value
	SensorType string
}

// Position and force component fields.
const (
	FieldX  = "x"
	FieldY  = "y"
	FieldZ  = "z"
	FieldFX = "fx"
	FieldFY = "fy"
	FieldFZ = "fz"
)

// PositionAxes lists position component fields in output order.
var PositionAxes = []string{FieldX, FieldY, FieldZ}

// ForceAxes lists force component fields in output order.
var ForceAxes = []string{FieldFX, FieldFY, FieldFZ}
