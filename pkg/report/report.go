// Package report reduces finished run tables into per-run summary records
// and collects them into the cross-run summary.
package report

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethpandaops/runfeatures/pkg/features"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// ErrUnorderedTimes is returned when a table's time index is not strictly
// ascending.
var ErrUnorderedTimes = errors.New("time index not strictly ascending")

// DefaultRobots are the robots reported when none are configured.
var DefaultRobots = []telemetry.RobotID{"1", "2"}

// Distance is the total path length travelled by one robot. Total is nil
// when the robot has no position data in the run.
type Distance struct {
	Robot telemetry.RobotID `json:"robot"`
	Total *float64          `json:"total"`
}

// RunReport summarizes one run. Time fields are nil for runs without rows.
type RunReport struct {
	RunID     string     `json:"run_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	TotalTime *float64   `json:"total_time"`
	Distances []Distance `json:"distances"`
}

// Distance returns the total distance for robot, or nil if it is absent.
func (r *RunReport) Distance(robot telemetry.RobotID) *float64 {
	for _, d := range r.Distances {
		if d.Robot == robot {
			return d.Total
		}
	}

	return nil
}

// Reporter builds run reports with a fixed set of robot distance fields.
type Reporter struct {
	robots []telemetry.RobotID
}

// NewReporter creates a reporter for the given robots. An empty list means
// DefaultRobots.
func NewReporter(robots []telemetry.RobotID) *Reporter {
	if len(robots) == 0 {
		robots = DefaultRobots
	}

	return &Reporter{robots: append([]telemetry.RobotID(nil), robots...)}
}

// Robots returns the robots whose distances are reported.
func (r *Reporter) Robots() []telemetry.RobotID {
	return append([]telemetry.RobotID(nil), r.robots...)
}

// Build reduces a fully featured table into a RunReport.
func (r *Reporter) Build(t *runtable.Table) (*RunReport, error) {
	for i := 1; i < t.Len(); i++ {
		if !t.Times[i].After(t.Times[i-1]) {
			return nil, fmt.Errorf("row %d: %w", i, ErrUnorderedTimes)
		}
	}

	rep := &RunReport{
		RunID:     t.RunID,
		Distances: make([]Distance, len(r.robots)),
	}

	if t.Len() > 0 {
		start := t.Times[0]
		end := t.Times[t.Len()-1]
		total := end.Sub(start).Seconds()

		rep.StartTime = &start
		rep.EndTime = &end
		rep.TotalTime = &total
	}

	for i, robot := range r.robots {
		rep.Distances[i] = Distance{
			Robot: robot,
			Total: totalDistance(t, robot),
		}
	}

	return rep, nil
}

// totalDistance sums the absolute per-step displacement of robot. It returns
// nil when the robot has no displacement column.
func totalDistance(t *runtable.Table, robot telemetry.RobotID) *float64 {
	d, ok := t.Column(features.DisplacementKey(robot))
	if !ok {
		return nil
	}

	var sum float64

	for i := 1; i < len(d); i++ {
		if d[i].Valid {
			sum += math.Abs(d[i].Float)
		}
	}

	return &sum
}
