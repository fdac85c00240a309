package indexstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Run statuses.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Run is a single indexed run report.
type Run struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"not null;uniqueIndex:idx_runs_run_id"`
	Status string `gorm:"index"`
	Error  string

	StartTime *time.Time
	EndTime   *time.Time
	TotalTime *float64

	// Per-robot distances serialized as JSON.
	DistancesJSON string `gorm:"type:text"`

	IndexedAt   time.Time
	ReindexedAt *time.Time
}

// FromReport converts a run report into an indexable row.
func FromReport(r *report.RunReport) (*Run, error) {
	distances, err := json.Marshal(r.Distances)
	if err != nil {
		return nil, fmt.Errorf("encoding distances: %w", err)
	}

	return &Run{
		RunID:         r.RunID,
		Status:        StatusProcessed,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		TotalTime:     r.TotalTime,
		DistancesJSON: string(distances),
	}, nil
}

// FromFailure converts a failed run into an indexable row.
func FromFailure(f report.Failure) *Run {
	return &Run{
		RunID:         f.RunID,
		Status:        StatusFailed,
		Error:         f.Error,
		DistancesJSON: "[]",
	}
}

// Report decodes the row back into a run report.
func (r *Run) Report() (*report.RunReport, error) {
	out := &report.RunReport{
		RunID:     r.RunID,
		StartTime: utc(r.StartTime),
		EndTime:   utc(r.EndTime),
		TotalTime: r.TotalTime,
	}

	if r.DistancesJSON != "" {
		if err := json.Unmarshal([]byte(r.DistancesJSON), &out.Distances); err != nil {
			return nil, fmt.Errorf("decoding distances of %s: %w", r.RunID, err)
		}
	}

	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}

// BuildSummary rebuilds the cross-run summary from indexed rows. Rows are
// expected in run id order, as returned by ListRuns.
func BuildSummary(robots []telemetry.RobotID, runs []Run) (*report.Summary, error) {
	if len(robots) == 0 {
		robots = report.DefaultRobots
	}

	sum := &report.Summary{
		Robots: append([]telemetry.RobotID(nil), robots...),
		Runs:   make([]*report.RunReport, 0, len(runs)),
	}

	for i := range runs {
		if runs[i].Status == StatusFailed {
			sum.Failed = append(sum.Failed, report.Failure{
				RunID: runs[i].RunID,
				Error: runs[i].Error,
			})

			continue
		}

		rep, err := runs[i].Report()
		if err != nil {
			return nil, err
		}

		sum.Runs = append(sum.Runs, rep)
	}

	return sum, nil
}
