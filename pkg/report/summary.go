package report

import (
	"sort"
	"strconv"
	"time"

	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

// Summary is the ordered cross-run report. Runs are sorted by ascending
// run id so repeated runs over the same input produce the same order.
type Summary struct {
	Robots []telemetry.RobotID `json:"robots"`
	Runs   []*RunReport        `json:"runs"`
	Failed []Failure           `json:"failed,omitempty"`
}

// Failure records a run that could not be processed.
type Failure struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

// Aggregate collects reports into a Summary sorted by run id.
func Aggregate(robots []telemetry.RobotID, reports map[string]*RunReport) *Summary {
	if len(robots) == 0 {
		robots = DefaultRobots
	}

	runs := make([]*RunReport, 0, len(reports))
	for _, r := range reports {
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunID < runs[j].RunID
	})

	return &Summary{
		Robots: append([]telemetry.RobotID(nil), robots...),
		Runs:   runs,
	}
}

// Header returns the tabular column names of the summary.
func (s *Summary) Header() []string {
	h := []string{"run_id", "start_time", "end_time", "total_time"}
	for _, robot := range s.Robots {
		h = append(h, "total_distance_"+string(robot))
	}

	return h
}

// Records returns one row per run matching Header. Null fields are empty.
func (s *Summary) Records() [][]string {
	out := make([][]string, 0, len(s.Runs))

	for _, r := range s.Runs {
		row := []string{r.RunID, formatTime(r.StartTime), formatTime(r.EndTime), formatFloat(r.TotalTime)}
		for _, robot := range s.Robots {
			row = append(row, formatFloat(r.Distance(robot)))
		}

		out = append(out, row)
	}

	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}

	return strconv.FormatFloat(*f, 'g', -1, 64)
}
