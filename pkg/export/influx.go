package export

import (
	"context"
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/config"
	"github.com/ethpandaops/runfeatures/pkg/report"
	"github.com/ethpandaops/runfeatures/pkg/runtable"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

const influxBatchSize = 500

// pointWriter is the subset of api.WriteAPIBlocking used by InfluxSink.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes feature rows as points tagged by run and robot, and one
// summary point per run.
type InfluxSink struct {
	log         logrus.FieldLogger
	writer      pointWriter
	measurement string
	close       func()
}

// Ensure interface compliance.
var _ Sink = (*InfluxSink)(nil)

// NewInfluxSink connects to InfluxDB. Call Close when done.
func NewInfluxSink(log logrus.FieldLogger, cfg *config.InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = config.DefaultInfluxMeasurement
	}

	return &InfluxSink{
		log:         log.WithField("component", "influx-sink"),
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		close:       client.Close,
	}, nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.close != nil {
		s.close()
	}
}

// WriteRun writes one point per row and robot. Null values are omitted and
// rows without any value for a robot produce no point.
func (s *InfluxSink) WriteRun(ctx context.Context, t *runtable.Table) error {
	points := RowPoints(s.measurement, t)

	for start := 0; start < len(points); start += influxBatchSize {
		end := min(start+influxBatchSize, len(points))

		if err := s.writer.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("writing points for run %s: %w", t.RunID, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"run_id": t.RunID,
		"points": len(points),
	}).Debug("Wrote run points")

	return nil
}

// WriteSummary writes one point per run with rows, stamped at its start time.
func (s *InfluxSink) WriteSummary(ctx context.Context, sum *report.Summary) error {
	points := SummaryPoints(s.measurement+"_summary", sum)
	if len(points) == 0 {
		return nil
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing summary points: %w", err)
	}

	return nil
}

// RowPoints converts a table into points.
func RowPoints(measurement string, t *runtable.Table) []*write.Point {
	byRobot := make(map[telemetry.RobotID][]runtable.ColumnKey, 2)
	for _, k := range t.Columns() {
		byRobot[k.Robot] = append(byRobot[k.Robot], k)
	}

	robots := t.Robots()
	points := make([]*write.Point, 0, t.Len()*len(robots))

	for i, ts := range t.Times {
		for _, robot := range robots {
			fields := make(map[string]any, len(byRobot[robot]))

			for _, k := range byRobot[robot] {
				col, _ := t.Column(k)
				if col[i].Valid {
					fields[t.Name(k)] = col[i].Float
				}
			}

			if len(fields) == 0 {
				continue
			}

			points = append(points, influxdb2.NewPoint(
				measurement,
				map[string]string{
					"run_id": t.RunID,
					"robot":  string(robot),
				},
				fields,
				ts,
			))
		}
	}

	return points
}

// SummaryPoints converts run reports into points. Runs without rows are
// skipped since they have no timestamp.
func SummaryPoints(measurement string, sum *report.Summary) []*write.Point {
	points := make([]*write.Point, 0, len(sum.Runs))

	for _, r := range sum.Runs {
		if r.StartTime == nil {
			continue
		}

		fields := map[string]any{"total_time": *r.TotalTime}

		for _, d := range r.Distances {
			if d.Total != nil {
				fields["total_distance_"+string(d.Robot)] = *d.Total
			}
		}

		points = append(points, influxdb2.NewPoint(
			measurement,
			map[string]string{"run_id": r.RunID},
			fields,
			*r.StartTime,
		))
	}

	return points
}
