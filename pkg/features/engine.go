// Package features derives kinematic columns from a gap-filled run table.
package features

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

// Task names of the feature graph.
const (
	TaskPosition     = "position"
	TaskTotalForce   = "total_force"
	TaskVelocity     = "velocity"
	TaskAcceleration = "acceleration"
)

// mergeOrder fixes the column order of merged feature tables.
var mergeOrder = []string{TaskPosition, TaskTotalForce, TaskVelocity, TaskAcceleration}

// Engine computes feature columns and merges them onto a run table.
type Engine interface {
	// Apply derives all features from t and merges them onto t.
	Apply(ctx context.Context, t *runtable.Table) error
}

// NewEngine creates a new feature engine.
func NewEngine(log logrus.FieldLogger) Engine {
	return &engine{
		log: log.WithField("component", "features"),
	}
}

type engine struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Engine = (*engine)(nil)

// BuildGraph returns the feature graph over t. Position, total force and
// velocity only read t; acceleration reads the velocity output.
func BuildGraph(t *runtable.Table) (*Graph, error) {
	return NewGraph(
		Task{
			Name: TaskPosition,
			Run: func(_ context.Context, _ Results) (*runtable.Table, error) {
				return Position(t)
			},
		},
		Task{
			Name: TaskTotalForce,
			Run: func(_ context.Context, _ Results) (*runtable.Table, error) {
				return TotalForce(t)
			},
		},
		Task{
			Name: TaskVelocity,
			Run: func(_ context.Context, _ Results) (*runtable.Table, error) {
				return Velocity(t)
			},
		},
		Task{
			Name:      TaskAcceleration,
			DependsOn: []string{TaskVelocity},
			Run: func(_ context.Context, deps Results) (*runtable.Table, error) {
				return Acceleration(t, deps[TaskVelocity])
			},
		},
	)
}

// Apply runs the feature graph and merges every output onto t. t must not
// be modified by the caller while Apply runs.
func (e *engine) Apply(ctx context.Context, t *runtable.Table) error {
	g, err := BuildGraph(t)
	if err != nil {
		return fmt.Errorf("building feature graph: %w", err)
	}

	results, err := g.Run(ctx)
	if err != nil {
		return fmt.Errorf("computing features: %w", err)
	}

	for _, name := range mergeOrder {
		if err := t.Merge(results[name]); err != nil {
			return fmt.Errorf("merging %s features: %w", name, err)
		}
	}

	e.log.WithFields(logrus.Fields{
		"run_id":  t.RunID,
		"rows":    t.Len(),
		"columns": len(t.Columns()),
	}).Debug("Features merged")

	return nil
}
