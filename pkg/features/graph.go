package features

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/runfeatures/pkg/runtable"
)

var (
	// ErrUnknownDependency is returned when a task depends on a task that
	// is not part of the graph.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle is returned when task dependencies form a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrDuplicateTask is returned when two tasks share a name.
	ErrDuplicateTask = errors.New("duplicate task")
)

// Results maps task names to the table each task produced.
type Results map[string]*runtable.Table

// TaskFunc computes one feature table. deps holds the outputs of the
// task's declared dependencies only.
type TaskFunc func(ctx context.Context, deps Results) (*runtable.Table, error)

// Task is a node in the feature graph.
type Task struct {
	Name      string
	DependsOn []string
	Run       TaskFunc
}

// Graph is a validated directed acyclic graph of feature tasks.
type Graph struct {
	tasks  []Task
	index  map[string]int
	stages [][]string
}

// NewGraph validates the tasks and returns a runnable graph.
func NewGraph(tasks ...Task) (*Graph, error) {
	g := &Graph{
		tasks: tasks,
		index: make(map[string]int, len(tasks)),
	}

	for i, t := range tasks {
		if _, exists := g.index[t.Name]; exists {
			return nil, fmt.Errorf("task %q: %w", t.Name, ErrDuplicateTask)
		}

		g.index[t.Name] = i
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on %q: %w", t.Name, dep, ErrUnknownDependency)
			}
		}
	}

	stages, err := levelize(tasks)
	if err != nil {
		return nil, err
	}

	g.stages = stages

	return g, nil
}

// Stages returns task names grouped by dependency depth. Tasks in the same
// stage have no dependency on each other.
func (g *Graph) Stages() [][]string {
	out := make([][]string, len(g.stages))
	for i, s := range g.stages {
		out[i] = append([]string(nil), s...)
	}

	return out
}

// Run executes every task. A task starts as soon as all of its dependencies
// have completed; independent tasks run concurrently. The first task error
// cancels tasks that have not started and is returned.
func (g *Graph) Run(ctx context.Context) (Results, error) {
	done := make([]chan struct{}, len(g.tasks))
	for i := range done {
		done[i] = make(chan struct{})
	}

	outputs := make([]*runtable.Table, len(g.tasks))

	eg, egCtx := errgroup.WithContext(ctx)

	for i, task := range g.tasks {
		eg.Go(func() error {
			deps := make(Results, len(task.DependsOn))

			for _, dep := range task.DependsOn {
				j := g.index[dep]

				select {
				case <-done[j]:
				case <-egCtx.Done():
					return egCtx.Err()
				}

				deps[dep] = outputs[j]
			}

			out, err := task.Run(egCtx, deps)
			if err != nil {
				return fmt.Errorf("task %s: %w", task.Name, err)
			}

			outputs[i] = out
			close(done[i])

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	results := make(Results, len(g.tasks))
	for i, t := range g.tasks {
		results[t.Name] = outputs[i]
	}

	return results, nil
}

func levelize(tasks []Task) ([][]string, error) {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		indegree[t.Name] += 0

		for _, dep := range t.DependsOn {
			indegree[t.Name]++
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	var (
		stages  [][]string
		current []string
		placed  int
	)

	for _, t := range tasks {
		if indegree[t.Name] == 0 {
			current = append(current, t.Name)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		stages = append(stages, current)
		placed += len(current)

		var next []string

		for _, name := range current {
			for _, d := range dependents[name] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}

		current = next
	}

	if placed != len(tasks) {
		return nil, ErrCycle
	}

	return stages, nil
}
