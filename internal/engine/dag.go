package engine

import (
	"sort"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// DAG is the dependency graph of a workflow pattern, layered for execution.
type DAG struct {
	Tasks      map[string]*schema.Task // task ID → definition
	Deps       map[string][]string     // task ID → dependencies
	Dependents map[string][]string     // task ID → tasks waiting on it
	Layers     [][]string              // execution layers, IDs sorted within a layer
	Sorted     []string                // layers flattened: a topological order
}

// ParseDAG builds the task graph and layers it with Kahn's algorithm: each
// round takes every task whose dependencies are all scheduled. Unknown or
// self dependencies are configuration errors; tasks left unscheduled mean a
// cycle.
func ParseDAG(cfg *schema.WorkflowConfig) (*DAG, error) {
	if cfg == nil || len(cfg.Tasks) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "workflow has no tasks")
	}

	dag := &DAG{
		Tasks:      make(map[string]*schema.Task, len(cfg.Tasks)),
		Deps:       make(map[string][]string, len(cfg.Tasks)),
		Dependents: make(map[string][]string, len(cfg.Tasks)),
	}

	// First pass: register tasks.
	for i := range cfg.Tasks {
		task := &cfg.Tasks[i]
		if task.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "task at index %d has empty id", i)
		}
		if _, exists := dag.Tasks[task.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "duplicate task id %q", task.ID)
		}
		dag.Tasks[task.ID] = task
	}

	// Second pass: adjacency lists.
	for id, task := range dag.Tasks {
		seen := make(map[string]bool, len(task.Deps))
		for _, dep := range task.Deps {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "task %q depends on itself", id).WithUnit("task:" + id)
			}
			if _, exists := dag.Tasks[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
					"task %q references undeclared dependency %q", id, dep).WithUnit("task:" + id)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dag.Deps[id] = append(dag.Deps[id], dep)
			dag.Dependents[dep] = append(dag.Dependents[dep], id)
		}
	}

	inDegree := make(map[string]int, len(dag.Tasks))
	layer := make([]string, 0)
	for id := range dag.Tasks {
		inDegree[id] = len(dag.Deps[id])
		if inDegree[id] == 0 {
			layer = append(layer, id)
		}
	}

	for len(layer) > 0 {
		// Sort for deterministic ordering.
		sort.Strings(layer)
		dag.Layers = append(dag.Layers, layer)
		dag.Sorted = append(dag.Sorted, layer...)

		var next []string
		for _, id := range layer {
			for _, dependent := range dag.Dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		layer = next
	}

	if len(dag.Sorted) != len(dag.Tasks) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a dependency cycle: scheduled %d of %d tasks", len(dag.Sorted), len(dag.Tasks)).
			WithDetails(map[string]any{"unscheduled": stuck})
	}

	return dag, nil
}

// LayerOf returns the layer index of task id, or -1.
func (d *DAG) LayerOf(id string) int {
	for i, layer := range d.Layers {
		for _, t := range layer {
			if t == id {
				return i
			}
		}
	}
	return -1
}
