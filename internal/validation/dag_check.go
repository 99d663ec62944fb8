package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// validateDAG performs graph analysis: for workflows, cycle detection
// (Kahn's algorithm) and the one-HITL-task-per-layer rule; for graphs,
// reachability of every node from the entry.
func validateDAG(spec *schema.Spec) *schema.ValidationResult {
	switch spec.Pattern.Type {
	case schema.PatternWorkflow:
		return validateWorkflowDAG(spec.Pattern.Workflow)
	case schema.PatternGraph:
		return validateGraphReachability(spec.Pattern.Graph)
	default:
		return &schema.ValidationResult{}
	}
}

func validateWorkflowDAG(cfg *schema.WorkflowConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	tasks := make(map[string]schema.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasks[t.ID] = t
	}

	// dependents[id] = tasks that wait on id.
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for id, t := range tasks {
		seen := make(map[string]bool, len(t.Deps))
		for _, dep := range t.Deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	layer := make([]string, 0, len(tasks))
	for id := range tasks {
		if inDegree[id] == 0 {
			layer = append(layer, id)
		}
	}

	scheduled := 0
	for depth := 0; len(layer) > 0; depth++ {
		// Sort for deterministic output.
		sort.Strings(layer)
		scheduled += len(layer)

		var hitl []string
		for _, id := range layer {
			if tasks[id].IsHITL() {
				hitl = append(hitl, id)
			}
		}
		if len(hitl) > 1 {
			result.AddError("pattern.config.tasks", schema.ErrCodeConfiguration,
				fmt.Sprintf("layer %d has %d hitl tasks %v: at most one concurrent pause is allowed", depth, len(hitl), hitl))
		}

		var next []string
		for _, id := range layer {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		layer = next
	}

	if scheduled != len(tasks) {
		var stuck []string
		for id := range tasks {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("pattern.config.tasks", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle among tasks [%s]", strings.Join(stuck, ", ")))
	}

	return result
}

// validateGraphReachability warns about nodes no edge path reaches from
// the entry node.
func validateGraphReachability(cfg *schema.GraphConfig) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	entry := cfg.Entry
	if entry == "" {
		entry = cfg.Nodes[0].ID
	}

	next := make(map[string][]string, len(cfg.Edges))
	for _, e := range cfg.Edges {
		if len(e.To) > 0 {
			next[e.From] = append(next[e.From], e.To[0])
		}
		for _, choice := range e.Choose {
			next[e.From] = append(next[e.From], choice.To)
		}
	}

	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, to := range next[node] {
			if !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}

	for i, n := range cfg.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("pattern.config.nodes[%d]", i), schema.ErrCodeConfiguration,
				fmt.Sprintf("node %q is unreachable from entry %q", n.ID, entry))
		}
	}
	return result
}
