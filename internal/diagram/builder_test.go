package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// --- Test spec fixtures ---

func specWith(p schema.Pattern) *schema.Spec {
	return &schema.Spec{
		Name:    "demo",
		Runtime: schema.Runtime{Provider: "echo"},
		Agents:  map[string]schema.AgentConfig{"a": {Prompt: "p"}, "b": {Prompt: "p"}},
		Pattern: p,
	}
}

func agentStep(id string) schema.Step { return schema.Step{Agent: id} }

func hitlStep() schema.Step {
	return schema.Step{Type: schema.StepKindHITL, HITLConfig: schema.HITLConfig{Prompt: "ok?"}}
}

func chainSpec() *schema.Spec {
	return specWith(schema.Pattern{Type: schema.PatternChain, Chain: &schema.ChainConfig{
		Steps: []schema.Step{agentStep("a"), hitlStep(), agentStep("b")},
	}})
}

func diamondSpec() *schema.Spec {
	return specWith(schema.Pattern{Type: schema.PatternWorkflow, Workflow: &schema.WorkflowConfig{Tasks: []schema.Task{
		{ID: "fetch", Agent: "a"},
		{ID: "left", Agent: "a", Deps: []string{"fetch"}},
		{ID: "right", Agent: "b", Deps: []string{"fetch"}},
		{ID: "merge", Agent: "b", Deps: []string{"left", "right"}},
	}}})
}

func parallelSpec() *schema.Spec {
	reduce := agentStep("b")
	return specWith(schema.Pattern{Type: schema.PatternParallel, Parallel: &schema.ParallelConfig{
		Branches: []schema.Branch{
			{ID: "x", Steps: []schema.Step{agentStep("a"), agentStep("b")}},
			{ID: "y", Steps: []schema.Step{agentStep("a")}},
		},
		Reduce: &reduce,
	}})
}

func graphSpec() *schema.Spec {
	return specWith(schema.Pattern{Type: schema.PatternGraph, Graph: &schema.GraphConfig{
		Nodes: []schema.GraphNode{{ID: "write", Agent: "a"}, {ID: "review", Agent: "b"}, {ID: "publish", Agent: "a"}},
		Edges: []schema.GraphEdge{
			{From: "write", To: []string{"review", "publish"}},
			{From: "review", Choose: []schema.GraphChoice{
				{When: `last_response == "approve"`, To: "publish"},
				{When: schema.ElseCondition, To: "write"},
			}},
		},
	}})
}

func edgeSet(m *Model) map[Edge]bool {
	out := make(map[Edge]bool, len(m.Edges))
	for _, e := range m.Edges {
		out[e] = true
	}
	return out
}

// --- Tests ---

func TestBuild_Chain(t *testing.T) {
	m, err := Build(chainSpec())
	require.NoError(t, err)

	assert.Equal(t, "demo", m.Title)
	require.Len(t, m.Nodes, 5)
	assert.Equal(t, StartID, m.Nodes[0].ID)
	assert.Equal(t, EndID, m.Nodes[4].ID)
	assert.Equal(t, NodeKindHITL, m.Node("step:1").Kind)
	assert.Equal(t, "step:2\n(b)", m.Node("step:2").Label)

	assert.Equal(t, []Edge{
		{From: StartID, To: "step:0"},
		{From: "step:0", To: "step:1"},
		{From: "step:1", To: "step:2"},
		{From: "step:2", To: EndID},
	}, m.Edges)
}

func TestBuild_WorkflowDiamond(t *testing.T) {
	m, err := Build(diamondSpec())
	require.NoError(t, err)

	edges := edgeSet(m)
	assert.Len(t, m.Edges, 6)
	for _, e := range []Edge{
		{From: StartID, To: "task:fetch"},
		{From: "task:fetch", To: "task:left"},
		{From: "task:fetch", To: "task:right"},
		{From: "task:left", To: "task:merge"},
		{From: "task:right", To: "task:merge"},
		{From: "task:merge", To: EndID},
	} {
		assert.True(t, edges[e], "missing edge %v", e)
	}
}

func TestBuild_WorkflowCycleRejected(t *testing.T) {
	spec := specWith(schema.Pattern{Type: schema.PatternWorkflow, Workflow: &schema.WorkflowConfig{Tasks: []schema.Task{
		{ID: "a", Agent: "a", Deps: []string{"b"}},
		{ID: "b", Agent: "a", Deps: []string{"a"}},
	}}})
	_, err := Build(spec)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
}

func TestBuild_ParallelGroupsBranches(t *testing.T) {
	m, err := Build(parallelSpec())
	require.NoError(t, err)

	require.Len(t, m.Groups, 2)
	assert.Equal(t, []string{"branch:x/step:0", "branch:x/step:1"}, m.Groups[0].Nodes)
	assert.Equal(t, []string{"branch:y/step:0"}, m.Groups[1].Nodes)

	edges := edgeSet(m)
	assert.True(t, edges[Edge{From: "branch:x/step:1", To: "reduce"}])
	assert.True(t, edges[Edge{From: "branch:y/step:0", To: "reduce"}])
	assert.True(t, edges[Edge{From: "reduce", To: EndID}])
}

func TestBuild_ParallelWithoutReduceJoinsAtEnd(t *testing.T) {
	spec := parallelSpec()
	spec.Pattern.Parallel.Reduce = nil
	m, err := Build(spec)
	require.NoError(t, err)
	assert.Nil(t, m.Node("reduce"))
	assert.True(t, edgeSet(m)[Edge{From: "branch:y/step:0", To: EndID}])
}

func TestBuild_RoutingLabelsRoutes(t *testing.T) {
	spec := specWith(schema.Pattern{Type: schema.PatternRouting, Routing: &schema.RoutingConfig{
		Router: schema.RouterConfig{Agent: "a"},
		Routes: map[string]schema.Route{
			"billing": {Then: []schema.Step{agentStep("b")}},
			"tech":    {Then: []schema.Step{agentStep("a"), agentStep("b")}},
		},
	}})
	m, err := Build(spec)
	require.NoError(t, err)

	assert.Equal(t, NodeKindRouter, m.Node("router").Kind)
	edges := edgeSet(m)
	assert.True(t, edges[Edge{From: "router", To: "route:billing/step:0", Label: "billing"}])
	assert.True(t, edges[Edge{From: "router", To: "route:tech/step:0", Label: "tech"}])
	assert.True(t, edges[Edge{From: "route:tech/step:0", To: "route:tech/step:1"}])
	assert.True(t, edges[Edge{From: "route:tech/step:1", To: EndID}])
	require.Len(t, m.Groups, 2)
	assert.Equal(t, "billing", m.Groups[0].Label, "routes are sorted")
}

func TestBuild_EvaluatorLoop(t *testing.T) {
	cfg := &schema.EvaluatorOptimizerConfig{
		Producer:  "a",
		Evaluator: schema.EvaluatorConfig{Agent: "b"},
		Accept:    schema.AcceptConfig{MinScore: 80, MaxIters: 3},
	}
	m, err := Build(specWith(schema.Pattern{Type: schema.PatternEvaluatorOptimizer, EvaluatorOptimizer: cfg}))
	require.NoError(t, err)
	edges := edgeSet(m)
	assert.True(t, edges[Edge{From: "evaluator", To: EndID, Label: "score >= 80"}])
	assert.True(t, edges[Edge{From: "evaluator", To: "producer", Label: "revise, max 3"}])

	cfg.ReviewGate = &schema.HITLConfig{Prompt: "continue?"}
	m, err = Build(specWith(schema.Pattern{Type: schema.PatternEvaluatorOptimizer, EvaluatorOptimizer: cfg}))
	require.NoError(t, err)
	edges = edgeSet(m)
	assert.True(t, edges[Edge{From: "evaluator", To: "review", Label: "revise, max 3"}])
	assert.True(t, edges[Edge{From: "review", To: "producer", Label: "continue"}])
	assert.Equal(t, NodeKindHITL, m.Node("review").Kind)
}

func TestBuild_OrchestratorPhases(t *testing.T) {
	writeup := agentStep("a")
	spec := specWith(schema.Pattern{Type: schema.PatternOrchestratorWorkers, OrchestratorWorkers: &schema.OrchestratorWorkersConfig{
		Orchestrator:   schema.OrchestratorConfig{Agent: "a", Limits: schema.OrchestratorLimits{MaxWorkers: 4}},
		WorkerTemplate: schema.WorkerTemplate{Agent: "b"},
		Writeup:        &writeup,
	}})
	m, err := Build(spec)
	require.NoError(t, err)

	assert.Equal(t, "workers x4\n(b)", m.Node("workers").Label)
	assert.Nil(t, m.Node("reduce"))
	assert.Equal(t, []Edge{
		{From: StartID, To: "orchestrator"},
		{From: "orchestrator", To: "workers"},
		{From: "workers", To: "writeup"},
		{From: "writeup", To: EndID},
	}, m.Edges)
}

func TestBuild_Graph(t *testing.T) {
	m, err := Build(graphSpec())
	require.NoError(t, err)

	edges := edgeSet(m)
	assert.True(t, edges[Edge{From: StartID, To: "node:write"}], "first node is the default entry")
	assert.True(t, edges[Edge{From: "node:write", To: "node:review"}])
	assert.False(t, edges[Edge{From: "node:write", To: "node:publish"}], "only the first static target is drawn")
	assert.True(t, edges[Edge{From: "node:review", To: "node:publish", Label: `last_response == "approve"`}])
	assert.True(t, edges[Edge{From: "node:review", To: "node:write", Label: "else"}])
	assert.True(t, edges[Edge{From: "node:publish", To: EndID}])
}

func TestBuild_MissingConfig(t *testing.T) {
	_, err := Build(specWith(schema.Pattern{Type: schema.PatternChain}))
	assert.True(t, schema.IsConfiguration(err))

	_, err = Build(nil)
	assert.True(t, schema.IsConfiguration(err))
}
