package validation

import (
	"testing"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *SpecValidator {
	t.Helper()
	v, err := NewSpecValidator()
	require.NoError(t, err)
	return v
}

func baseSpec(p schema.Pattern) *schema.Spec {
	return &schema.Spec{
		Name:    "demo",
		Runtime: schema.Runtime{Provider: "echo"},
		Agents: map[string]schema.AgentConfig{
			"writer": {Prompt: "You write."},
			"critic": {Prompt: "You judge."},
		},
		Pattern: p,
	}
}

func chainSpec(steps ...schema.Step) *schema.Spec {
	return baseSpec(schema.Pattern{Type: schema.PatternChain, Chain: &schema.ChainConfig{Steps: steps}})
}

func workflowSpec(tasks ...schema.Task) *schema.Spec {
	return baseSpec(schema.Pattern{Type: schema.PatternWorkflow, Workflow: &schema.WorkflowConfig{Tasks: tasks}})
}

func graphSpec(cfg *schema.GraphConfig) *schema.Spec {
	return baseSpec(schema.Pattern{Type: schema.PatternGraph, Graph: cfg})
}

func errorCodes(r *schema.ValidationResult) []string {
	codes := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestValidate_Nil(t *testing.T) {
	r := newValidator(t).Validate(nil, nil)
	assert.False(t, r.Valid())
}

func TestValidate_ValidChain(t *testing.T) {
	spec := chainSpec(
		schema.Step{Agent: "writer", Input: "Write about ${{ topic }}"},
		schema.Step{Agent: "critic", Input: "Review: ${{ steps[0].response }}"},
		schema.Step{Type: schema.StepKindHITL, HITLConfig: schema.HITLConfig{Prompt: "Approve?"}},
	)
	spec.Inputs.Values = map[string]any{"topic": "go"}

	r := newValidator(t).Validate(spec, nil)
	assert.True(t, r.Valid(), "%v", r.Errors)
}

func TestValidate_StructuralShortCircuits(t *testing.T) {
	spec := chainSpec(schema.Step{Agent: "ghost"})
	spec.Name = ""
	spec.Runtime.Provider = ""

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 2)
	paths := []string{r.Errors[0].Path, r.Errors[1].Path}
	assert.Contains(t, paths, "name")
	assert.Contains(t, paths, "runtime.provider")
}

func TestValidate_StepAgentRequiredUnlessHITL(t *testing.T) {
	spec := chainSpec(schema.Step{Input: "no agent"})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "pattern.config.steps[0].agent", r.Errors[0].Path)
	assert.Equal(t, "is required", r.Errors[0].Message)
}

func TestValidate_PatternMismatch(t *testing.T) {
	spec := baseSpec(schema.Pattern{Type: schema.PatternGraph, Chain: &schema.ChainConfig{}})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "pattern", r.Errors[0].Path)
}

func TestValidate_UnknownAgent(t *testing.T) {
	spec := chainSpec(schema.Step{Agent: "ghost"})

	err := newValidator(t).ValidateSpec(spec, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
	assert.Contains(t, err.Error(), `unknown agent "ghost"`)
}

func TestValidate_TemplateSyntax(t *testing.T) {
	spec := chainSpec(schema.Step{Agent: "writer", Input: "broken ${{ steps[0] "})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeTemplate, r.Errors[0].Code)
	assert.Equal(t, "pattern.config.steps[0].input", r.Errors[0].Path)
}

func TestValidate_TemplateVariables(t *testing.T) {
	spec := chainSpec(schema.Step{Agent: "writer", Input: "${{ audience }}"})
	v := newValidator(t)

	assert.False(t, v.Validate(spec, nil).Valid())
	assert.True(t, v.Validate(spec, map[string]any{"audience": "ops"}).Valid())

	spec.Pattern.Chain.Steps[0].Vars = map[string]any{"audience": "devs"}
	assert.True(t, v.Validate(spec, nil).Valid())
}

func TestValidate_HITLNeedsPrompt(t *testing.T) {
	spec := chainSpec(schema.Step{Type: schema.StepKindHITL})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "pattern.config.steps[0].prompt", r.Errors[0].Path)
}

func TestValidate_WorkflowUndeclaredDependency(t *testing.T) {
	spec := workflowSpec(
		schema.Task{ID: "a", Agent: "writer"},
		schema.Task{ID: "b", Agent: "writer", Deps: []string{"missing"}},
	)

	err := newValidator(t).ValidateSpec(spec, nil)
	require.Error(t, err)
	assert.True(t, schema.IsConfiguration(err))
	assert.Contains(t, err.Error(), `undeclared dependency "missing"`)
}

func TestValidate_WorkflowSelfAndDuplicate(t *testing.T) {
	spec := workflowSpec(
		schema.Task{ID: "a", Agent: "writer", Deps: []string{"a"}},
		schema.Task{ID: "a", Agent: "writer"},
	)

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 2)
	assert.Contains(t, r.Errors[0].Message, "duplicate task id")
	assert.Contains(t, r.Errors[1].Message, "depends on itself")
}

func TestValidate_WorkflowCycle(t *testing.T) {
	spec := workflowSpec(
		schema.Task{ID: "root", Agent: "writer"},
		schema.Task{ID: "a", Agent: "writer", Deps: []string{"root", "c"}},
		schema.Task{ID: "b", Agent: "writer", Deps: []string{"a"}},
		schema.Task{ID: "c", Agent: "writer", Deps: []string{"b"}},
	)

	err := newValidator(t).ValidateSpec(spec, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCycleDetected))
	assert.True(t, schema.IsConfiguration(err))
	assert.Contains(t, err.Error(), "[a, b, c]")
}

func TestValidate_WorkflowHITLPerLayer(t *testing.T) {
	hitl := schema.HITLConfig{Prompt: "ok?"}
	spec := workflowSpec(
		schema.Task{ID: "a", Agent: "writer"},
		schema.Task{ID: "h1", Type: schema.StepKindHITL, Deps: []string{"a"}, HITLConfig: hitl},
		schema.Task{ID: "h2", Type: schema.StepKindHITL, Deps: []string{"a"}, HITLConfig: hitl},
	)
	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, "layer 1 has 2 hitl tasks")

	spec.Pattern.Workflow.Tasks[2].Deps = []string{"h1"}
	assert.True(t, newValidator(t).Validate(spec, nil).Valid())
}

func TestValidate_ParallelHITLInTwoBranches(t *testing.T) {
	gate := schema.Step{Type: schema.StepKindHITL, HITLConfig: schema.HITLConfig{Prompt: "ok?"}}
	spec := baseSpec(schema.Pattern{Type: schema.PatternParallel, Parallel: &schema.ParallelConfig{
		Branches: []schema.Branch{
			{ID: "x", Steps: []schema.Step{{Agent: "writer"}, gate}},
			{ID: "y", Steps: []schema.Step{gate}},
			{ID: "z", Steps: []schema.Step{{Agent: "critic"}}},
		},
	}})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, "[x y]")
}

func TestValidate_RoutingRefs(t *testing.T) {
	spec := baseSpec(schema.Pattern{Type: schema.PatternRouting, Routing: &schema.RoutingConfig{
		Router: schema.RouterConfig{Agent: "critic"},
		Routes: map[string]schema.Route{
			"faq":   {Then: []schema.Step{{Agent: "writer"}}},
			"other": {Then: []schema.Step{{Agent: "ghost"}}},
		},
	}})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "pattern.config.routes.other.then[0].agent", r.Errors[0].Path)
}

func TestValidate_EvaluatorOptimizerBounds(t *testing.T) {
	spec := baseSpec(schema.Pattern{Type: schema.PatternEvaluatorOptimizer, EvaluatorOptimizer: &schema.EvaluatorOptimizerConfig{
		Producer:  "writer",
		Evaluator: schema.EvaluatorConfig{Agent: "critic"},
		Accept:    schema.AcceptConfig{MinScore: 120, MaxIters: 0},
	}})

	r := newValidator(t).Validate(spec, nil)
	assert.ElementsMatch(t, []string{schema.ErrCodeConfiguration, schema.ErrCodeConfiguration}, errorCodes(r))
}

func TestValidate_OrchestratorMaxRounds(t *testing.T) {
	spec := baseSpec(schema.Pattern{Type: schema.PatternOrchestratorWorkers, OrchestratorWorkers: &schema.OrchestratorWorkersConfig{
		Orchestrator:   schema.OrchestratorConfig{Agent: "writer", Limits: schema.OrchestratorLimits{MaxRounds: 2}},
		WorkerTemplate: schema.WorkerTemplate{Agent: "critic"},
	}})

	r := newValidator(t).Validate(spec, nil)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "pattern.config.orchestrator.limits.max_rounds", r.Errors[0].Path)
}

func TestValidate_Graph(t *testing.T) {
	nodes := []schema.GraphNode{{ID: "A", Agent: "writer"}, {ID: "B", Agent: "critic"}, {ID: "C", Agent: "writer"}}

	t.Run("valid conditional", func(t *testing.T) {
		r := newValidator(t).Validate(graphSpec(&schema.GraphConfig{
			Nodes: nodes,
			Edges: []schema.GraphEdge{{From: "A", Choose: []schema.GraphChoice{
				{When: `nodes.A.response == "yes"`, To: "B"},
				{When: schema.ElseCondition, To: "C"},
			}}},
		}), nil)
		assert.True(t, r.Valid(), "%v", r.Errors)
		assert.Empty(t, r.Warnings)
	})

	t.Run("expr language", func(t *testing.T) {
		r := newValidator(t).Validate(graphSpec(&schema.GraphConfig{
			Nodes:             nodes,
			ConditionLanguage: "expr",
			Edges: []schema.GraphEdge{{From: "A", Choose: []schema.GraphChoice{
				{When: `last_response contains "ok"`, To: "B"},
				{When: schema.ElseCondition, To: "C"},
			}}},
		}), nil)
		assert.True(t, r.Valid(), "%v", r.Errors)
	})

	t.Run("bad condition", func(t *testing.T) {
		r := newValidator(t).Validate(graphSpec(&schema.GraphConfig{
			Nodes: nodes,
			Edges: []schema.GraphEdge{{From: "A", Choose: []schema.GraphChoice{{When: "nodes.A.response ==", To: "B"}}}},
		}), nil)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "pattern.config.edges[0].choose[0].when", r.Errors[0].Path)
	})

	t.Run("duplicate from and unknown targets", func(t *testing.T) {
		r := newValidator(t).Validate(graphSpec(&schema.GraphConfig{
			Nodes: nodes,
			Entry: "Z",
			Edges: []schema.GraphEdge{
				{From: "A", To: []string{"B"}},
				{From: "A", To: []string{"missing"}},
			},
		}), nil)
		assert.Len(t, r.Errors, 3)
	})

	t.Run("multi target and unreachable warn", func(t *testing.T) {
		r := newValidator(t).Validate(graphSpec(&schema.GraphConfig{
			Nodes: nodes,
			Edges: []schema.GraphEdge{{From: "A", To: []string{"B", "C"}}},
		}), nil)
		assert.True(t, r.Valid())
		require.Len(t, r.Warnings, 2)
		assert.Contains(t, r.Warnings[0].Message, `only "B" is followed`)
		assert.Contains(t, r.Warnings[1].Message, `node "C" is unreachable`)
	})
}
