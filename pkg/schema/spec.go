package schema

import (
	"encoding/json"
)

// Spec is the immutable declarative workflow specification.
// Agents are defined once and referenced by id everywhere else.
type Spec struct {
	Version     int                    `json:"version,omitempty"`
	Name        string                 `json:"name" validate:"required"`
	Description string                 `json:"description,omitempty"`
	Runtime     Runtime                `json:"runtime"`
	Agents      map[string]AgentConfig `json:"agents" validate:"required,min=1,dive"`
	Inputs      Inputs                 `json:"inputs,omitempty"`
	Pattern     Pattern                `json:"pattern"`
}

// Runtime configures providers, limits and budgets for a run.
type Runtime struct {
	Provider     string      `json:"provider" validate:"required"`
	ModelID      string      `json:"model_id,omitempty"`
	Region       string      `json:"region,omitempty"`
	Host         string      `json:"host,omitempty"`
	MaxParallel  int         `json:"max_parallel,omitempty" validate:"gte=0"`
	Budgets      Budgets     `json:"budgets,omitempty"`
	Retry        RetryPolicy `json:"retry,omitempty"`
	RateLimitRPS float64     `json:"rate_limit_rps,omitempty" validate:"gte=0"`
}

// Budgets holds the token ceiling for the whole run. Zero means unlimited.
type Budgets struct {
	MaxTokens int    `json:"max_tokens,omitempty" validate:"gte=0"`
	Estimator string `json:"estimator,omitempty" validate:"omitempty,oneof=words tiktoken"`
}

// RetryPolicy configures retry behavior for agent invocations.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts,omitempty" validate:"gte=0"` // total attempts, including the first
	WaitMin     string `json:"wait_min,omitempty"`                      // initial delay (e.g. "1s", "500ms")
	WaitMax     string `json:"wait_max,omitempty"`                      // backoff cap
}

// AgentConfig describes one agent referenced by id from the pattern.
type AgentConfig struct {
	Prompt              string   `json:"prompt" validate:"required"`
	Tools               []string `json:"tools,omitempty"`
	ModelID             string   `json:"model_id,omitempty"`
	Provider            string   `json:"provider,omitempty"`
	ConversationManager string   `json:"conversation_manager,omitempty"`
}

// Inputs holds default variable values; caller variables override them.
type Inputs struct {
	Values map[string]any `json:"values,omitempty"`
}

// PatternType enumerates the seven execution topologies.
type PatternType string

const (
	PatternChain               PatternType = "chain"
	PatternWorkflow            PatternType = "workflow"
	PatternParallel            PatternType = "parallel"
	PatternRouting             PatternType = "routing"
	PatternEvaluatorOptimizer  PatternType = "evaluator_optimizer"
	PatternOrchestratorWorkers PatternType = "orchestrator_workers"
	PatternGraph               PatternType = "graph"
)

// Pattern is a tagged union: Type selects which config pointer is set.
type Pattern struct {
	Type                PatternType
	Chain               *ChainConfig
	Workflow            *WorkflowConfig
	Parallel            *ParallelConfig
	Routing             *RoutingConfig
	EvaluatorOptimizer  *EvaluatorOptimizerConfig
	OrchestratorWorkers *OrchestratorWorkersConfig
	Graph               *GraphConfig
}

type patternWire struct {
	Type   PatternType     `json:"type"`
	Config json.RawMessage `json:"config"`
}

// UnmarshalJSON decodes {type, config} into the matching typed variant.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var w patternWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Pattern{Type: w.Type}
	if len(w.Config) == 0 || string(w.Config) == "null" {
		return NewErrorf(ErrCodeConfiguration, "pattern %q has no config", w.Type)
	}

	var target any
	switch w.Type {
	case PatternChain:
		p.Chain = &ChainConfig{}
		target = p.Chain
	case PatternWorkflow:
		p.Workflow = &WorkflowConfig{}
		target = p.Workflow
	case PatternParallel:
		p.Parallel = &ParallelConfig{}
		target = p.Parallel
	case PatternRouting:
		p.Routing = &RoutingConfig{}
		target = p.Routing
	case PatternEvaluatorOptimizer:
		p.EvaluatorOptimizer = &EvaluatorOptimizerConfig{}
		target = p.EvaluatorOptimizer
	case PatternOrchestratorWorkers:
		p.OrchestratorWorkers = &OrchestratorWorkersConfig{}
		target = p.OrchestratorWorkers
	case PatternGraph:
		p.Graph = &GraphConfig{}
		target = p.Graph
	default:
		return NewErrorf(ErrCodeConfiguration, "unknown pattern type: %q", w.Type)
	}
	if err := json.Unmarshal(w.Config, target); err != nil {
		return NewErrorf(ErrCodeConfiguration, "invalid %s config: %s", w.Type, err.Error()).WithCause(err)
	}
	return nil
}

// MarshalJSON encodes the pattern back into {type, config}.
func (p Pattern) MarshalJSON() ([]byte, error) {
	cfg, err := json.Marshal(p.Config())
	if err != nil {
		return nil, err
	}
	return json.Marshal(patternWire{Type: p.Type, Config: cfg})
}

// Config returns the typed config pointer for the pattern's variant.
func (p Pattern) Config() any {
	switch p.Type {
	case PatternChain:
		return p.Chain
	case PatternWorkflow:
		return p.Workflow
	case PatternParallel:
		return p.Parallel
	case PatternRouting:
		return p.Routing
	case PatternEvaluatorOptimizer:
		return p.EvaluatorOptimizer
	case PatternOrchestratorWorkers:
		return p.OrchestratorWorkers
	case PatternGraph:
		return p.Graph
	default:
		return nil
	}
}

// Validate checks that exactly the variant named by Type is populated.
func (p Pattern) Validate() error {
	set := 0
	for _, v := range []bool{
		p.Chain != nil, p.Workflow != nil, p.Parallel != nil, p.Routing != nil,
		p.EvaluatorOptimizer != nil, p.OrchestratorWorkers != nil, p.Graph != nil,
	} {
		if v {
			set++
		}
	}
	if set != 1 {
		return NewErrorf(ErrCodeConfiguration, "pattern must carry exactly one config, found %d", set)
	}
	if !p.hasConfig() {
		return NewErrorf(ErrCodeConfiguration, "pattern type %q does not match its config", p.Type)
	}
	return nil
}

func (p Pattern) hasConfig() bool {
	switch p.Type {
	case PatternChain:
		return p.Chain != nil
	case PatternWorkflow:
		return p.Workflow != nil
	case PatternParallel:
		return p.Parallel != nil
	case PatternRouting:
		return p.Routing != nil
	case PatternEvaluatorOptimizer:
		return p.EvaluatorOptimizer != nil
	case PatternOrchestratorWorkers:
		return p.OrchestratorWorkers != nil
	case PatternGraph:
		return p.Graph != nil
	default:
		return false
	}
}

// StepKind distinguishes agent steps from human-in-the-loop steps.
type StepKind string

const (
	StepKindAgent StepKind = "agent"
	StepKindHITL  StepKind = "hitl"
)

// HITLConfig describes a human pause point.
type HITLConfig struct {
	Prompt         string `json:"prompt,omitempty"`
	ContextDisplay string `json:"context_display,omitempty"`
	Default        string `json:"default,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// Step is one sequential unit in a chain, branch, route, reduce or writeup.
type Step struct {
	Type          StepKind       `json:"type,omitempty" validate:"omitempty,oneof=agent hitl"`
	Agent         string         `json:"agent,omitempty" validate:"required_unless=Type hitl"`
	Input         string         `json:"input,omitempty"`
	Vars          map[string]any `json:"vars,omitempty"`
	ToolOverrides []string       `json:"tool_overrides,omitempty"`
	HITLConfig
}

// IsHITL reports whether the step pauses for a human instead of invoking an agent.
func (s Step) IsHITL() bool { return s.Type == StepKindHITL }

// ChainConfig runs steps strictly in order.
type ChainConfig struct {
	Steps []Step `json:"steps" validate:"required,min=1,dive"`
}

// Task is one node of the workflow dependency graph.
type Task struct {
	ID          string   `json:"id" validate:"required"`
	Type        StepKind `json:"type,omitempty" validate:"omitempty,oneof=agent hitl"`
	Agent       string   `json:"agent,omitempty" validate:"required_unless=Type hitl"`
	Input       string   `json:"input,omitempty"`
	Description string   `json:"description,omitempty"`
	Deps        []string `json:"deps,omitempty"`
	HITLConfig
}

// IsHITL reports whether the task is a human pause point.
func (t Task) IsHITL() bool { return t.Type == StepKindHITL }

// WorkflowConfig is a DAG of tasks executed layer by layer.
type WorkflowConfig struct {
	Tasks []Task `json:"tasks" validate:"required,min=1,dive"`
}

// Branch is a sequential chain run concurrently with its siblings.
type Branch struct {
	ID    string `json:"id" validate:"required"`
	Steps []Step `json:"steps" validate:"required,min=1,dive"`
}

// ParallelConfig runs all branches concurrently, then an optional reduce step.
type ParallelConfig struct {
	Branches []Branch `json:"branches" validate:"required,min=1,dive"`
	Reduce   *Step    `json:"reduce,omitempty"`
}

// DefaultRouterRetries is the number of clarification retries for router output.
const DefaultRouterRetries = 2

// RouterConfig configures the classifier agent.
type RouterConfig struct {
	Agent      string `json:"agent" validate:"required"`
	Input      string `json:"input,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" validate:"gte=0,lte=10"` // 0 = DefaultRouterRetries
}

// Route is the chain executed when the router selects it.
type Route struct {
	Then []Step `json:"then" validate:"required,min=1,dive"`
}

// RoutingConfig selects one route via a router agent.
type RoutingConfig struct {
	Router RouterConfig     `json:"router"`
	Routes map[string]Route `json:"routes" validate:"required,min=1,dive"`
}

// EvaluatorConfig configures the judging agent.
type EvaluatorConfig struct {
	Agent string `json:"agent" validate:"required"`
	Input string `json:"input,omitempty"`
}

// AcceptConfig sets the acceptance threshold and the refinement cap.
type AcceptConfig struct {
	MinScore int `json:"min_score" validate:"gte=0,lte=100"`
	MaxIters int `json:"max_iters" validate:"gte=1"`
}

// EvaluatorOptimizerConfig drives the produce/evaluate/revise loop.
type EvaluatorOptimizerConfig struct {
	Producer     string          `json:"producer" validate:"required"`
	Input        string          `json:"input,omitempty"`
	Evaluator    EvaluatorConfig `json:"evaluator"`
	Accept       AcceptConfig    `json:"accept"`
	RevisePrompt string          `json:"revise_prompt,omitempty"`
	ReviewGate   *HITLConfig     `json:"review_gate,omitempty"`
}

// OrchestratorLimits bounds the decomposition.
type OrchestratorLimits struct {
	MaxWorkers int `json:"max_workers,omitempty" validate:"gte=0"`
	MaxRounds  int `json:"max_rounds,omitempty" validate:"gte=0,lte=1"`
}

// OrchestratorConfig configures the decomposing agent.
type OrchestratorConfig struct {
	Agent      string             `json:"agent" validate:"required"`
	Input      string             `json:"input,omitempty"`
	Limits     OrchestratorLimits `json:"limits,omitempty"`
	MaxRetries int                `json:"max_retries,omitempty" validate:"gte=0,lte=10"`
}

// WorkerTemplate configures the agent run once per subtask.
type WorkerTemplate struct {
	Agent string   `json:"agent" validate:"required"`
	Input string   `json:"input,omitempty"`
	Tools []string `json:"tools,omitempty"`
}

// OrchestratorWorkersConfig decomposes a task and fans it out to workers.
type OrchestratorWorkersConfig struct {
	Orchestrator   OrchestratorConfig `json:"orchestrator"`
	WorkerTemplate WorkerTemplate     `json:"worker_template"`
	Reduce         *Step              `json:"reduce,omitempty"`
	Writeup        *Step              `json:"writeup,omitempty"`
}

// GraphNode is one state of the graph state machine.
type GraphNode struct {
	ID    string   `json:"id" validate:"required"`
	Type  StepKind `json:"type,omitempty" validate:"omitempty,oneof=agent hitl"`
	Agent string   `json:"agent,omitempty" validate:"required_unless=Type hitl"`
	Input string   `json:"input,omitempty"`
	HITLConfig
}

// IsHITL reports whether the node is a human pause point.
func (n GraphNode) IsHITL() bool { return n.Type == StepKindHITL }

// ElseCondition always matches in a conditional edge.
const ElseCondition = "else"

// GraphChoice is one ordered (condition, target) pair.
type GraphChoice struct {
	When string `json:"when" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// GraphEdge is the single outgoing edge definition of a node: either static
// (To) or conditional (Choose).
type GraphEdge struct {
	From   string        `json:"from" validate:"required"`
	To     []string      `json:"to,omitempty"`
	Choose []GraphChoice `json:"choose,omitempty" validate:"dive"`
}

// Graph defaults.
const (
	DefaultGraphMaxSteps      = 100
	DefaultGraphMaxIterations = 10
)

// GraphConfig is a conditional state machine over nodes.
type GraphConfig struct {
	Nodes             []GraphNode `json:"nodes" validate:"required,min=1,dive"`
	Edges             []GraphEdge `json:"edges,omitempty" validate:"dive"`
	Entry             string      `json:"entry,omitempty"`
	MaxSteps          int         `json:"max_steps,omitempty" validate:"gte=0"`      // global node executions
	MaxIterations     int         `json:"max_iterations,omitempty" validate:"gte=0"` // per-node visits
	ConditionLanguage string      `json:"condition_language,omitempty" validate:"omitempty,oneof=cel expr"`
}
