package validation

import (
	"fmt"
	"sort"

	"github.com/ThomasRohde/strands-cli-sub000/internal/expressions"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// semanticCheck carries the lookup tables shared by the per-pattern checks.
type semanticCheck struct {
	v      *SpecValidator
	spec   *schema.Spec
	keys   []string
	result *schema.ValidationResult
}

// validateSemantic checks agent references, id uniqueness, templates,
// conditions and HITL placement for the spec's pattern.
func (v *SpecValidator) validateSemantic(spec *schema.Spec, vars map[string]any) *schema.ValidationResult {
	c := &semanticCheck{
		v:      v,
		spec:   spec,
		keys:   templateKeys(spec, vars),
		result: &schema.ValidationResult{},
	}

	p := spec.Pattern
	switch p.Type {
	case schema.PatternChain:
		c.steps("pattern.config.steps", p.Chain.Steps)
	case schema.PatternWorkflow:
		c.workflow(p.Workflow)
	case schema.PatternParallel:
		c.parallel(p.Parallel)
	case schema.PatternRouting:
		c.routing(p.Routing)
	case schema.PatternEvaluatorOptimizer:
		c.evaluatorOptimizer(p.EvaluatorOptimizer)
	case schema.PatternOrchestratorWorkers:
		c.orchestratorWorkers(p.OrchestratorWorkers)
	case schema.PatternGraph:
		c.graph(p.Graph)
	}
	return c.result
}

// templateKeys lists the names a template may reference at its root.
func templateKeys(spec *schema.Spec, vars map[string]any) []string {
	keys := schema.ContextKeys()
	for k := range spec.Inputs.Values {
		keys = append(keys, k)
	}
	for k := range vars {
		keys = append(keys, k)
	}
	return keys
}

func (c *semanticCheck) agent(path, id string) {
	if id == "" {
		return
	}
	if _, ok := c.spec.Agents[id]; !ok {
		c.result.AddError(path, schema.ErrCodeConfiguration,
			fmt.Sprintf("references unknown agent %q", id))
	}
}

func (c *semanticCheck) template(path, tmpl string, extra map[string]any) {
	if tmpl == "" {
		return
	}
	keys := c.keys
	if len(extra) > 0 {
		keys = append(append([]string(nil), c.keys...), mapKeys(extra)...)
	}
	if err := c.v.renderer.Check(tmpl, keys...); err != nil {
		c.result.AddError(path, schema.ErrCodeTemplate, messageOf(err))
	}
}

func (c *semanticCheck) hitl(path string, cfg schema.HITLConfig) {
	if cfg.Prompt == "" {
		c.result.AddError(path+".prompt", schema.ErrCodeConfiguration, "hitl step requires a prompt")
	}
	c.template(path+".prompt", cfg.Prompt, nil)
	c.template(path+".context_display", cfg.ContextDisplay, nil)
}

func (c *semanticCheck) step(path string, s schema.Step) {
	if s.IsHITL() {
		c.hitl(path, s.HITLConfig)
		return
	}
	c.agent(path+".agent", s.Agent)
	c.template(path+".input", s.Input, s.Vars)
}

func (c *semanticCheck) steps(path string, steps []schema.Step) {
	for i, s := range steps {
		c.step(fmt.Sprintf("%s[%d]", path, i), s)
	}
}

// workflow checks task ids and dependency references. Cycles are left to
// the DAG stage.
func (c *semanticCheck) workflow(cfg *schema.WorkflowConfig) {
	ids := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if ids[t.ID] {
			c.result.AddError(fmt.Sprintf("pattern.config.tasks[%d].id", i), schema.ErrCodeConfiguration,
				fmt.Sprintf("duplicate task id %q", t.ID))
		}
		ids[t.ID] = true
	}

	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("pattern.config.tasks[%d]", i)
		for j, dep := range t.Deps {
			switch {
			case dep == t.ID:
				c.result.AddError(fmt.Sprintf("%s.deps[%d]", path, j), schema.ErrCodeConfiguration,
					fmt.Sprintf("task %q depends on itself", t.ID))
			case !ids[dep]:
				c.result.AddError(fmt.Sprintf("%s.deps[%d]", path, j), schema.ErrCodeConfiguration,
					fmt.Sprintf("task %q references undeclared dependency %q", t.ID, dep))
			}
		}
		if t.IsHITL() {
			c.hitl(path, t.HITLConfig)
			continue
		}
		c.agent(path+".agent", t.Agent)
		c.template(path+".input", t.Input, nil)
	}
}

// parallel checks branch ids and allows HITL steps in at most one branch.
func (c *semanticCheck) parallel(cfg *schema.ParallelConfig) {
	ids := make(map[string]bool, len(cfg.Branches))
	var withHITL []string
	for i, b := range cfg.Branches {
		path := fmt.Sprintf("pattern.config.branches[%d]", i)
		if ids[b.ID] {
			c.result.AddError(path+".id", schema.ErrCodeConfiguration,
				fmt.Sprintf("duplicate branch id %q", b.ID))
		}
		ids[b.ID] = true
		c.steps(path+".steps", b.Steps)
		for _, s := range b.Steps {
			if s.IsHITL() {
				withHITL = append(withHITL, b.ID)
				break
			}
		}
	}
	if len(withHITL) > 1 {
		sort.Strings(withHITL)
		c.result.AddError("pattern.config.branches", schema.ErrCodeConfiguration,
			fmt.Sprintf("hitl steps in more than one branch %v: at most one concurrent pause is allowed", withHITL))
	}
	if cfg.Reduce != nil {
		c.step("pattern.config.reduce", *cfg.Reduce)
	}
}

func (c *semanticCheck) routing(cfg *schema.RoutingConfig) {
	c.agent("pattern.config.router.agent", cfg.Router.Agent)
	c.template("pattern.config.router.input", cfg.Router.Input, nil)

	names := mapKeys(cfg.Routes)
	sort.Strings(names)
	for _, name := range names {
		if name == "" {
			c.result.AddError("pattern.config.routes", schema.ErrCodeConfiguration, "route name must not be empty")
			continue
		}
		c.steps(fmt.Sprintf("pattern.config.routes.%s.then", name), cfg.Routes[name].Then)
	}
}

func (c *semanticCheck) evaluatorOptimizer(cfg *schema.EvaluatorOptimizerConfig) {
	c.agent("pattern.config.producer", cfg.Producer)
	c.template("pattern.config.input", cfg.Input, nil)
	c.agent("pattern.config.evaluator.agent", cfg.Evaluator.Agent)
	c.template("pattern.config.evaluator.input", cfg.Evaluator.Input, nil)
	c.template("pattern.config.revise_prompt", cfg.RevisePrompt, nil)
	if cfg.ReviewGate != nil {
		c.hitl("pattern.config.review_gate", *cfg.ReviewGate)
	}
}

func (c *semanticCheck) orchestratorWorkers(cfg *schema.OrchestratorWorkersConfig) {
	c.agent("pattern.config.orchestrator.agent", cfg.Orchestrator.Agent)
	c.template("pattern.config.orchestrator.input", cfg.Orchestrator.Input, nil)
	c.agent("pattern.config.worker_template.agent", cfg.WorkerTemplate.Agent)
	c.template("pattern.config.worker_template.input", cfg.WorkerTemplate.Input, nil)
	if cfg.Reduce != nil {
		c.step("pattern.config.reduce", *cfg.Reduce)
	}
	if cfg.Writeup != nil {
		c.step("pattern.config.writeup", *cfg.Writeup)
	}
}

// graph checks node ids, the entry node, and that every node has at most one
// outgoing edge definition whose targets exist and whose conditions compile.
func (c *semanticCheck) graph(cfg *schema.GraphConfig) {
	ids := make(map[string]bool, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		path := fmt.Sprintf("pattern.config.nodes[%d]", i)
		if ids[n.ID] {
			c.result.AddError(path+".id", schema.ErrCodeConfiguration,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
		if n.IsHITL() {
			c.hitl(path, n.HITLConfig)
			continue
		}
		c.agent(path+".agent", n.Agent)
		c.template(path+".input", n.Input, nil)
	}

	if cfg.Entry != "" && !ids[cfg.Entry] {
		c.result.AddError("pattern.config.entry", schema.ErrCodeConfiguration,
			fmt.Sprintf("entry references unknown node %q", cfg.Entry))
	}

	compiler, err := c.conditionCompiler(cfg.ConditionLanguage)
	if err != nil {
		c.result.AddError("pattern.config.condition_language", schema.ErrCodeConfiguration, messageOf(err))
	}

	from := make(map[string]bool, len(cfg.Edges))
	for i, e := range cfg.Edges {
		path := fmt.Sprintf("pattern.config.edges[%d]", i)
		if !ids[e.From] {
			c.result.AddError(path+".from", schema.ErrCodeConfiguration,
				fmt.Sprintf("edge from unknown node %q", e.From))
		}
		if from[e.From] {
			c.result.AddError(path+".from", schema.ErrCodeConfiguration,
				fmt.Sprintf("node %q has more than one outgoing edge definition", e.From))
		}
		from[e.From] = true

		switch {
		case len(e.To) > 0 && len(e.Choose) > 0:
			c.result.AddError(path, schema.ErrCodeConfiguration, "edge must be either static (to) or conditional (choose), not both")
		case len(e.To) == 0 && len(e.Choose) == 0:
			c.result.AddError(path, schema.ErrCodeConfiguration, "edge has no targets")
		case len(e.To) > 1:
			c.result.AddWarning(path+".to", schema.ErrCodeConfiguration,
				fmt.Sprintf("static edge lists %d targets; only %q is followed", len(e.To), e.To[0]))
		}

		for j, to := range e.To {
			if !ids[to] {
				c.result.AddError(fmt.Sprintf("%s.to[%d]", path, j), schema.ErrCodeConfiguration,
					fmt.Sprintf("edge to unknown node %q", to))
			}
		}
		for j, choice := range e.Choose {
			cpath := fmt.Sprintf("%s.choose[%d]", path, j)
			if !ids[choice.To] {
				c.result.AddError(cpath+".to", schema.ErrCodeConfiguration,
					fmt.Sprintf("edge to unknown node %q", choice.To))
			}
			if choice.When == schema.ElseCondition || compiler == nil {
				continue
			}
			if err := compiler.Compile(choice.When); err != nil {
				c.result.AddError(cpath+".when", schema.ErrCodeConfiguration, messageOf(err))
			}
		}
	}
}

func (c *semanticCheck) conditionCompiler(lang string) (expressions.Compiler, error) {
	switch lang {
	case "", "cel":
		return c.v.cel, nil
	case "expr":
		return c.v.expr, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown condition language %q", lang)
	}
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
