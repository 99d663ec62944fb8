package diagram

import (
	"fmt"
	"sort"

	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Build constructs a Model for the spec's pattern. Workflow specs are
// layered with engine.ParseDAG, so a cyclic workflow fails here exactly as
// it would at run time.
func Build(spec *schema.Spec) (*Model, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "diagram: spec is nil")
	}
	b := &builder{m: &Model{Title: spec.Name}}
	b.node(StartID, "Start", NodeKindStart)

	p := spec.Pattern
	var err error
	switch {
	case p.Type == schema.PatternChain && p.Chain != nil:
		b.link(b.steps(func(i int) string { return fmt.Sprintf("step:%d", i) }, p.Chain.Steps), StartID, EndID)
	case p.Type == schema.PatternWorkflow && p.Workflow != nil:
		err = b.workflow(p.Workflow)
	case p.Type == schema.PatternParallel && p.Parallel != nil:
		b.parallel(p.Parallel)
	case p.Type == schema.PatternRouting && p.Routing != nil:
		b.routing(p.Routing)
	case p.Type == schema.PatternEvaluatorOptimizer && p.EvaluatorOptimizer != nil:
		b.evaluator(p.EvaluatorOptimizer)
	case p.Type == schema.PatternOrchestratorWorkers && p.OrchestratorWorkers != nil:
		b.orchestrator(p.OrchestratorWorkers)
	case p.Type == schema.PatternGraph && p.Graph != nil:
		b.graph(p.Graph)
	default:
		err = schema.NewErrorf(schema.ErrCodeConfiguration, "diagram: pattern %q has no config", p.Type)
	}
	if err != nil {
		return nil, err
	}

	b.node(EndID, "End", NodeKindEnd)
	return b.m, nil
}

type builder struct {
	m *Model
}

func (b *builder) node(id, label string, kind NodeKind) {
	b.m.Nodes = append(b.m.Nodes, &Node{ID: id, Label: label, Kind: kind})
}

func (b *builder) edge(from, to, label string) {
	b.m.Edges = append(b.m.Edges, Edge{From: from, To: to, Label: label})
}

// link chains ids in order between from and to.
func (b *builder) link(ids []string, from, to string) {
	prev := from
	for _, id := range ids {
		b.edge(prev, id, "")
		prev = id
	}
	b.edge(prev, to, "")
}

// steps adds one node per step and returns their ids.
func (b *builder) steps(unit func(int) string, steps []schema.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = unit(i)
		b.stepNode(ids[i], s)
	}
	return ids
}

func (b *builder) stepNode(id string, s schema.Step) {
	if s.IsHITL() {
		b.node(id, id+"\n(hitl)", NodeKindHITL)
		return
	}
	b.node(id, fmt.Sprintf("%s\n(%s)", id, s.Agent), NodeKindAgent)
}

func (b *builder) workflow(cfg *schema.WorkflowConfig) error {
	dag, err := engine.ParseDAG(cfg)
	if err != nil {
		return err
	}
	unit := func(id string) string { return "task:" + id }

	for _, id := range dag.Sorted {
		t := dag.Tasks[id]
		if t.IsHITL() {
			b.node(unit(id), unit(id)+"\n(hitl)", NodeKindHITL)
		} else {
			b.node(unit(id), fmt.Sprintf("%s\n(%s)", unit(id), t.Agent), NodeKindAgent)
		}
	}
	for _, id := range dag.Sorted {
		deps := dag.Deps[id]
		if len(deps) == 0 {
			b.edge(StartID, unit(id), "")
		}
		for _, dep := range deps {
			b.edge(unit(dep), unit(id), "")
		}
	}
	for _, id := range dag.Sorted {
		if len(dag.Dependents[id]) == 0 {
			b.edge(unit(id), EndID, "")
		}
	}
	return nil
}

func (b *builder) parallel(cfg *schema.ParallelConfig) {
	join := EndID
	if cfg.Reduce != nil {
		join = "reduce"
	}
	for _, br := range cfg.Branches {
		ids := b.steps(func(i int) string { return fmt.Sprintf("branch:%s/step:%d", br.ID, i) }, br.Steps)
		b.m.Groups = append(b.m.Groups, &Group{ID: "branch:" + br.ID, Label: br.ID, Nodes: ids})
		b.link(ids, StartID, join)
	}
	if cfg.Reduce != nil {
		b.stepNode("reduce", *cfg.Reduce)
		b.edge("reduce", EndID, "")
	}
}

func (b *builder) routing(cfg *schema.RoutingConfig) {
	b.node("router", fmt.Sprintf("router\n(%s)", cfg.Router.Agent), NodeKindRouter)
	b.edge(StartID, "router", "")

	names := make([]string, 0, len(cfg.Routes))
	for name := range cfg.Routes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ids := b.steps(func(i int) string { return fmt.Sprintf("route:%s/step:%d", name, i) }, cfg.Routes[name].Then)
		b.m.Groups = append(b.m.Groups, &Group{ID: "route:" + name, Label: name, Nodes: ids})
		b.edge("router", ids[0], name)
		b.link(ids[1:], ids[0], EndID)
	}
}

func (b *builder) evaluator(cfg *schema.EvaluatorOptimizerConfig) {
	b.node("producer", fmt.Sprintf("producer\n(%s)", cfg.Producer), NodeKindAgent)
	b.node("evaluator", fmt.Sprintf("evaluator\n(%s)", cfg.Evaluator.Agent), NodeKindJudge)
	b.edge(StartID, "producer", "")
	b.edge("producer", "evaluator", "")
	b.edge("evaluator", EndID, fmt.Sprintf("score >= %d", cfg.Accept.MinScore))

	revise := fmt.Sprintf("revise, max %d", cfg.Accept.MaxIters)
	if cfg.ReviewGate != nil {
		b.node("review", "review\n(hitl)", NodeKindHITL)
		b.edge("evaluator", "review", revise)
		b.edge("review", "producer", "continue")
		b.edge("review", EndID, "stop")
		return
	}
	b.edge("evaluator", "producer", revise)
}

func (b *builder) orchestrator(cfg *schema.OrchestratorWorkersConfig) {
	b.node("orchestrator", fmt.Sprintf("orchestrator\n(%s)", cfg.Orchestrator.Agent), NodeKindRouter)

	workers := "workers"
	if n := cfg.Orchestrator.Limits.MaxWorkers; n > 0 {
		workers = fmt.Sprintf("workers x%d", n)
	}
	b.node("workers", fmt.Sprintf("%s\n(%s)", workers, cfg.WorkerTemplate.Agent), NodeKindFanOut)

	ids := []string{"orchestrator", "workers"}
	for _, phase := range []struct {
		id   string
		step *schema.Step
	}{{"reduce", cfg.Reduce}, {"writeup", cfg.Writeup}} {
		if phase.step != nil {
			b.stepNode(phase.id, *phase.step)
			ids = append(ids, phase.id)
		}
	}
	b.link(ids, StartID, EndID)
}

func (b *builder) graph(cfg *schema.GraphConfig) {
	unit := func(id string) string { return "node:" + id }

	for _, n := range cfg.Nodes {
		if n.IsHITL() {
			b.node(unit(n.ID), unit(n.ID)+"\n(hitl)", NodeKindHITL)
		} else {
			b.node(unit(n.ID), fmt.Sprintf("%s\n(%s)", unit(n.ID), n.Agent), NodeKindAgent)
		}
	}

	entry := cfg.Entry
	if entry == "" {
		entry = cfg.Nodes[0].ID
	}
	b.edge(StartID, unit(entry), "")

	hasExit := make(map[string]bool, len(cfg.Edges))
	for _, e := range cfg.Edges {
		switch {
		case len(e.Choose) > 0:
			hasExit[e.From] = true
			for _, c := range e.Choose {
				b.edge(unit(e.From), unit(c.To), c.When)
			}
		case len(e.To) > 0:
			// Only the first static target is followed.
			hasExit[e.From] = true
			b.edge(unit(e.From), unit(e.To[0]), "")
		}
	}
	for _, n := range cfg.Nodes {
		if !hasExit[n.ID] {
			b.edge(unit(n.ID), EndID, "")
		}
	}
}
