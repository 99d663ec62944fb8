package engine

import (
	"context"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/internal/expressions"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type nodeResult struct {
	Status    string `json:"status"`
	Agent     string `json:"agent,omitempty"`
	Response  string `json:"response,omitempty"`
	Iteration int    `json:"iteration"` // completed visits
	TimedOut  bool   `json:"timed_out,omitempty"`
}

type graphState struct {
	Current      string                 `json:"current,omitempty"`
	Started      bool                   `json:"started"`
	Path         []string               `json:"path"`
	Visits       map[string]int         `json:"visits"`
	Nodes        map[string]*nodeResult `json:"nodes"`
	LastResponse string                 `json:"last_response"`
	LastAgent    string                 `json:"last_agent,omitempty"`
	HITLResponse string                 `json:"hitl_response,omitempty"`
	Terminal     string                 `json:"terminal,omitempty"`
	HITL         *schema.HITLState      `json:"hitl,omitempty"`
}

// graphExecutor walks a state machine: execute the current node, then follow
// its single outgoing edge definition. A node with no edge, or a conditional
// edge with no matching choice, is terminal.
type graphExecutor struct {
	cfg   *schema.GraphConfig
	nodes map[string]*schema.GraphNode
	edges map[string]*schema.GraphEdge
	cond  expressions.Engine

	maxSteps, maxIterations int
	st                      graphState
}

func newGraphExecutor(cfg *schema.GraphConfig) (*graphExecutor, error) {
	cond, err := expressions.ForLanguage(cfg.ConditionLanguage)
	if err != nil {
		return nil, err
	}
	e := &graphExecutor{
		cfg:           cfg,
		nodes:         make(map[string]*schema.GraphNode, len(cfg.Nodes)),
		edges:         make(map[string]*schema.GraphEdge, len(cfg.Edges)),
		cond:          cond,
		maxSteps:      cfg.MaxSteps,
		maxIterations: cfg.MaxIterations,
	}
	for i := range cfg.Nodes {
		e.nodes[cfg.Nodes[i].ID] = &cfg.Nodes[i]
	}
	for i := range cfg.Edges {
		e.edges[cfg.Edges[i].From] = &cfg.Edges[i]
	}
	if e.maxSteps == 0 {
		e.maxSteps = schema.DefaultGraphMaxSteps
	}
	if e.maxIterations == 0 {
		e.maxIterations = schema.DefaultGraphMaxIterations
	}
	return e, nil
}

func (e *graphExecutor) state() any { return &e.st }

func (e *graphExecutor) entry() string {
	if e.cfg.Entry != "" {
		return e.cfg.Entry
	}
	return e.cfg.Nodes[0].ID
}

func (e *graphExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if !e.st.Started {
		e.st.Started = true
		e.st.Current = e.entry()
		e.st.Visits = make(map[string]int)
		e.st.Nodes = make(map[string]*nodeResult, len(e.nodes))
		for id := range e.nodes {
			e.st.Nodes[id] = &nodeResult{Status: schema.NodeNotExecuted}
		}
	}

	for e.st.Current != "" {
		id := e.st.Current
		node := e.nodes[id]
		unit := "node:" + id

		if len(e.st.Path) >= e.maxSteps {
			return nil, e.limitErr(unit, "graph exceeded max_steps %d", e.maxSteps)
		}
		if e.st.Visits[id] >= e.maxIterations {
			return nil, e.limitErr(unit, "node %q exceeded max_iterations %d", id, e.maxIterations)
		}

		data := e.context(rc)
		res := e.st.Nodes[id]
		if node.IsHITL() {
			res.Status = schema.NodeWaitingForUser
			resp, pause, err := rc.hitlUnit(ctx, &e.st.HITL, schema.HITLState{NodeID: id}, node.HITLConfig, data)
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return paused(pause), nil
			}
			res.Status, res.Response, res.Agent = schema.NodeSuccess, resp, ""
			res.TimedOut = e.st.HITL.TimedOut
			e.st.HITLResponse = resp
		} else {
			input, err := rc.input(ctx, node.Input, data, unit)
			if err != nil {
				return nil, err
			}
			out, err := rc.invoke(ctx, call{Agent: node.Agent, Input: input, WorkerIndex: -1, Unit: unit})
			if err != nil {
				res.Status = schema.NodeError
				return nil, err
			}
			res.Status, res.Response, res.Agent, res.TimedOut = schema.NodeSuccess, out, node.Agent, false
			e.st.LastAgent = node.Agent
		}
		e.st.Path = append(e.st.Path, id)
		e.st.Visits[id]++
		res.Iteration = e.st.Visits[id]
		e.st.LastResponse = res.Response

		next, err := e.next(ctx, id, e.context(rc))
		if err != nil {
			return nil, unitErr(unit, err)
		}
		if next == "" {
			e.st.Terminal = id
		}
		e.st.Current = next
		e.st.HITL = nil
		if err := rc.Checkpoint(ctx, unit); err != nil {
			return nil, err
		}
	}

	return &outcome{
		LastResponse: e.st.LastResponse,
		AgentID:      e.st.LastAgent,
		Context: map[string]any{
			schema.CtxNodes:        e.st.Nodes,
			schema.CtxLastResponse: e.st.LastResponse,
			"terminal_node":        e.st.Terminal,
			"execution_path":       e.st.Path,
		},
	}, nil
}

// next resolves the node that follows from. Static edges follow their first
// target; conditional edges take the first matching choice.
func (e *graphExecutor) next(ctx context.Context, from string, data map[string]any) (string, error) {
	edge, ok := e.edges[from]
	if !ok {
		return "", nil
	}
	if len(edge.To) > 0 {
		return edge.To[0], nil
	}

	input, err := expressions.Normalize(data)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodePermanent, "graph context is not JSON-serializable: %s", err.Error()).WithCause(err)
	}
	for _, choice := range edge.Choose {
		if strings.TrimSpace(choice.When) == schema.ElseCondition {
			return choice.To, nil
		}
		ok, err := expressions.EvaluateBool(ctx, e.cond, choice.When, input)
		if err != nil {
			return "", err
		}
		if ok {
			return choice.To, nil
		}
	}
	return "", nil
}

func (e *graphExecutor) context(rc *runContext) map[string]any {
	data := rc.baseContext(nil)
	data[schema.CtxNodes] = e.st.Nodes
	data[schema.CtxLastResponse] = e.st.LastResponse
	if e.st.HITLResponse != "" {
		data[schema.CtxHITLResponse] = e.st.HITLResponse
	}
	return data
}

func (e *graphExecutor) limitErr(unit, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeIterationLimit, format, args...).
		WithUnit(unit).
		WithDetails(map[string]any{
			"path":   append([]string(nil), e.st.Path...),
			"visits": e.st.Visits,
		})
}
