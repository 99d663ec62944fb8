package engine

import (
	"context"
	"strconv"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type taskResult struct {
	Type     schema.StepKind `json:"type"`
	Agent    string          `json:"agent,omitempty"`
	Response string          `json:"response"`
	Status   string          `json:"status"`
	TimedOut bool            `json:"timed_out,omitempty"`
}

type workflowState struct {
	Tasks           map[string]*taskResult `json:"tasks"`
	CompletedLayers int                    `json:"completed_layers"`
	HITL            *schema.HITLState      `json:"hitl,omitempty"`
}

// workflowExecutor runs the task DAG layer by layer. Agent tasks in a layer
// run concurrently under the limiter; the layer's hitl task, if any, is
// handled on the driving goroutine once they have joined.
type workflowExecutor struct {
	dag *DAG
	st  workflowState
}

func (e *workflowExecutor) state() any { return &e.st }

func (e *workflowExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if e.st.Tasks == nil {
		e.st.Tasks = make(map[string]*taskResult, len(e.dag.Tasks))
	}

	for li := e.st.CompletedLayers; li < len(e.dag.Layers); li++ {
		layer := e.dag.Layers[li]

		var pending, hitlTasks []*schema.Task
		for _, id := range layer {
			if _, done := e.st.Tasks[id]; done {
				continue
			}
			t := e.dag.Tasks[id]
			if t.IsHITL() {
				hitlTasks = append(hitlTasks, t)
			} else {
				pending = append(pending, t)
			}
		}

		if len(pending) > 0 {
			data := e.context(rc)
			outs, err := fanOut(ctx, rc.limiter, len(pending), func(ctx context.Context, i int) (string, error) {
				t := pending[i]
				unit := "task:" + t.ID
				input, err := rc.input(ctx, t.Input, data, unit)
				if err != nil {
					return "", err
				}
				return rc.invoke(ctx, call{Agent: t.Agent, Input: input, WorkerIndex: -1, Unit: unit})
			})
			if err != nil {
				return nil, err
			}
			for i, t := range pending {
				e.st.Tasks[t.ID] = &taskResult{Type: schema.StepKindAgent, Agent: t.Agent, Response: outs[i], Status: schema.NodeSuccess}
			}
			if len(hitlTasks) > 0 {
				if err := rc.Checkpoint(ctx, "layer:"+strconv.Itoa(li)); err != nil {
					return nil, err
				}
			}
		}

		for _, t := range hitlTasks {
			at := schema.HITLState{TaskID: t.ID, LayerIndex: schema.IntPtr(li)}
			resp, pause, err := rc.hitlUnit(ctx, &e.st.HITL, at, t.HITLConfig, e.context(rc))
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return paused(pause), nil
			}
			e.st.Tasks[t.ID] = &taskResult{Type: schema.StepKindHITL, Response: resp, Status: schema.NodeSuccess, TimedOut: e.st.HITL.TimedOut}
		}

		e.st.CompletedLayers = li + 1
		e.st.HITL = nil
		if err := rc.Checkpoint(ctx, "layer:"+strconv.Itoa(li)); err != nil {
			return nil, err
		}
	}

	last := e.dag.Sorted[len(e.dag.Sorted)-1]
	res := e.st.Tasks[last]
	return &outcome{
		LastResponse: res.Response,
		AgentID:      res.Agent,
		Context: map[string]any{
			schema.CtxTasks:        e.st.Tasks,
			schema.CtxLastResponse: res.Response,
		},
	}, nil
}

// context exposes completed tasks by id, and the latest hitl response.
func (e *workflowExecutor) context(rc *runContext) map[string]any {
	data := rc.baseContext(nil)
	tasks := make(map[string]any, len(e.st.Tasks))
	for id, r := range e.st.Tasks {
		tasks[id] = r
	}
	data[schema.CtxTasks] = tasks
	for _, id := range e.dag.Sorted {
		r, ok := e.st.Tasks[id]
		if !ok {
			continue
		}
		data[schema.CtxLastResponse] = r.Response
		if r.Type == schema.StepKindHITL {
			data[schema.CtxHITLResponse] = r.Response
		}
	}
	return data
}
