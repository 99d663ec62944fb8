package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type workerResult struct {
	Index    int    `json:"index"`
	Task     string `json:"task"`
	Response string `json:"response"`
}

type orchestratorState struct {
	Decomposed  bool              `json:"decomposed"`
	Subtasks    []Subtask         `json:"subtasks,omitempty"`
	Workers     []workerResult    `json:"workers,omitempty"`
	WorkersDone bool              `json:"workers_done"`
	Reduce      []stepResult      `json:"reduce,omitempty"`
	Writeup     []stepResult      `json:"writeup,omitempty"`
	HITL        *schema.HITLState `json:"hitl,omitempty"`
}

// noWorkResponse is the result of an empty decomposition.
const noWorkResponse = "No subtasks were identified; no work needed."

// orchestratorExecutor decomposes a task, fans the subtasks out to isolated
// worker agents and optionally reduces and writes up their results. Each
// phase is checkpointed on completion.
type orchestratorExecutor struct {
	cfg *schema.OrchestratorWorkersConfig
	st  orchestratorState
}

func (e *orchestratorExecutor) state() any { return &e.st }

const decompositionFormat = `[{"task": "..."}, ...]`

func (e *orchestratorExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if !e.st.Decomposed {
		subtasks, err := e.decompose(ctx, rc)
		if err != nil {
			return nil, err
		}
		if limit := e.cfg.Orchestrator.Limits.MaxWorkers; limit > 0 && len(subtasks) > limit {
			subtasks = subtasks[:limit]
		}
		e.st.Subtasks, e.st.Decomposed = subtasks, true
		if err := rc.Checkpoint(ctx, "decompose"); err != nil {
			return nil, err
		}
	}
	if len(e.st.Subtasks) == 0 {
		return &outcome{
			LastResponse: noWorkResponse,
			AgentID:      e.cfg.Orchestrator.Agent,
			Context: map[string]any{
				schema.CtxWorkers:      []workerResult{},
				schema.CtxLastResponse: noWorkResponse,
			},
		}, nil
	}

	if !e.st.WorkersDone {
		workers, err := e.runWorkers(ctx, rc)
		if err != nil {
			return nil, err
		}
		e.st.Workers, e.st.WorkersDone = workers, true
		if err := rc.Checkpoint(ctx, "workers"); err != nil {
			return nil, err
		}
	}

	last, agentID := joinWorkers(e.st.Workers), e.cfg.WorkerTemplate.Agent
	for _, phase := range []struct {
		name    string
		step    *schema.Step
		results *[]stepResult
	}{
		{"reduce", e.cfg.Reduce, &e.st.Reduce},
		{"writeup", e.cfg.Writeup, &e.st.Writeup},
	} {
		if phase.step == nil {
			continue
		}
		seq := &sequence{
			steps:   []schema.Step{*phase.step},
			results: phase.results,
			unit:    func(int) string { return phase.name },
			locate: func(int) schema.HITLState {
				return schema.HITLState{Phase: phase.name}
			},
			extra: map[string]any{
				schema.CtxWorkers:      e.st.Workers,
				schema.CtxLastResponse: last,
			},
			checkpoint: rc.Checkpoint,
		}
		pause, err := rc.runSequence(ctx, seq, &e.st.HITL)
		if err != nil {
			return nil, err
		}
		if pause != nil {
			return paused(pause), nil
		}
		last = seq.last()
		if a := lastAgent(*phase.results); a != "" {
			agentID = a
		}
	}

	return &outcome{
		LastResponse: last,
		AgentID:      agentID,
		Context: map[string]any{
			schema.CtxWorkers:      e.st.Workers,
			schema.CtxLastResponse: last,
			"subtasks":             e.st.Subtasks,
		},
	}, nil
}

// decompose asks the orchestrator for subtasks, re-prompting up to
// max_retries times when the reply is not a valid subtask list.
func (e *orchestratorExecutor) decompose(ctx context.Context, rc *runContext) ([]Subtask, error) {
	ocfg := e.cfg.Orchestrator
	retries := ocfg.MaxRetries
	if retries == 0 {
		retries = schema.DefaultRouterRetries
	}

	base, err := rc.input(ctx, ocfg.Input, rc.baseContext(nil), "decompose")
	if err != nil {
		return nil, err
	}
	base += "\n\nBreak this work into independent subtasks. Reply with a JSON array " + decompositionFormat + "."
	if limit := ocfg.Limits.MaxWorkers; limit > 0 {
		base += fmt.Sprintf(" Use at most %d subtasks.", limit)
	}

	prompt := base
	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		reply, err := rc.invoke(ctx, call{Agent: ocfg.Agent, Input: prompt, WorkerIndex: -1, Unit: "decompose"})
		if err != nil {
			return nil, err
		}
		subtasks, perr := parseDecomposition(rc.outputs, reply)
		if perr == nil {
			return subtasks, nil
		}
		lastErr = perr
		prompt = base + clarification(perr, decompositionFormat)
	}
	return nil, schema.NewErrorf(schema.ErrCodeMalformedResponse,
		"orchestrator gave no valid subtask list after %d attempts: %s", retries+1, lastErr.Error()).
		WithUnit("decompose").
		WithCause(lastErr).
		WithDetails(map[string]any{"attempts": retries + 1})
}

// runWorkers runs one isolated worker per subtask. max_workers also bounds
// worker concurrency when it is tighter than the run limiter.
func (e *orchestratorExecutor) runWorkers(ctx context.Context, rc *runContext) ([]workerResult, error) {
	limiter := rc.limiter
	if limit := e.cfg.Orchestrator.Limits.MaxWorkers; limit > 0 && (limiter.Limit() == 0 || limit < limiter.Limit()) {
		limiter = NewLimiter(limit)
	}
	tmpl := e.cfg.WorkerTemplate

	return fanOut(ctx, limiter, len(e.st.Subtasks), func(ctx context.Context, i int) (workerResult, error) {
		sub := e.st.Subtasks[i]
		unit := fmt.Sprintf("worker:%d", i)
		data := rc.baseContext(nil)
		data[schema.CtxTask] = map[string]any{"index": i, "task": sub.Task}
		data[schema.CtxLastResponse] = sub.Task

		input, err := rc.input(ctx, tmpl.Input, data, unit)
		if err != nil {
			return workerResult{}, err
		}
		out, err := rc.invoke(ctx, call{Agent: tmpl.Agent, Input: input, Tools: tmpl.Tools, WorkerIndex: i, Unit: unit})
		if err != nil {
			return workerResult{}, err
		}
		return workerResult{Index: i, Task: sub.Task, Response: out}, nil
	})
}

func joinWorkers(workers []workerResult) string {
	parts := make([]string, 0, len(workers))
	for _, w := range workers {
		parts = append(parts, fmt.Sprintf("## Worker %d: %s\n%s", w.Index, w.Task, w.Response))
	}
	return strings.Join(parts, "\n\n")
}
