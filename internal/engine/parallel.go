package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type branchState struct {
	Steps []stepResult `json:"steps"`
	Done  bool         `json:"done"`
}

type parallelState struct {
	Branches   map[string]*branchState `json:"branches"`
	Reduce     []stepResult            `json:"reduce,omitempty"`
	ReduceDone bool                    `json:"reduce_done"`
	HITL       *schema.HITLState       `json:"hitl,omitempty"`
}

// parallelExecutor runs every branch concurrently, then an optional reduce
// step. Branch results are recorded only after the whole set has joined, so
// a failing branch discards its siblings' work.
type parallelExecutor struct {
	cfg *schema.ParallelConfig
	st  parallelState
}

func (e *parallelExecutor) state() any { return &e.st }

func (e *parallelExecutor) branchSequence(rc *runContext, b schema.Branch, results *[]stepResult, detached bool) *sequence {
	return &sequence{
		steps:   b.Steps,
		results: results,
		unit: func(i int) string {
			return fmt.Sprintf("branch:%s/step:%d", b.ID, i)
		},
		locate: func(i int) schema.HITLState {
			return schema.HITLState{BranchID: b.ID, StepIndex: schema.IntPtr(i)}
		},
		detached:   detached,
		checkpoint: rc.Checkpoint,
	}
}

func (e *parallelExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if e.st.Branches == nil {
		e.st.Branches = make(map[string]*branchState, len(e.cfg.Branches))
	}
	for _, b := range e.cfg.Branches {
		if e.st.Branches[b.ID] == nil {
			e.st.Branches[b.ID] = &branchState{}
		}
	}

	// A branch stopped in front of a hitl step continues on this goroutine.
	for _, b := range e.cfg.Branches {
		bs := e.st.Branches[b.ID]
		if bs.Done || !e.waitingOnHITL(b, bs) {
			continue
		}
		pause, err := rc.runSequence(ctx, e.branchSequence(rc, b, &bs.Steps, false), &e.st.HITL)
		if err != nil {
			return nil, err
		}
		if pause != nil {
			return paused(pause), nil
		}
		bs.Done = true
		if err := rc.Checkpoint(ctx, "branch:"+b.ID); err != nil {
			return nil, err
		}
	}

	var running []schema.Branch
	for _, b := range e.cfg.Branches {
		if !e.st.Branches[b.ID].Done {
			running = append(running, b)
		}
	}
	if len(running) > 0 {
		outs, err := fanOut(ctx, rc.limiter, len(running), func(ctx context.Context, i int) ([]stepResult, error) {
			b := running[i]
			steps := append([]stepResult(nil), e.st.Branches[b.ID].Steps...)
			if _, err := rc.runSequence(ctx, e.branchSequence(rc, b, &steps, true), nil); err != nil {
				return nil, err
			}
			return steps, nil
		})
		if err != nil {
			return nil, err
		}
		for i, b := range running {
			e.st.Branches[b.ID].Steps = outs[i]
			e.st.Branches[b.ID].Done = len(outs[i]) == len(b.Steps)
		}
		if err := rc.Checkpoint(ctx, "branches"); err != nil {
			return nil, err
		}

		for _, b := range running {
			bs := e.st.Branches[b.ID]
			if bs.Done {
				continue
			}
			pause, err := rc.runSequence(ctx, e.branchSequence(rc, b, &bs.Steps, false), &e.st.HITL)
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return paused(pause), nil
			}
			bs.Done = true
			if err := rc.Checkpoint(ctx, "branch:"+b.ID); err != nil {
				return nil, err
			}
		}
	}

	branches := e.branchOutputs()
	agentID := ""
	last := joinBranches(branches)
	if e.cfg.Reduce != nil {
		if !e.st.ReduceDone {
			pause, err := e.reduce(ctx, rc, branches)
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return paused(pause), nil
			}
		}
		if n := len(e.st.Reduce); n > 0 {
			last = e.st.Reduce[n-1].Response
			agentID = e.st.Reduce[n-1].Agent
		}
	}

	return &outcome{
		LastResponse: last,
		AgentID:      agentID,
		Context: map[string]any{
			schema.CtxBranches:     branches,
			schema.CtxLastResponse: last,
		},
	}, nil
}

// waitingOnHITL reports whether a branch stopped in front of a hitl step.
func (e *parallelExecutor) waitingOnHITL(b schema.Branch, bs *branchState) bool {
	n := len(bs.Steps)
	return n > 0 && n < len(b.Steps) && b.Steps[n].IsHITL() ||
		n == 0 && b.Steps[0].IsHITL() && e.st.HITL != nil && e.st.HITL.BranchID == b.ID
}

func (e *parallelExecutor) reduce(ctx context.Context, rc *runContext, branches map[string]any) (*schema.HITLState, error) {
	seq := &sequence{
		steps:   []schema.Step{*e.cfg.Reduce},
		results: &e.st.Reduce,
		unit:    func(int) string { return "reduce" },
		locate: func(int) schema.HITLState {
			return schema.HITLState{Phase: "reduce"}
		},
		extra: map[string]any{
			schema.CtxBranches:     branches,
			schema.CtxLastResponse: joinBranches(branches),
		},
		checkpoint: func(ctx context.Context, unit string) error {
			e.st.ReduceDone = true
			return rc.Checkpoint(ctx, unit)
		},
	}
	return rc.runSequence(ctx, seq, &e.st.HITL)
}

// branchOutputs maps branch id to {response, steps}.
func (e *parallelExecutor) branchOutputs() map[string]any {
	out := make(map[string]any, len(e.st.Branches))
	for id, bs := range e.st.Branches {
		resp := ""
		if n := len(bs.Steps); n > 0 {
			resp = bs.Steps[n-1].Response
		}
		out[id] = map[string]any{"response": resp, "steps": bs.Steps}
	}
	return out
}

// joinBranches concatenates branch responses in branch id order, each under
// a heading naming its branch.
func joinBranches(branches map[string]any) string {
	ids := make([]string, 0, len(branches))
	for id := range branches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		resp, _ := branches[id].(map[string]any)["response"].(string)
		parts = append(parts, fmt.Sprintf("## %s\n%s", id, resp))
	}
	return strings.Join(parts, "\n\n")
}
