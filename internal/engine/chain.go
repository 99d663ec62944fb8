package engine

import (
	"context"
	"strconv"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type chainState struct {
	Steps []stepResult      `json:"steps"`
	HITL  *schema.HITLState `json:"hitl,omitempty"`
}

// chainExecutor runs steps strictly in order; the resume point is the
// number of completed steps.
type chainExecutor struct {
	cfg *schema.ChainConfig
	st  chainState
}

func (e *chainExecutor) state() any { return &e.st }

func (e *chainExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	seq := &sequence{
		steps:      e.cfg.Steps,
		results:    &e.st.Steps,
		unit:       func(i int) string { return "step:" + strconv.Itoa(i) },
		locate:     func(i int) schema.HITLState { return schema.HITLState{StepIndex: schema.IntPtr(i)} },
		checkpoint: rc.Checkpoint,
	}
	pause, err := rc.runSequence(ctx, seq, &e.st.HITL)
	if err != nil {
		return nil, err
	}
	if pause != nil {
		return paused(pause), nil
	}

	return &outcome{
		LastResponse: seq.last(),
		AgentID:      lastAgent(e.st.Steps),
		Context: map[string]any{
			schema.CtxSteps:        e.st.Steps,
			schema.CtxLastResponse: seq.last(),
		},
	}, nil
}
