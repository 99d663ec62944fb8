package engine

import (
	"context"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// stepResult is the recorded outcome of one sequential step.
type stepResult struct {
	Index    int             `json:"index"`
	Type     schema.StepKind `json:"type"`
	Agent    string          `json:"agent,omitempty"`
	Response string          `json:"response"`
	TimedOut bool            `json:"timed_out,omitempty"`
}

// sequence drives one ordered list of steps: a chain, a selected route or a
// parallel branch.
type sequence struct {
	steps   []schema.Step
	results *[]stepResult // completed prefix, owned by the pattern state
	unit    func(i int) string
	locate  func(i int) schema.HITLState
	extra   map[string]any // pattern-specific context entries

	// detached sequences run inside a fan-out unit: they never checkpoint
	// and stop in front of a hitl step instead of pausing.
	detached bool
	// checkpoint is called after each completed step of an attached sequence.
	checkpoint func(ctx context.Context, unit string) error
}

// done reports whether every step has a result.
func (s *sequence) done() bool { return len(*s.results) >= len(s.steps) }

// last returns the most recent step response, or "" when none ran.
func (s *sequence) last() string {
	done := *s.results
	if len(done) == 0 {
		return ""
	}
	return done[len(done)-1].Response
}

// context builds the template context for step i.
func (s *sequence) context(rc *runContext, i int, hitlResponse string) map[string]any {
	data := rc.baseContext(s.steps[i].Vars)
	for k, v := range s.extra {
		data[k] = v
	}
	data[schema.CtxSteps] = *s.results
	if last := s.last(); last != "" || data[schema.CtxLastResponse] == nil {
		data[schema.CtxLastResponse] = last
	}
	if hitlResponse != "" {
		data[schema.CtxHITLResponse] = hitlResponse
	}
	return data
}

// runSequence executes the remaining steps of s. It returns a non-nil pause
// when an attached sequence reaches a hitl step that needs input.
func (rc *runContext) runSequence(ctx context.Context, s *sequence, slot **schema.HITLState) (*schema.HITLState, error) {
	hitlResponse := lastHITLResponse(*s.results)
	for i := len(*s.results); i < len(s.steps); i++ {
		step := s.steps[i]
		unit := s.unit(i)
		data := s.context(rc, i, hitlResponse)

		var res stepResult
		if step.IsHITL() {
			if s.detached {
				return nil, nil
			}
			resp, pause, err := rc.hitlUnit(ctx, slot, s.locate(i), step.HITLConfig, data)
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return pause, nil
			}
			hitlResponse = resp
			res = stepResult{Index: i, Type: schema.StepKindHITL, Response: resp, TimedOut: (*slot).TimedOut}
		} else {
			input, err := rc.input(ctx, step.Input, data, unit)
			if err != nil {
				return nil, err
			}
			out, err := rc.invoke(ctx, call{
				Agent:       step.Agent,
				Input:       input,
				Tools:       step.ToolOverrides,
				WorkerIndex: -1,
				Unit:        unit,
			})
			if err != nil {
				return nil, err
			}
			res = stepResult{Index: i, Type: schema.StepKindAgent, Agent: step.Agent, Response: out}
		}

		*s.results = append(*s.results, res)
		if !s.detached {
			*slot = nil
			if err := s.checkpoint(ctx, unit); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func lastHITLResponse(results []stepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Type == schema.StepKindHITL {
			return results[i].Response
		}
	}
	return ""
}

// lastAgent returns the agent of the most recent agent step.
func lastAgent(results []stepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Agent != "" {
			return results[i].Agent
		}
	}
	return ""
}
