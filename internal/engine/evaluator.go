package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/internal/hitl"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// iterationRecord is one produce/evaluate cycle.
type iterationRecord struct {
	Iteration  int        `json:"iteration"`
	Draft      string     `json:"draft"`
	Evaluation Evaluation `json:"evaluation"`
	Feedback   string     `json:"feedback,omitempty"`
	TimedOut   bool       `json:"timed_out,omitempty"` // the review gate fell back to its default
}

type evaluatorState struct {
	Iteration int               `json:"iteration"` // 1-based, current cycle
	Draft     string            `json:"draft"`
	Produced  bool              `json:"produced"` // the current draft awaits evaluation
	Feedback  string            `json:"feedback,omitempty"`
	History   []iterationRecord `json:"history"`
	HITL      *schema.HITLState `json:"hitl,omitempty"`
}

// evaluatorExecutor produces a draft, has it scored, and revises until the
// score reaches min_score or max_iters cycles have been evaluated.
type evaluatorExecutor struct {
	cfg *schema.EvaluatorOptimizerConfig
	st  evaluatorState
}

func (e *evaluatorExecutor) state() any { return &e.st }

const evaluationFormat = `{"score": <0-100>, "issues": ["..."], "fixes": ["..."]}`

func (e *evaluatorExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if e.st.Iteration == 0 {
		e.st.Iteration = 1
	}

	for {
		unit := fmt.Sprintf("iteration:%d", e.st.Iteration)

		if !e.st.Produced {
			draft, err := e.produce(ctx, rc, unit)
			if err != nil {
				return nil, err
			}
			e.st.Draft, e.st.Produced = draft, true
			if err := rc.Checkpoint(ctx, unit+"/produce"); err != nil {
				return nil, err
			}
		}

		if len(e.st.History) < e.st.Iteration {
			eval, err := e.evaluate(ctx, rc, unit)
			if err != nil {
				return nil, err
			}
			e.st.History = append(e.st.History, iterationRecord{
				Iteration:  e.st.Iteration,
				Draft:      e.st.Draft,
				Evaluation: *eval,
			})
			if err := rc.Checkpoint(ctx, unit+"/evaluate"); err != nil {
				return nil, err
			}
		}

		latest := e.st.History[len(e.st.History)-1]
		if latest.Evaluation.Score >= float64(e.cfg.Accept.MinScore) {
			return e.result(latest, false), nil
		}
		if e.st.Iteration >= e.cfg.Accept.MaxIters {
			return nil, schema.NewErrorf(schema.ErrCodeIterationLimit,
				"no draft reached score %d within %d iterations (best %.0f)",
				e.cfg.Accept.MinScore, e.cfg.Accept.MaxIters, e.best().Evaluation.Score).
				WithUnit(unit).
				WithDetails(map[string]any{"iterations": e.st.History})
		}

		if gate := e.cfg.ReviewGate; gate != nil {
			data := e.context(rc, latest)
			at := schema.HITLState{IterationIndex: schema.IntPtr(e.st.Iteration)}
			resp, pause, err := rc.hitlUnit(ctx, &e.st.HITL, at, *gate, data)
			if err != nil {
				return nil, err
			}
			if pause != nil {
				return paused(pause), nil
			}
			if hitl.IsEarlyTermination(resp) {
				return e.result(e.best(), true), nil
			}
			e.st.Feedback = resp
			rec := &e.st.History[len(e.st.History)-1]
			rec.Feedback = resp
			rec.TimedOut = e.st.HITL != nil && e.st.HITL.TimedOut
		}

		e.st.Iteration++
		e.st.Produced = false
		e.st.HITL = nil
		if err := rc.Checkpoint(ctx, unit); err != nil {
			return nil, err
		}
	}
}

func (e *evaluatorExecutor) produce(ctx context.Context, rc *runContext, unit string) (string, error) {
	var (
		input string
		err   error
	)
	if e.st.Iteration == 1 {
		input, err = rc.input(ctx, e.cfg.Input, rc.baseContext(nil), unit)
	} else {
		input, err = e.revision(ctx, rc, unit)
	}
	if err != nil {
		return "", err
	}
	return rc.invoke(ctx, call{Agent: e.cfg.Producer, Input: input, WorkerIndex: -1, Unit: unit + "/produce"})
}

// revision builds the revise prompt from the previous draft and its evaluation.
func (e *evaluatorExecutor) revision(ctx context.Context, rc *runContext, unit string) (string, error) {
	prev := e.st.History[len(e.st.History)-1]
	data := e.context(rc, prev)
	if e.cfg.RevisePrompt != "" {
		out, err := rc.render(ctx, e.cfg.RevisePrompt, data)
		if err != nil {
			return "", unitErr(unit, err)
		}
		return out, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Revise the draft below. It scored %.0f; the target is %d.\n\n", prev.Evaluation.Score, e.cfg.Accept.MinScore)
	fmt.Fprintf(&b, "Draft:\n%s\n", prev.Draft)
	writeList(&b, "Issues", prev.Evaluation.Issues)
	writeList(&b, "Suggested fixes", prev.Evaluation.Fixes)
	if e.st.Feedback != "" {
		fmt.Fprintf(&b, "\nReviewer feedback:\n%s\n", e.st.Feedback)
	}
	b.WriteString("\nReturn only the revised draft.")
	return b.String(), nil
}

// evaluate scores the current draft, with one clarification retry when the
// evaluator's reply is not a valid evaluation.
func (e *evaluatorExecutor) evaluate(ctx context.Context, rc *runContext, unit string) (*Evaluation, error) {
	data := e.context(rc, iterationRecord{Iteration: e.st.Iteration, Draft: e.st.Draft})
	var prompt string
	if e.cfg.Evaluator.Input != "" {
		out, err := rc.render(ctx, e.cfg.Evaluator.Input, data)
		if err != nil {
			return nil, unitErr(unit, err)
		}
		prompt = out
	} else {
		prompt = fmt.Sprintf("Evaluate the following draft. Respond with JSON %s.\n\n%s", evaluationFormat, e.st.Draft)
	}

	evalUnit := unit + "/evaluate"
	reply, err := rc.invoke(ctx, call{Agent: e.cfg.Evaluator.Agent, Input: prompt, WorkerIndex: -1, Unit: evalUnit})
	if err != nil {
		return nil, err
	}
	eval, perr := parseEvaluation(rc.outputs, reply)
	if perr == nil {
		return eval, nil
	}

	reply, err = rc.invoke(ctx, call{Agent: e.cfg.Evaluator.Agent, Input: prompt + clarification(perr, evaluationFormat), WorkerIndex: -1, Unit: evalUnit})
	if err != nil {
		return nil, err
	}
	eval, perr = parseEvaluation(rc.outputs, reply)
	if perr != nil {
		return nil, unitErr(evalUnit, perr)
	}
	return eval, nil
}

// best returns the highest scoring iteration; later iterations win ties.
func (e *evaluatorExecutor) best() iterationRecord {
	best := e.st.History[0]
	for _, it := range e.st.History[1:] {
		if it.Evaluation.Score >= best.Evaluation.Score {
			best = it
		}
	}
	return best
}

func (e *evaluatorExecutor) context(rc *runContext, it iterationRecord) map[string]any {
	data := rc.baseContext(nil)
	data[schema.CtxDraft] = it.Draft
	data[schema.CtxIteration] = it.Iteration
	data[schema.CtxEvaluation] = it.Evaluation
	data[schema.CtxIterations] = e.st.History
	data[schema.CtxLastResponse] = it.Draft
	if e.st.Feedback != "" {
		data[schema.CtxHITLResponse] = e.st.Feedback
	}
	return data
}

func (e *evaluatorExecutor) result(final iterationRecord, early bool) *outcome {
	return &outcome{
		LastResponse: final.Draft,
		AgentID:      e.cfg.Producer,
		Context: map[string]any{
			schema.CtxIterations:   e.st.History,
			schema.CtxLastResponse: final.Draft,
			"final_score":          final.Evaluation.Score,
			"final_iteration":      final.Iteration,
			"early_termination":    early,
		},
	}
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}
