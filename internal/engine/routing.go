package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

type routingState struct {
	Route    string            `json:"route,omitempty"`
	Attempts int               `json:"router_attempts,omitempty"`
	Steps    []stepResult      `json:"steps"`
	HITL     *schema.HITLState `json:"hitl,omitempty"`
}

// routingExecutor asks a router agent for a route, then runs that route's
// steps as a chain. The decision is checkpointed before any route step.
type routingExecutor struct {
	cfg *schema.RoutingConfig
	st  routingState
}

func (e *routingExecutor) state() any { return &e.st }

func (e *routingExecutor) routes() []string {
	names := make([]string, 0, len(e.cfg.Routes))
	for name := range e.cfg.Routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *routingExecutor) execute(ctx context.Context, rc *runContext) (*outcome, error) {
	if e.st.Route == "" {
		route, attempts, err := e.decide(ctx, rc)
		if err != nil {
			return nil, err
		}
		e.st.Route, e.st.Attempts = route, attempts
		if err := rc.Checkpoint(ctx, "router"); err != nil {
			return nil, err
		}
	}

	route, ok := e.cfg.Routes[e.st.Route]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "stored route %q no longer exists", e.st.Route).WithUnit("router")
	}
	router := map[string]any{"chosen_route": e.st.Route}
	seq := &sequence{
		steps:   route.Then,
		results: &e.st.Steps,
		unit: func(i int) string {
			return fmt.Sprintf("route:%s/step:%d", e.st.Route, i)
		},
		locate: func(i int) schema.HITLState {
			return schema.HITLState{StepIndex: schema.IntPtr(i)}
		},
		extra:      map[string]any{schema.CtxRouter: router},
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
			schema.CtxRouter:       router,
			schema.CtxSteps:        e.st.Steps,
			schema.CtxLastResponse: seq.last(),
		},
	}, nil
}

// decide invokes the router, re-prompting with a clarification when its
// reply is malformed or names an unknown route.
func (e *routingExecutor) decide(ctx context.Context, rc *runContext) (string, int, error) {
	rcfg := e.cfg.Router
	names := e.routes()
	retries := rcfg.MaxRetries
	if retries == 0 {
		retries = schema.DefaultRouterRetries
	}

	base, err := rc.input(ctx, rcfg.Input, rc.baseContext(nil), "router")
	if err != nil {
		return "", 0, err
	}
	base += fmt.Sprintf("\n\nChoose one route from: %s. Reply with a JSON object {\"route\": \"<name>\"}.", strings.Join(names, ", "))

	prompt := base
	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		reply, err := rc.invoke(ctx, call{Agent: rcfg.Agent, Input: prompt, WorkerIndex: -1, Unit: "router"})
		if err != nil {
			return "", attempt, err
		}
		route, perr := parseRoute(rc.outputs, reply, names)
		if perr == nil {
			return route, attempt, nil
		}
		lastErr = perr
		prompt = base + clarification(perr, `{"route": "<name>"}`)
	}
	return "", retries + 1, schema.NewErrorf(schema.ErrCodeMalformedResponse,
		"router gave no valid route after %d attempts: %s", retries+1, lastErr.Error()).
		WithUnit("router").
		WithCause(lastErr).
		WithDetails(map[string]any{"routes": names, "attempts": retries + 1})
}

// clarification is appended to a prompt whose structured reply was rejected.
func clarification(err error, format string) string {
	return fmt.Sprintf("\n\nYour previous reply could not be used (%s). Respond with only valid JSON of the form %s and nothing else.", messageOf(err), format)
}

func messageOf(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Message
	}
	return err.Error()
}
