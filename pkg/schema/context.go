package schema

// Execution context keys exposed to templates and graph conditions.
const (
	CtxSteps        = "steps"
	CtxTasks        = "tasks"
	CtxBranches     = "branches"
	CtxNodes        = "nodes"
	CtxWorkers      = "workers"
	CtxIterations   = "iterations"
	CtxLastResponse = "last_response"
	CtxHITLResponse = "hitl_response"
	CtxVars         = "vars"

	// Pattern-local keys.
	CtxTask       = "task"       // orchestrator worker: the assigned subtask
	CtxDraft      = "draft"      // evaluator-optimizer: the draft under review
	CtxEvaluation = "evaluation" // evaluator-optimizer: the latest evaluation
	CtxIteration  = "iteration"  // evaluator-optimizer: 1-based iteration number
	CtxRouter     = "router"     // routing: {chosen_route}
)

// Node status values for the graph "nodes" namespace.
const (
	NodeNotExecuted    = "not_executed"
	NodeSuccess        = "success"
	NodeError          = "error"
	NodeWaitingForUser = "waiting_for_user"
)

// ContextKeys lists every key the engine may place in an execution context.
func ContextKeys() []string {
	return []string{
		CtxSteps, CtxTasks, CtxBranches, CtxNodes, CtxWorkers, CtxIterations,
		CtxLastResponse, CtxHITLResponse, CtxVars,
		CtxTask, CtxDraft, CtxEvaluation, CtxIteration, CtxRouter,
	}
}
