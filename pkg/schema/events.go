package schema

// Event names emitted to observers and structured logs.
const (
	EventRunStarted         = "run_started"
	EventRunCompleted       = "run_completed"
	EventRunFailed          = "run_failed"
	EventRunPaused          = "run_paused"
	EventRunResumed         = "run_resumed"
	EventInvocation         = "agent_invocation"
	EventInvocationRetry    = "agent_invocation_retry"
	EventCheckpoint         = "checkpoint"
	EventHITLPrompted       = "hitl_prompted"
	EventHITLTimedOut       = "hitl_timed_out"
	EventBudgetWarning      = "budget_warning"
	EventSpecDrift          = "spec_drift"
	EventCircuitBreakerOpen = "circuit_breaker_open"
	EventAgentCacheClosed   = "agent_cache_closed"
)
