package observe

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Metrics exports run telemetry as Prometheus series.
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	invocationRetries  *prometheus.CounterVec
	tokensTotal        prometheus.Counter
	checkpointsTotal   prometheus.Counter
	hitlPausesTotal    prometheus.Counter
	budgetWarnings     prometheus.Counter
	specDrifts         prometheus.Counter
}

var _ Observer = (*Metrics)(nil)

// NewMetrics registers the strands series with reg. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by pattern and exit signal",
		}, []string{"pattern", "exit_signal"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Run wall-clock duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"pattern"}),
		invocationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocations_total",
			Help:      "Agent invocations by agent and status",
		}, []string{"agent", "status"}),
		invocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_invocation_duration_seconds",
			Help:      "Agent invocation duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"agent"}),
		invocationRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocation_retries_total",
			Help:      "Retried agent attempts",
		}, []string{"agent"}),
		tokensTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_tokens_total",
			Help:      "Estimated tokens consumed by agent invocations",
		}),
		checkpointsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Session checkpoints written",
		}),
		hitlPausesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hitl_pauses_total",
			Help:      "Runs paused for human input",
		}),
		budgetWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_warnings_total",
			Help:      "Runs that crossed the budget warning threshold",
		}),
		specDrifts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spec_drift_total",
			Help:      "Resumes whose spec hash differed from the stored one",
		}),
	}
}

func (m *Metrics) RunStarted(context.Context, RunInfo) {}

func (m *Metrics) RunFinished(_ context.Context, result *schema.RunResult, err error) {
	if result == nil {
		m.runsTotal.WithLabelValues("", string(schema.ExitFailure)).Inc()
		return
	}
	pattern := string(result.PatternType)
	m.runsTotal.WithLabelValues(pattern, string(result.ExitSignal)).Inc()
	if result.ExitSignal != schema.ExitAwaitingInput {
		m.runDuration.WithLabelValues(pattern).Observe(result.DurationSeconds)
	}
}

func (m *Metrics) InvocationCompleted(_ context.Context, inv Invocation) {
	status := "success"
	if inv.Err != nil {
		status = "error"
	}
	m.invocationsTotal.WithLabelValues(inv.AgentID, status).Inc()
	m.invocationDuration.WithLabelValues(inv.AgentID).Observe(inv.Duration.Seconds())
	if inv.Attempts > 1 {
		m.invocationRetries.WithLabelValues(inv.AgentID).Add(float64(inv.Attempts - 1))
	}
	if inv.Tokens > 0 {
		m.tokensTotal.Add(float64(inv.Tokens))
	}
}

func (m *Metrics) Checkpointed(context.Context, string, string) { m.checkpointsTotal.Inc() }

func (m *Metrics) HITLPrompted(context.Context, string, *schema.HITLState) { m.hitlPausesTotal.Inc() }

func (m *Metrics) BudgetWarning(context.Context, int, int) { m.budgetWarnings.Inc() }

func (m *Metrics) SpecDrift(context.Context, string, string, string) { m.specDrifts.Inc() }
