package budget

import (
	"log/slog"
	"sync"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// WarnRatio is the share of the ceiling at which a single warning is emitted.
const WarnRatio = 0.8

// WarnFunc is called once when usage first crosses WarnRatio.
type WarnFunc func(used, max int)

// Tracker accumulates estimated token usage for one run. A zero ceiling
// disables enforcement but usage is still counted.
type Tracker struct {
	mu        sync.Mutex
	max       int
	usage     schema.TokenUsage
	warned    bool
	estimator Estimator
	onWarn    WarnFunc
	logger    *slog.Logger
}

// NewTracker creates a tracker seeded with prior usage (restored on resume).
func NewTracker(max int, est Estimator, initial schema.TokenUsage, logger *slog.Logger) *Tracker {
	if est == nil {
		est = WordEstimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{max: max, usage: initial, estimator: est, logger: logger}
	if max > 0 && float64(initial.Total()) >= WarnRatio*float64(max) {
		t.warned = true
	}
	return t
}

// OnWarn registers the callback invoked at the 80% threshold.
func (t *Tracker) OnWarn(fn WarnFunc) {
	t.mu.Lock()
	t.onWarn = fn
	t.mu.Unlock()
}

// Check fails with BUDGET_EXCEEDED when the ceiling has been reached.
// Called before every invocation so no work starts past the limit.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.max > 0 && t.usage.Total() >= t.max {
		return t.exceeded()
	}
	return nil
}

// Add records one invocation's prompt and response and returns the tokens
// charged. It returns BUDGET_EXCEEDED once the cumulative usage reaches the
// ceiling.
func (t *Tracker) Add(prompt, response string) (int, error) {
	in := t.estimator.Estimate(prompt)
	out := t.estimator.Estimate(response)

	t.mu.Lock()
	t.usage.Input += in
	t.usage.Output += out
	total := t.usage.Total()

	var warn WarnFunc
	if t.max > 0 && !t.warned && float64(total) >= WarnRatio*float64(t.max) {
		t.warned = true
		warn = t.onWarn
		t.logger.Warn("token budget nearly exhausted",
			slog.Int("used", total), slog.Int("max", t.max), slog.String("estimator", t.estimator.Name()))
	}
	var err error
	if t.max > 0 && total >= t.max {
		err = t.exceeded()
	}
	t.mu.Unlock()

	if warn != nil {
		warn(total, t.max)
	}
	return in + out, err
}

// Usage returns the cumulative usage so far.
func (t *Tracker) Usage() schema.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Max returns the configured ceiling (0 = unlimited).
func (t *Tracker) Max() int { return t.max }

func (t *Tracker) exceeded() error {
	return schema.NewErrorf(schema.ErrCodeBudgetExceeded,
		"token budget exhausted: %d of %d estimated tokens used", t.usage.Total(), t.max).
		WithDetails(map[string]any{"used": t.usage.Total(), "max": t.max})
}
