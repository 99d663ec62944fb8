// Package scheduler runs the HITL timeout sweeper: on a cron schedule it
// resumes paused sessions whose pause deadline has passed, so the default
// response is applied without a human calling resume.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// DefaultSchedule sweeps once a minute.
const DefaultSchedule = "* * * * *"

// Resumer continues a paused session. Satisfied by the engine runner
// (avoids import cycle).
type Resumer interface {
	Resume(ctx context.Context, sessionID, hitlResponse string) (*schema.RunResult, error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked int      `json:"checked"`
	Resumed []string `json:"resumed"`
	Failed  []string `json:"failed"`
}

// Scheduler periodically sweeps the store for expired HITL pauses.
type Scheduler struct {
	store    store.Store
	resumer  Resumer
	parser   cron.Parser
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // session IDs currently being resumed (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a sweeper running on the 5-field cron expression
// expr. An empty expr means DefaultSchedule.
func NewScheduler(s store.Store, resumer Resumer, expr string, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	sched := &Scheduler{
		store:    s,
		resumer:  resumer,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sched)
	}
	schedule, err := sched.parser.Parse(expr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "parse sweep schedule %q: %s", expr, err.Error()).WithCause(err)
	}
	sched.schedule = schedule
	return sched, nil
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("hitl sweeper started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	// Pauses that expired while nothing was running are swept immediately.
	s.tick(ctx)

	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("hitl sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep resumes every paused session whose hitl deadline is not after now.
// A failing resume is logged and reported; it does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	sessions, err := s.store.List(ctx, store.Filter{Status: schema.SessionPaused})
	if err != nil {
		return nil, fmt.Errorf("list paused sessions: %w", err)
	}

	now := s.now().UTC()
	report := &SweepReport{Checked: len(sessions), Resumed: []string{}, Failed: []string{}}
	for _, meta := range sessions {
		if meta.HITLTimeoutAt == nil || meta.HITLTimeoutAt.After(now) {
			continue
		}
		if !s.tryAcquire(meta.SessionID) {
			continue // already resuming (dedup)
		}
		s.logger.Info("resuming expired hitl pause",
			slog.String("session_id", meta.SessionID),
			slog.Time("timeout_at", *meta.HITLTimeoutAt),
		)
		res, err := s.resumer.Resume(ctx, meta.SessionID, "")
		s.releaseSession(meta.SessionID)
		if err != nil && !schema.IsAwaitingInput(err) {
			s.logger.Error("hitl timeout resume failed",
				slog.String("session_id", meta.SessionID),
				slog.String("error", err.Error()),
			)
			report.Failed = append(report.Failed, meta.SessionID)
			continue
		}
		report.Resumed = append(report.Resumed, meta.SessionID)
		if res != nil {
			s.logger.Debug("hitl timeout resume finished",
				slog.String("session_id", meta.SessionID),
				slog.String("exit", string(res.ExitSignal)),
			)
		}
	}

	if len(report.Resumed) > 0 || len(report.Failed) > 0 {
		s.logger.Info("hitl sweep complete",
			slog.Int("checked", report.Checked),
			slog.Int("resumed", len(report.Resumed)),
			slog.Int("failed", len(report.Failed)),
		)
	}
	return report, nil
}

// tryAcquire returns true and marks the session as in-flight if it is not already being resumed.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) releaseSession(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun returns the next sweep time after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("hitl sweeper stopped")
	return nil
}
