package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// PoolMetrics tracks fan-out activity for one run.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// Limiter bounds concurrent units (branches, DAG-layer tasks, workers).
// A limit <= 0 means unbounded.
type Limiter struct {
	limit   int
	metrics PoolMetrics
}

// NewLimiter creates a Limiter.
func NewLimiter(limit int) *Limiter {
	return &Limiter{limit: limit}
}

// Limit returns the configured bound, 0 when unbounded.
func (l *Limiter) Limit() int {
	if l.limit < 0 {
		return 0
	}
	return l.limit
}

// Metrics returns a snapshot of the limiter metrics.
func (l *Limiter) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&l.metrics.Active),
		Completed: atomic.LoadInt64(&l.metrics.Completed),
		Failed:    atomic.LoadInt64(&l.metrics.Failed),
		Panics:    atomic.LoadInt64(&l.metrics.Panics),
	}
}

// fanOut runs fn for units 0..n-1 and gathers their results in index order.
// It is fail-fast: the first error cancels the shared context and every
// result is discarded. A panicking unit fails like any other.
func fanOut[T any](ctx context.Context, l *Limiter, n int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	g, gctx := errgroup.WithContext(ctx)
	if l.limit > 0 {
		g.SetLimit(l.limit)
	}

	results := make([]T, n)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			atomic.AddInt64(&l.metrics.Active, 1)
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&l.metrics.Panics, 1)
					err = schema.NewErrorf(schema.ErrCodePermanent, "unit %d panicked: %v", i, r).
						WithDetails(map[string]any{"stack": string(debug.Stack())})
				}
				atomic.AddInt64(&l.metrics.Active, -1)
				if err != nil {
					atomic.AddInt64(&l.metrics.Failed, 1)
				} else {
					atomic.AddInt64(&l.metrics.Completed, 1)
				}
			}()

			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, i)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// unitErr attaches a locator to err unless it already carries one.
func unitErr(unit string, err error) error {
	if se, ok := err.(*schema.Error); ok {
		if se.Unit == "" {
			se.Unit = unit
		}
		return se
	}
	return fmt.Errorf("%s: %w", unit, err)
}
