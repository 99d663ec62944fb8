package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Cache pools invokers for one run. The same key yields the same instance;
// a distinct worker index always yields an isolated one.
type Cache struct {
	mu      sync.Mutex
	factory Factory
	entries map[Key]Invoker
	order   []Key
	limiter *rate.Limiter
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRateLimit throttles every invocation through the cache to rps
// requests per second. Zero or negative disables throttling.
func WithRateLimit(rps float64) CacheOption {
	return func(c *Cache) {
		if rps > 0 {
			burst := int(rps)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCacheLogger sets the logger used for close failures.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates an empty cache backed by factory.
func NewCache(factory Factory, opts ...CacheOption) *Cache {
	c := &Cache{
		factory: factory,
		entries: make(map[Key]Invoker),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the pooled invoker for req, building it on first use.
func (c *Cache) Get(ctx context.Context, req Request) (Invoker, error) {
	key := req.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, schema.NewError(schema.ErrCodePermanent, "agent cache is closed")
	}
	if inv, ok := c.entries[key]; ok {
		return inv, nil
	}
	inv, err := c.factory.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		inv = &limitedInvoker{inner: inv, limiter: c.limiter}
	}
	c.entries[key] = inv
	c.order = append(c.order, key)
	return inv, nil
}

// Len returns the number of pooled invokers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every pooled invoker exactly once. Individual failures are
// logged and joined; they never stop the remaining invokers from closing.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		entries, order := c.entries, c.order
		c.entries, c.order = map[Key]Invoker{}, nil
		c.mu.Unlock()

		var errs []error
		for _, k := range order {
			closer, ok := unwrapInvoker(entries[k]).(io.Closer)
			if !ok {
				continue
			}
			if err := closer.Close(); err != nil {
				c.logger.Warn("agent close failed", slog.String("agent", k.String()), slog.String("error", err.Error()))
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

type limitedInvoker struct {
	inner   Invoker
	limiter *rate.Limiter
}

func (l *limitedInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.inner.Invoke(ctx, prompt)
}

func unwrapInvoker(inv Invoker) Invoker {
	if l, ok := inv.(*limitedInvoker); ok {
		return l.inner
	}
	return inv
}
