package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// app is the wired dependency graph shared by the subcommands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	registry *prometheus.Registry
	runner   *engine.Runner
}

// newApp opens the configured session store and builds a runner reporting
// to the log, to Prometheus and to any extra observers.
func newApp(ctx context.Context, cfg Config, factory agent.Factory, logOut io.Writer, extra ...observe.Observer) (*app, error) {
	logger := logging.New(logOut, cfg.LogLevel)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observers := observe.Multi{observe.NewLogObserver(logger), observe.NewMetrics("strands", registry)}
	observers = append(observers, extra...)

	opts := []engine.Option{
		engine.WithStore(st),
		engine.WithObserver(observers),
		engine.WithLogger(logger),
	}
	if cfg.MaxParallel > 0 {
		opts = append(opts, engine.WithMaxParallel(cfg.MaxParallel))
	}
	runner, err := engine.NewRunner(factory, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: st, registry: registry, runner: runner}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.SessionStore {
	case storeMemory:
		return store.NewMemoryStore(), nil
	case storeFile:
		return store.NewFileStore(cfg.SessionsDir)
	case storeLibSQL:
		return store.NewLibSQLStore(ctx, cfg.DBPath)
	case storeRedis:
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown session store %q", cfg.SessionStore)
	}
}
