package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/logging"
	"github.com/ThomasRohde/strands-cli-sub000/internal/scheduler"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/mcp"
)

const shutdownTimeout = 5 * time.Second

func newSweepCommand(e env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Resume paused sessions whose HITL timeout has passed",
		Long:  "Sweep applies the default response to every paused session whose human-in-the-loop timeout has elapsed, then exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, e)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.NewScheduler(a.store, a.runner, a.cfg.SweepSchedule, a.logger)
			if err != nil {
				return err
			}
			report, err := sched.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d paused sessions, resumed %d, failed %d\n",
				report.Checked, len(report.Resumed), len(report.Failed))
			for _, id := range report.Resumed {
				fmt.Fprintf(out, "  resumed %s\n", id)
			}
			for _, id := range report.Failed {
				fmt.Fprintf(out, "  failed  %s\n", id)
			}
			return nil
		},
	}
}

func newServeCommand(e env, g *globalFlags) *cobra.Command {
	var (
		metricsAddr string
		noSweep     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Long: "Serve exposes strands.run, strands.resume, strands.status, strands.sessions and strands.validate over MCP stdio. " +
			"It also sweeps timed-out HITL pauses on the configured cron schedule and exports Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config(e)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			ctx := cmd.Context()
			sessions := mcp.NewSessionRegistry()
			notifier := mcp.NewHITLNotifier(sessions, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))

			a, err := newApp(ctx, cfg, e.factory, cmd.ErrOrStderr(), notifier)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := mcp.NewServer(mcp.ServerDeps{
				Runner:   a.runner,
				Store:    a.store,
				Sessions: sessions,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			notifier.Bind(srv.MCPServer())

			if !noSweep {
				sched, err := scheduler.NewScheduler(a.store, a.runner, cfg.SweepSchedule, a.logger)
				if err != nil {
					return err
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer func() {
					if err := sched.Stop(); err != nil {
						a.logger.Warn("stop sweeper", slog.String("error", err.Error()))
					}
				}()
			}

			if cfg.MetricsAddr != "" {
				stop, err := serveMetrics(a, cfg.MetricsAddr)
				if err != nil {
					return err
				}
				defer stop()
			}

			a.logger.Info("mcp server ready", slog.String("store", cfg.SessionStore))
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty disables it)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "Do not resume timed-out HITL pauses")
	return cmd
}

// serveMetrics starts the /metrics endpoint and returns its shutdown func.
func serveMetrics(a *app, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("metrics server started", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
