package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/agent"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Process exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
	exitBudget        = 3
	exitAwaitingInput = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultEnv())
	stop()
	os.Exit(code)
}

// env holds the process-level collaborators tests replace.
type env struct {
	getenv  func(string) string
	factory agent.Factory
}

func defaultEnv() env {
	return env{getenv: os.Getenv, factory: agent.ProviderFactory{}}
}

// execute runs the CLI and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, e env) int {
	root := newRootCommand(e)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	var ee *exitError
	if err != nil && (!errors.As(err, &ee) || ee.err != nil) {
		fmt.Fprintln(errOut, "Error:", err)
	}
	return exitCode(err)
}

// exitError carries an explicit exit code. A nil err means the command
// already reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch schema.CodeOf(err) {
	case schema.ErrCodeConfiguration, schema.ErrCodeCycleDetected, schema.ErrCodeTemplate:
		return exitConfiguration
	case schema.ErrCodeBudgetExceeded:
		return exitBudget
	case schema.ErrCodeHITLAwaitingInput:
		return exitAwaitingInput
	default:
		return exitFailure
	}
}

// globalFlags are the persistent flags every subcommand shares.
type globalFlags struct {
	home     string
	store    string
	logLevel string
}

func newRootCommand(e env) *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "strands",
		Short:         "Multi-agent workflow runner",
		Long:          "Strands executes declarative multi-agent workflow specs with durable sessions and human-in-the-loop pauses.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.PersistentFlags().StringVar(&g.home, "home", "", "Config and data directory (default: $STRANDS_HOME or ~/.strands)")
	rootCmd.PersistentFlags().StringVar(&g.store, "store", "", "Session store: memory, file, libsql or redis")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(newRunCommand(e, g))
	rootCmd.AddCommand(newResumeCommand(e, g))
	rootCmd.AddCommand(newSessionsCommand(e, g))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDiagramCommand())
	rootCmd.AddCommand(newSweepCommand(e, g))
	rootCmd.AddCommand(newServeCommand(e, g))
	rootCmd.AddCommand(newConfigCommand(e, g))
	return rootCmd
}

// config resolves the layered configuration with flag overrides on top.
func (g *globalFlags) config(e env) (Config, error) {
	home := g.home
	if home == "" {
		home = strandsDir()
		if v := e.getenv("STRANDS_HOME"); v != "" {
			home = v
		}
	}
	cfg, err := loadConfig(home, e.getenv)
	if err != nil {
		return cfg, err
	}
	if g.store != "" {
		cfg.SessionStore = g.store
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, cfg.validate()
}

// open builds the app for a command. The caller closes it.
func (g *globalFlags) open(cmd *cobra.Command, e env, extra ...observe.Observer) (*app, error) {
	cfg, err := g.config(e)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, e.factory, cmd.ErrOrStderr(), extra...)
}

func newConfigCommand(e env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config(e)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
}
