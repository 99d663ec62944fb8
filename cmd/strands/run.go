package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/internal/observe"
	"github.com/ThomasRohde/strands-cli-sub000/internal/specload"
	"github.com/ThomasRohde/strands-cli-sub000/internal/streaming"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Output formats for run results.
const (
	outputText = "text"
	outputJSON = "json"
)

// resultFlags are shared by run and resume.
type resultFlags struct {
	hitlResponse string
	interactive  bool
	output       string
	outFile      string
	events       bool
}

func (f *resultFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.hitlResponse, "hitl-response", "", "Response for a pending human-in-the-loop pause")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Prompt on stdin when the run pauses for input")
	cmd.Flags().StringVarP(&f.output, "output", "o", outputText, "Result format: text or json")
	cmd.Flags().StringVar(&f.outFile, "out", "", "Write the final response to this file")
	cmd.Flags().BoolVar(&f.events, "events", false, "Stream run events to stderr as JSON lines")
}

// streamEvents subscribes to run events and writes each one to stderr as a
// JSON line. The returned stop func drains the stream; call it before exit.
func (f *resultFlags) streamEvents(cmd *cobra.Command) ([]observe.Observer, func(), error) {
	if !f.events {
		return nil, func() {}, nil
	}
	// The event writer shares stderr with logs and pause prompts.
	errOut := &lockedWriter{w: cmd.ErrOrStderr()}
	cmd.SetErr(errOut)

	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(cmd.Context(), streaming.EventFilter{})
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(errOut)
		for ev := range ch {
			_ = enc.Encode(ev)
		}
	}()
	stop := func() {
		cancel()
		<-done
	}
	return []observe.Observer{streaming.NewObserver(hub)}, stop, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (f *resultFlags) validate() error {
	switch f.output {
	case outputText, outputJSON:
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeConfiguration, "unknown output format %q, use text or json", f.output)
}

func newRunCommand(e env, g *globalFlags) *cobra.Command {
	var (
		vars      []string
		sessionID string
		rf        resultFlags
	)
	cmd := &cobra.Command{
		Use:   "run <spec>",
		Short: "Run a workflow spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rf.validate(); err != nil {
				return err
			}
			spec, err := specload.LoadFile(args[0])
			if err != nil {
				return err
			}
			values, err := specload.ParseVars(vars)
			if err != nil {
				return err
			}

			extra, stop, err := rf.streamEvents(cmd)
			if err != nil {
				return err
			}
			defer stop()

			a, err := g.open(cmd, e, extra...)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.runner.Run(cmd.Context(), spec, values, engine.RunOptions{
				SessionID:    sessionID,
				HITLResponse: rf.hitlResponse,
			})
			return finishRun(cmd, a, &rf, res, runErr)
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "Variable as key=value (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to create or continue")
	rf.register(cmd)
	return cmd
}

func newResumeCommand(e env, g *globalFlags) *cobra.Command {
	var rf resultFlags
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused or interrupted session",
		Long:  "Resume continues a session from its latest checkpoint using the spec captured when it was created.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rf.validate(); err != nil {
				return err
			}
			extra, stop, err := rf.streamEvents(cmd)
			if err != nil {
				return err
			}
			defer stop()

			a, err := g.open(cmd, e, extra...)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.runner.Resume(cmd.Context(), args[0], rf.hitlResponse)
			return finishRun(cmd, a, &rf, res, runErr)
		},
	}
	rf.register(cmd)
	return cmd
}

// finishRun handles interactive pauses, writes the result and returns the
// error that sets the exit code.
func finishRun(cmd *cobra.Command, a *app, rf *resultFlags, res *schema.RunResult, err error) error {
	if rf.interactive {
		in := bufio.NewReader(cmd.InOrStdin())
		for paused(res) {
			response, ok := askHuman(cmd.ErrOrStderr(), in, res.HITL)
			if !ok {
				break
			}
			res, err = a.runner.Resume(cmd.Context(), res.SessionID, response)
		}
	}

	if res != nil && res.Success && rf.outFile != "" {
		if werr := os.WriteFile(rf.outFile, []byte(res.LastResponse), 0o644); werr != nil {
			return schema.NewErrorf(schema.ErrCodePermanent, "write %s: %s", rf.outFile, werr.Error()).WithCause(werr)
		}
		res.ArtifactsWritten = append(res.ArtifactsWritten, rf.outFile)
	}

	if res != nil {
		if werr := writeResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), rf.output, res); werr != nil {
			return werr
		}
	}

	switch {
	case paused(res):
		return &exitError{code: exitAwaitingInput}
	case err != nil:
		return err
	}
	return nil
}

func paused(res *schema.RunResult) bool {
	return res != nil && res.ExitSignal == schema.ExitAwaitingInput && res.HITL != nil
}

// askHuman shows the pause and reads one non-empty line. ok is false at EOF.
func askHuman(w io.Writer, in *bufio.Reader, h *schema.HITLState) (string, bool) {
	if h.ContextDisplay != "" {
		fmt.Fprintln(w, h.ContextDisplay)
	}
	for {
		fmt.Fprintf(w, "%s\n> ", h.Prompt)
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			return line, true
		}
		if err != nil {
			fmt.Fprintln(w)
			return "", false
		}
	}
}

func writeResult(out, errOut io.Writer, format string, res *schema.RunResult) error {
	if format == outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	switch {
	case paused(res):
		h := res.HITL
		fmt.Fprintf(errOut, "Session %s is waiting for input at %s\n", res.SessionID, h.Locator())
		if h.ContextDisplay != "" {
			fmt.Fprintln(errOut, h.ContextDisplay)
		}
		fmt.Fprintln(errOut, h.Prompt)
		if h.TimeoutAt != nil {
			fmt.Fprintf(errOut, "Defaults to %q after %s\n", h.DefaultResponse, h.TimeoutAt.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintf(errOut, "Resume with: strands resume %s --hitl-response \"...\"\n", res.SessionID)
	case res.Success:
		fmt.Fprintln(out, res.LastResponse)
	}
	return nil
}
