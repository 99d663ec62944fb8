package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

func newSessionsCommand(e env, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(newSessionsListCommand(e, g))
	cmd.AddCommand(newSessionsShowCommand(e, g))
	cmd.AddCommand(newSessionsDeleteCommand(e, g))
	return cmd
}

func newSessionsListCommand(e env, g *globalFlags) *cobra.Command {
	var (
		status   string
		workflow string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, e)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.store.List(cmd.Context(), store.Filter{
				Status:       schema.SessionStatus(status),
				WorkflowName: workflow,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			for _, m := range sessions {
				fmt.Fprintf(out, "%s %s [%s] %s %s\n",
					m.SessionID, m.WorkflowName, m.Status, m.PatternType,
					m.UpdatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only sessions in this status (running, paused, completed, failed)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Only sessions of this workflow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions")
	return cmd
}

func newSessionsShowCommand(e env, g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, e)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			m := st.Metadata
			fmt.Fprintf(out, "Session: %s\n", m.SessionID)
			fmt.Fprintf(out, "Workflow: %s (%s)\n", m.WorkflowName, m.PatternType)
			fmt.Fprintf(out, "Status: %s\n", m.Status)
			fmt.Fprintf(out, "Created: %s\n", m.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Updated: %s\n", m.UpdatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Tokens: %d in, %d out\n", st.TokenUsage.Input, st.TokenUsage.Output)
			if m.HITLTimeoutAt != nil {
				fmt.Fprintf(out, "HITL timeout: %s\n", m.HITLTimeoutAt.Local().Format(time.DateTime))
			}
			for _, rec := range m.HITLTimeouts {
				fmt.Fprintf(out, "Timed out: %s -> %q\n", rec.Locator, rec.DefaultResponse)
			}
			if m.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", m.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full checkpoint as JSON")
	return cmd
}

func newSessionsDeleteCommand(e env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>...",
		Short: "Delete sessions and their spec snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, e)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
			}
			return nil
		},
	}
}
