package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/internal/validation"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Runner executes and resumes pattern runs. Satisfied by *engine.Runner.
type Runner interface {
	Run(ctx context.Context, spec *schema.Spec, vars map[string]any, opts engine.RunOptions) (*schema.RunResult, error)
	Resume(ctx context.Context, sessionID, hitlResponse string) (*schema.RunResult, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner   Runner
	Store    store.Store
	Sessions *SessionRegistry // optional; enables hitl prompt notifications
	Logger   *slog.Logger
}

// Server wraps an MCP server with the strands tool handlers.
type Server struct {
	runner    Runner
	store     store.Store
	sessions  *SessionRegistry
	validator *validation.SpecValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new Server with all 5 tools registered.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	v, err := validation.NewSpecValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		runner:    deps.Runner,
		store:     deps.Store,
		sessions:  sessions,
		validator: v,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"strands",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Strands runs multi-agent workflow specs. Use strands.run to execute a spec, strands.resume to answer a human-in-the-loop pause, strands.status to inspect a session, strands.sessions to list sessions, and strands.validate to check a spec without running it."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: sessionsTool(), Handler: s.handleSessions},
		{Tool: validateTool(), Handler: s.handleValidate},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("strands.run",
		mcp.WithDescription("Execute a workflow spec"),
		mcp.WithObject("spec", mcp.Description("Inline workflow spec (JSON object). Either spec or spec_path is required")),
		mcp.WithString("spec_path", mcp.Description("Path to a YAML or JSON spec file")),
		mcp.WithObject("vars", mcp.Description("Variables overriding the spec's inputs.values")),
		mcp.WithString("session_id", mcp.Description("Session ID to use or continue (default: generated)")),
		mcp.WithString("hitl_response", mcp.Description("Response for a pending human-in-the-loop pause")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("strands.resume",
		mcp.WithDescription("Resume a paused or interrupted session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to resume")),
		mcp.WithString("hitl_response", mcp.Description("Response for the pending human-in-the-loop pause")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("strands.status",
		mcp.WithDescription("Get session status"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to query")),
	)
}

func sessionsTool() mcp.Tool {
	return mcp.NewTool("strands.sessions",
		mcp.WithDescription("List sessions"),
		mcp.WithString("status",
			mcp.Enum(string(schema.SessionRunning), string(schema.SessionPaused), string(schema.SessionCompleted), string(schema.SessionFailed)),
			mcp.Description("Only sessions in this status"),
		),
		mcp.WithString("workflow_name", mcp.Description("Only sessions of this workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default: 50)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("strands.validate",
		mcp.WithDescription("Validate a workflow spec without running it"),
		mcp.WithObject("spec", mcp.Description("Inline workflow spec (JSON object). Either spec or spec_path is required")),
		mcp.WithString("spec_path", mcp.Description("Path to a YAML or JSON spec file")),
		mcp.WithObject("vars", mcp.Description("Variables the templates may reference")),
	)
}
