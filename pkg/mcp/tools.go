package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ThomasRohde/strands-cli-sub000/internal/engine"
	"github.com/ThomasRohde/strands-cli-sub000/internal/specload"
	"github.com/ThomasRohde/strands-cli-sub000/internal/store"
	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// runResponse is the JSON body of strands.run and strands.resume. A paused
// run is not an error: exit_signal is awaiting_input and hitl holds the
// prompt to answer with strands.resume.
type runResponse struct {
	Result *schema.RunResult `json:"result,omitempty"`
	Error  *errorBody        `json:"error,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Unit    string         `json:"unit,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// handleRun executes a spec given inline or by path.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, errResult := s.specFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	vars := mcp.ParseStringMap(req, "vars", nil)

	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// Capture session mapping for hitl notifications.
	s.captureSession(ctx, sessionID)

	result, err := s.runner.Run(ctx, spec, vars, engine.RunOptions{
		SessionID:    sessionID,
		HITLResponse: req.GetString("hitl_response", ""),
	})
	return runResult(result, err)
}

// handleResume continues a session from its latest checkpoint.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	s.captureSession(ctx, sessionID)

	result, runErr := s.runner.Resume(ctx, sessionID, req.GetString("hitl_response", ""))
	return runResult(result, runErr)
}

// handleStatus returns the stored state of a session.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	st, loadErr := s.store.Load(ctx, sessionID)
	if loadErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", loadErr)), nil
	}

	return marshalResult(map[string]any{
		"metadata":    st.Metadata,
		"variables":   st.Variables,
		"token_usage": st.TokenUsage,
	})
}

// handleSessions lists sessions, most recently updated first.
func (s *Server) handleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.Filter{
		Status:       schema.SessionStatus(req.GetString("status", "")),
		WorkflowName: req.GetString("workflow_name", ""),
		Limit:        extractInt(req.GetArguments(), "limit", 50),
	}

	sessions, err := s.store.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"sessions": sessions})
}

// handleValidate runs the spec validator and reports every issue.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec, errResult := s.specFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	res := s.validator.Validate(spec, mcp.ParseStringMap(req, "vars", nil))
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// --- Internal helpers ---

// specFromRequest decodes the inline spec object, or loads spec_path.
func (s *Server) specFromRequest(req mcp.CallToolRequest) (*schema.Spec, *mcp.CallToolResult) {
	if raw := mcp.ParseStringMap(req, "spec", nil); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid spec: %v", err))
		}
		spec, err := specload.LoadBytes(data, specload.FormatJSON)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid spec: %v", err))
		}
		return spec, nil
	}
	if path := req.GetString("spec_path", ""); path != "" {
		spec, err := specload.LoadFile(path)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("load spec: %v", err))
		}
		return spec, nil
	}
	return nil, mcp.NewToolResultError("spec or spec_path is required")
}

// runResult reports a run outcome. Awaiting input is a normal result; any
// other error marks the tool result as an error but still carries the
// partial run result.
func runResult(result *schema.RunResult, err error) (*mcp.CallToolResult, error) {
	resp := runResponse{Result: result}
	if err != nil && !schema.IsAwaitingInput(err) {
		resp.Error = toErrorBody(err)
	}
	out, marshalErr := marshalResult(resp)
	if marshalErr != nil || out == nil {
		return out, marshalErr
	}
	out.IsError = resp.Error != nil
	return out, nil
}

func toErrorBody(err error) *errorBody {
	var se *schema.Error
	if errors.As(err, &se) {
		return &errorBody{Code: se.Code, Message: se.Message, Unit: se.Unit, Details: se.Details}
	}
	return &errorBody{Code: schema.ErrCodePermanent, Message: err.Error()}
}

// extractInt safely extracts an integer from an argument map.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the run's session ID to the current MCP client session for notifications.
func (s *Server) captureSession(ctx context.Context, sessionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(sessionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
