package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/okonma/flowrail/internal/engine"
	"github.com/okonma/flowrail/internal/store"
	"github.com/okonma/flowrail/pkg/schema"
)

// handleRun validates and executes a workflow definition.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Round-trip through JSON to get a typed WorkflowDefinition.
	defBytes, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(defBytes, &def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	params := engine.RunParams{
		SessionID:    req.GetString("session_id", ""),
		SpecFile:     req.GetString("spec_file", ""),
		BranchName:   req.GetString("branch", ""),
		WorktreePath: req.GetString("worktree_path", ""),
		PRURL:        req.GetString("pr_url", ""),
		Variables:    mcp.ParseStringMap(req, "variables", nil),
	}
	if prNumber := req.GetString("pr_number", ""); prNumber != "" {
		n, convErr := strconv.Atoi(prNumber)
		if convErr != nil {
			return mcp.NewToolResultError("pr_number must be an integer"), nil
		}
		params.PRNumber = n
	}

	summary, runErr := s.engine.Run(ctx, &def, params)
	if runErr != nil {
		return toolError("workflow run failed", runErr), nil
	}
	return marshalResult(summary)
}

// handleResume continues a run from its latest checkpoint.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	summary, resumeErr := s.engine.Resume(ctx, sessionID)
	if resumeErr != nil {
		return toolError("resume failed", resumeErr), nil
	}
	return marshalResult(summary)
}

// handleStatus reports a run's state with its most recent audit entries.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, sessionID)
	if getErr != nil {
		return toolError("run lookup failed", getErr), nil
	}

	entries, auditErr := s.store.ListAuditEntries(ctx, sessionID, 0)
	if auditErr != nil {
		s.logger.WarnContext(ctx, "audit listing failed", "session_id", sessionID, "error", auditErr)
		entries = nil
	}

	status := map[string]any{
		"session_id":    run.ID,
		"workflow_name": run.WorkflowName,
		"state":         run.State,
		"current_step":  run.CurrentStep,
		"created_at":    run.CreatedAt,
		"audit":         entries,
	}
	if len(run.Error) > 0 {
		status["error"] = json.RawMessage(run.Error)
	}
	if run.CompletedAt != nil {
		status["completed_at"] = run.CompletedAt
	}
	return marshalResult(status)
}

// handleQuery lists runs, audit entries, or schedules based on filters.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "audit":
		return s.queryAudit(ctx, filter)
	case "schedules":
		return s.querySchedules(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *Server) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if state, ok := filter["state"].(string); ok && state != "" {
		rs := schema.RunState(state)
		rf.State = &rs
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *Server) queryAudit(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sessionID, ok := filter["session_id"].(string)
	if !ok || sessionID == "" {
		return mcp.NewToolResultError("audit query requires 'session_id' in filter"), nil
	}

	entries, err := s.store.ListAuditEntries(ctx, sessionID, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"audit": entries})
}

func (s *Server) querySchedules(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.ScheduleFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		sf.Enabled = &enabled
	}

	schedules, err := s.store.ListSchedules(ctx, sf)
	if err != nil {
		return toolError("query failed", err), nil
	}
	return marshalResult(map[string]any{"schedules": schedules})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
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

// toolError renders a failed operation as a tool error, keeping the
// structured error code visible to the caller.
func toolError(prefix string, err error) *mcp.CallToolResult {
	fe := schema.AsFlowError(err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, fe.Error()))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
