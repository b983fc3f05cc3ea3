// Package mcp exposes the workflow engine over the Model Context Protocol so
// an agent can start, resume, and inspect runs through tool calls on a stdio
// transport.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/okonma/flowrail/internal/engine"
	"github.com/okonma/flowrail/internal/store"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Engine *engine.Engine
	Store  store.SessionStore
	Logger *slog.Logger
}

// Server wraps an MCP server with flowrail tool handlers.
type Server struct {
	engine    *engine.Engine
	store     store.SessionStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine: deps.Engine,
		store:  deps.Store,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowrail",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowrail is a declarative workflow engine. Use flowrail.run to execute a workflow definition, flowrail.resume to continue a paused or failed run from its checkpoint, flowrail.status to inspect a run, and flowrail.query to list runs, audit entries, or schedules."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
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

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flowrail.run",
		mcp.WithDescription("Execute a workflow definition from the beginning"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (name, steps, reporters)")),
		mcp.WithObject("variables", mcp.Description("Initial run variables")),
		mcp.WithString("session_id", mcp.Description("Session ID (default: generated)")),
		mcp.WithString("spec_file", mcp.Description("Spec file the run works from")),
		mcp.WithString("branch", mcp.Description("Branch name for the run")),
		mcp.WithString("worktree_path", mcp.Description("Worktree the run operates in")),
		mcp.WithString("pr_number", mcp.Description("Pull request number, when the run targets one")),
		mcp.WithString("pr_url", mcp.Description("Pull request URL")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("flowrail.resume",
		mcp.WithDescription("Resume a paused or failed run from its latest checkpoint"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the run to resume")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flowrail.status",
		mcp.WithDescription("Get a run's state, current step, and recent audit entries"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowrail.query",
		mcp.WithDescription("Query runs, audit entries, or schedules"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "audit", "schedules"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (state, since, limit, session_id, enabled)")),
	)
}
