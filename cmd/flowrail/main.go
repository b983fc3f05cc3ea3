package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/okonma/flowrail/internal/agent"
	"github.com/okonma/flowrail/internal/diagram"
	"github.com/okonma/flowrail/internal/engine"
	"github.com/okonma/flowrail/internal/logging"
	"github.com/okonma/flowrail/internal/scheduler"
	"github.com/okonma/flowrail/internal/store"
	"github.com/okonma/flowrail/internal/validation"
	"github.com/okonma/flowrail/pkg/mcp"
	"github.com/okonma/flowrail/pkg/schema"
)

const version = "0.3.0"

const usage = `flowrail - declarative workflow engine

Usage:
  flowrail run <workflow.json> [flags]   execute a workflow
  flowrail resume <session-id>           continue a paused or failed run
  flowrail status <session-id>           show a run's state and audit trail
  flowrail serve                         serve the MCP stdio transport and scheduler
  flowrail graph <workflow.json>         render a workflow as mermaid or ascii
  flowrail schedule <name> <cron expr>   schedule a workflow from the workflows dir
  flowrail secret set|delete|list        manage vault secrets
  flowrail version                       print the version

Run flags:
  -session string     session ID (default: generated)
  -spec string        spec file the run works from
  -branch string      branch name
  -worktree string    worktree path
  -pr int             pull request number
  -pr-url string      pull request URL
  -var key=value      initial variable (repeatable)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "resume":
		err = cmdResume(ctx, cfg, logger, os.Args[2:])
	case "status":
		err = cmdStatus(ctx, cfg, os.Args[2:])
	case "serve":
		err = cmdServe(ctx, cfg, logger)
	case "graph":
		err = cmdGraph(ctx, cfg, os.Args[2:])
	case "schedule":
		err = cmdSchedule(ctx, cfg, logger, os.Args[2:])
	case "secret":
		err = cmdSecret(ctx, cfg, os.Args[2:])
	case "version":
		fmt.Println("flowrail " + version)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// openStore opens the libSQL database and applies pending migrations.
func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func buildEngine(cfg Config, logger *slog.Logger, s *store.LibSQLStore) (*engine.Engine, error) {
	var executor agent.Executor
	if cfg.AgentCommand != "" {
		parts := strings.Fields(cfg.AgentCommand)
		executor = agent.NewSubprocessExecutor(parts[0], parts[1:]...)
	}

	vault, err := buildVault(s)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Config{
		Logger: logger,
		Store:  s,
		Agent:  executor,
		Vault:  vault,
	})
}

type multiVar map[string]any

func (m multiVar) String() string { return "" }

func (m multiVar) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	m[key] = value
	return nil
}

func cmdRun(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sessionID := fs.String("session", "", "session ID")
	specFile := fs.String("spec", "", "spec file")
	branch := fs.String("branch", "", "branch name")
	worktree := fs.String("worktree", "", "worktree path")
	prNumber := fs.Int("pr", 0, "pull request number")
	prURL := fs.String("pr-url", "", "pull request URL")
	vars := make(multiVar)
	fs.Var(vars, "var", "initial variable (key=value)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: flowrail run <workflow.json> [flags]")
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := buildEngine(cfg, logger, s)
	if err != nil {
		return err
	}

	def, err := loadWorkflowFile(fs.Arg(0))
	if err != nil {
		return err
	}

	summary, err := eng.Run(ctx, def, engine.RunParams{
		SessionID:    *sessionID,
		SpecFile:     *specFile,
		BranchName:   *branch,
		WorktreePath: *worktree,
		PRNumber:     *prNumber,
		PRURL:        *prURL,
		Variables:    vars,
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func cmdResume(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: flowrail resume <session-id>")
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := buildEngine(cfg, logger, s)
	if err != nil {
		return err
	}

	summary, err := eng.Resume(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func cmdStatus(ctx context.Context, cfg Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: flowrail status <session-id>")
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := s.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	entries, err := s.ListAuditEntries(ctx, args[0], 0)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"session_id":    run.ID,
		"workflow_name": run.WorkflowName,
		"state":         run.State,
		"current_step":  run.CurrentStep,
		"error":         json.RawMessage(run.Error),
		"audit":         entries,
	})
}

func cmdServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := buildEngine(cfg, logger, s)
	if err != nil {
		return err
	}

	sched := scheduler.New(s, &workflowDirRunner{engine: eng, dir: cfg.WorkflowsDir}, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed schedule recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler stop failed", slog.String("error", err.Error()))
		}
	}()

	srv := mcp.NewServer(mcp.ServerDeps{Engine: eng, Store: s, Logger: logger})
	logger.Info("serving MCP over stdio", slog.String("db", cfg.DBPath))
	return srv.Serve(ctx)
}

func cmdGraph(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	format := fs.String("format", "mermaid", "output format: mermaid or ascii")
	sessionID := fs.String("session", "", "render a stored run with status overlay")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		def      *schema.WorkflowDefinition
		statuses map[string]schema.AuditStatus
	)
	if *sessionID != "" {
		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.GetRun(ctx, *sessionID)
		if err != nil {
			return err
		}
		def = &run.Definition

		entries, err := s.ListAuditEntries(ctx, *sessionID, 0)
		if err != nil {
			return err
		}
		audit := make([]schema.WorkflowAuditEntry, len(entries))
		for i, e := range entries {
			audit[i] = schema.WorkflowAuditEntry{Step: e.Step, Status: e.Status, Timestamp: e.Timestamp}
		}
		statuses = diagram.StatusesFromAudit(audit)
	} else {
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: flowrail graph <workflow.json> | flowrail graph -session <id>")
		}
		var err error
		def, err = loadWorkflowFile(fs.Arg(0))
		if err != nil {
			return err
		}
	}

	model := diagram.Build(def, statuses)
	switch *format {
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown format %q: use mermaid or ascii", *format)
	}
	return nil
}

func cmdSchedule(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flowrail schedule <workflow-name> <cron expression>")
	}
	name := args[0]
	cronExpr := strings.Join(args[1:], " ")

	// The workflow must exist in the workflows dir before it can be scheduled.
	if _, err := loadWorkflowFile(workflowPath(cfg, name)); err != nil {
		return err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	sched := scheduler.New(s, nil, logger)
	created, err := sched.CreateSchedule(ctx, name, cronExpr, nil)
	if err != nil {
		return err
	}
	return printJSON(created)
}

func cmdSecret(ctx context.Context, cfg Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: flowrail secret set <key> <value> | delete <key> | list")
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	vault, err := buildVault(s)
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("no vault key configured: set FLOWRAIL_MASTER_KEY or FLOWRAIL_VAULT_PASSPHRASE")
	}

	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: flowrail secret set <key> <value>")
		}
		if err := vault.Store(ctx, args[1], []byte(args[2])); err != nil {
			return err
		}
		fmt.Println("stored " + args[1])
		return nil
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: flowrail secret delete <key>")
		}
		if err := vault.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("deleted " + args[1])
		return nil
	case "list":
		keys, err := vault.List(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	default:
		return fmt.Errorf("unknown secret subcommand %q", args[0])
	}
}

// workflowDirRunner resolves scheduled workflow names to definition files in
// the configured workflows directory.
type workflowDirRunner struct {
	engine *engine.Engine
	dir    string
}

func (r *workflowDirRunner) RunWorkflow(ctx context.Context, workflowName string, variables map[string]any) error {
	def, err := loadWorkflowFile(filepath.Join(r.dir, workflowName+".json"))
	if err != nil {
		return err
	}
	_, err = r.engine.Run(ctx, def, engine.RunParams{Variables: variables})
	return err
}

func workflowPath(cfg Config, name string) string {
	return filepath.Join(cfg.WorkflowsDir, name+".json")
}

func loadWorkflowFile(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	// Full validation happens again inside the engine, with the handler
	// registry; this pass rejects malformed files early with a path-specific
	// message.
	def, err := validation.LoadDefinition(data, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
