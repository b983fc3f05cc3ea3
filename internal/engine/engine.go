// Package engine interprets workflow definitions: a recursive step
// dispatcher over the five step kinds, with checkpoint/resume, audit entry
// emission, and reporter fan-out. Each run owns independent instances of the
// run context, state machine, and reporter manager; runs never share mutable
// state.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/okonma/flowrail/internal/agent"
	"github.com/okonma/flowrail/internal/conditions"
	"github.com/okonma/flowrail/internal/expressions"
	"github.com/okonma/flowrail/internal/handlers"
	"github.com/okonma/flowrail/internal/logging"
	"github.com/okonma/flowrail/internal/reporters"
	"github.com/okonma/flowrail/internal/secrets"
	"github.com/okonma/flowrail/internal/store"
	"github.com/okonma/flowrail/internal/validation"
	"github.com/okonma/flowrail/internal/wfcontext"
	"github.com/okonma/flowrail/pkg/schema"
)

// Config wires the engine's collaborators. Store and Handlers are required;
// Agent may be nil for workflows without agent steps.
type Config struct {
	Logger    *slog.Logger
	Store     store.SessionStore
	Handlers  *handlers.Registry
	Agent     agent.Executor
	Reporters *reporters.FactoryRegistry
	Vault     secrets.Vault
	Env       wfcontext.EnvLookup
}

// Engine executes workflow definitions.
type Engine struct {
	logger      *slog.Logger
	store       store.SessionStore
	checkpoints *CheckpointStore
	handlers    *handlers.Registry
	agent       agent.Executor
	conditions  *conditions.Evaluator
	jq          *expressions.GoJQEngine
	reporterReg *reporters.FactoryRegistry
	vault       secrets.Vault
	env         wfcontext.EnvLookup
}

// New creates an engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a session store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	regs := cfg.Handlers
	if regs == nil {
		regs = handlers.NewRegistry()
		if err := handlers.RegisterBuiltins(regs); err != nil {
			return nil, err
		}
	}
	reporterReg := cfg.Reporters
	if reporterReg == nil {
		reporterReg = reporters.DefaultRegistry()
	}
	env := cfg.Env
	if env == nil {
		env = os.LookupEnv
	}
	evaluator, err := conditions.NewEvaluator(logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		logger:      logger,
		store:       cfg.Store,
		checkpoints: NewCheckpointStore(cfg.Store),
		handlers:    regs,
		agent:       cfg.Agent,
		conditions:  evaluator,
		jq:          expressions.NewGoJQEngine(),
		reporterReg: reporterReg,
		vault:       cfg.Vault,
		env:         env,
	}, nil
}

// RunParams carries per-run metadata provisioned by the caller.
type RunParams struct {
	SessionID    string
	SpecFile     string
	BranchName   string
	WorktreePath string
	PRNumber     int
	PRURL        string
	Variables    map[string]any
}

// runContext bundles the per-run collaborators handed through the interpreter.
type runContext struct {
	engine    *Engine
	sessionID string
	manager   *reporters.Manager
	summary   *summaryBuilder
}

// emit records one step-status transition. The entry goes both to the
// append-only audit log and to the reporter manager; the two deliveries are
// independent and a failure in one never blocks the other.
func (rc *runContext) emit(ctx context.Context, step string, status schema.AuditStatus, metadata map[string]any) {
	entry := schema.WorkflowAuditEntry{
		Step:      step,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	var md json.RawMessage
	if metadata != nil {
		md, _ = json.Marshal(metadata)
	}
	if err := rc.engine.store.AppendAuditEntry(ctx, &store.AuditRecord{
		SessionID: rc.sessionID,
		Step:      step,
		Status:    status,
		Metadata:  md,
		Timestamp: entry.Timestamp,
	}); err != nil {
		rc.engine.logger.WarnContext(ctx, "audit log append failed", "error", err)
	}

	rc.manager.OnAuditEntry(ctx, entry)
}

// Run validates and executes a definition from the beginning.
func (e *Engine) Run(ctx context.Context, def *schema.WorkflowDefinition, params RunParams) (*schema.ExecutionSummary, error) {
	if err := validation.ValidateDefinition(def, e.handlers, e.conditions); err != nil {
		return nil, err
	}
	if params.SessionID == "" {
		params.SessionID = uuid.New().String()
	}

	now := time.Now().UTC()
	run := &store.Run{
		ID:              params.SessionID,
		WorkflowName:    def.Name,
		WorkflowVersion: def.Version,
		Definition:      *def,
		State:           schema.RunStateInit,
		SpecFile:        params.SpecFile,
		BranchName:      params.BranchName,
		WorktreePath:    params.WorktreePath,
		PRNumber:        params.PRNumber,
		PRURL:           params.PRURL,
		StartedAt:       &now,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	return e.execute(ctx, def, run, params, nil)
}

// Resume loads a run's latest checkpoint and continues at the first phase
// not already present in completedPhases. The checkpoint is used unmodified:
// completedPhases round-trips verbatim and restored variables replace the
// fresh context.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*schema.ExecutionSummary, error) {
	run, err := e.store.GetRun(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if run.State == schema.RunStateComplete {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s already complete", sessionID)
	}
	if err := validation.ValidateDefinition(&run.Definition, e.handlers, e.conditions); err != nil {
		return nil, err
	}

	cp, _, err := e.checkpoints.LoadLatest(ctx, sessionID)
	if err != nil {
		fe := schema.AsFlowError(err)
		if fe.Code != schema.ErrCodeNotFound {
			return nil, err
		}
		// No checkpoint yet: the run failed before its first completed
		// top-level step. Start over from the beginning.
		cp = nil
	}

	params := RunParams{
		SessionID:    run.ID,
		SpecFile:     run.SpecFile,
		BranchName:   run.BranchName,
		WorktreePath: run.WorktreePath,
		PRNumber:     run.PRNumber,
		PRURL:        run.PRURL,
	}
	return e.execute(ctx, &run.Definition, run, params, cp)
}

func (e *Engine) execute(ctx context.Context, def *schema.WorkflowDefinition, run *store.Run, params RunParams, cp *schema.Checkpoint) (*schema.ExecutionSummary, error) {
	ctx = logging.WithSessionID(ctx, run.ID)

	ambient := map[string]any{
		"sessionId":    run.ID,
		"specFile":     params.SpecFile,
		"branch":       params.BranchName,
		"worktreePath": params.WorktreePath,
	}
	if params.PRNumber > 0 {
		ambient["prNumber"] = params.PRNumber
		ambient["prUrl"] = params.PRURL
	}
	for k, v := range params.Variables {
		ambient[k] = v
	}

	wctx := wfcontext.New(ambient, e.env)
	completed := []string{}
	if cp != nil {
		wctx.Restore(cp.Variables)
		completed = append(completed, cp.CompletedPhases...)
		if len(cp.ChangedFiles) > 0 {
			wctx.Set("changedFiles", cp.ChangedFiles)
		}
	}

	phaseNames := make([]string, len(def.Steps))
	for i, s := range def.Steps {
		phaseNames[i] = s.Name
	}
	fsm := NewStateMachine(phaseNames)
	redactor := secrets.NewRedactor()
	manager := reporters.NewManager(e.reporterReg, e.logger, redactor)
	manager.Initialize(ctx, def, reporters.ReporterContext{
		SessionID:    run.ID,
		SpecFile:     params.SpecFile,
		BranchName:   params.BranchName,
		WorktreePath: params.WorktreePath,
		PRNumber:     params.PRNumber,
		PRURL:        params.PRURL,
	}, e.configRenderer(ctx, wctx, redactor))
	defer manager.Dispose(ctx)

	rc := &runContext{
		engine:    e,
		sessionID: run.ID,
		manager:   manager,
		summary:   newSummaryBuilder(),
	}

	for _, step := range def.Steps {
		if err := fsm.EnterPhase(step.Name); err != nil {
			return nil, err
		}
		cur := step.Name
		if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{CurrentStep: &cur}); err != nil {
			e.logger.WarnContext(ctx, "run state update failed", "error", err)
		}

		if containsPhase(completed, step.Name) {
			// Restored from checkpoint: counted as completed, never re-executed.
			rc.summary.record(step.Name, schema.AuditCompleted, 0)
			continue
		}

		phaseStart := time.Now()
		if err := e.executeStep(ctx, rc, step, wctx); err != nil {
			return nil, e.finishFailed(ctx, rc, run.ID, fsm, err)
		}
		rc.summary.record(step.Name, schema.AuditCompleted, time.Since(phaseStart))

		completed = append(completed, step.Name)
		if err := e.checkpoints.Save(ctx, run.ID, step.Name, schema.Checkpoint{
			Variables:       wctx.Variables(),
			CompletedPhases: completed,
			ChangedFiles:    changedFiles(wctx),
		}); err != nil {
			e.logger.WarnContext(ctx, "checkpoint save failed", "step", step.Name, "error", err)
		}
	}

	if err := fsm.Complete(); err != nil {
		return nil, err
	}
	summary := rc.summary.build()

	now := time.Now().UTC()
	state := schema.RunStateComplete
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{State: &state, CompletedAt: &now}); err != nil {
		e.logger.WarnContext(ctx, "run completion update failed", "error", err)
	}

	manager.OnComplete(ctx, summary)
	return summary, nil
}

// finishFailed moves the run to its terminal failure state: PAUSED for a
// loop escalation, FAILED otherwise. The full failure context travels in the
// returned error and out to reporters.
func (e *Engine) finishFailed(ctx context.Context, rc *runContext, sessionID string, fsm *StateMachine, runErr error) error {
	fe := schema.AsFlowError(runErr)

	state := schema.RunStateFailed
	if fe.Code == schema.ErrCodeLoopExhausted {
		state = schema.RunStatePaused
		_ = fsm.Pause()
	} else {
		_ = fsm.Fail()
	}

	errJSON, _ := json.Marshal(fe)
	now := time.Now().UTC()
	if err := e.store.UpdateRun(ctx, sessionID, store.RunUpdate{
		State: &state, Error: errJSON, CompletedAt: &now,
	}); err != nil {
		e.logger.WarnContext(ctx, "run failure update failed", "error", err)
	}

	rc.manager.OnError(ctx, fe)
	return fe
}

var secretPlaceholderRe = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z0-9_.-]+)\s*\}\}`)

// configRenderer resolves reporter config values: ${{secrets.KEY}} through
// the vault (registering each resolved value with the run's redactor), then
// ordinary placeholders against the run context.
func (e *Engine) configRenderer(ctx context.Context, wctx *wfcontext.Context, redactor *secrets.Redactor) func(string) string {
	return func(value string) string {
		value = secretPlaceholderRe.ReplaceAllStringFunc(value, func(match string) string {
			key := secretPlaceholderRe.FindStringSubmatch(match)[1]
			if e.vault == nil {
				e.logger.WarnContext(ctx, "secret referenced but no vault configured", "key", key)
				return ""
			}
			resolved, err := e.vault.Resolve(ctx, key)
			if err != nil {
				e.logger.WarnContext(ctx, "secret resolution failed", "key", key, "error", err)
				return ""
			}
			redactor.Register(string(resolved))
			return string(resolved)
		})
		return wctx.Render(value)
	}
}

func containsPhase(phases []string, name string) bool {
	for _, p := range phases {
		if p == name {
			return true
		}
	}
	return false
}

func changedFiles(wctx *wfcontext.Context) []string {
	switch v := wctx.Get("changedFiles").(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
