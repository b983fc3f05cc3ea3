package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/okonma/flowrail/internal/agent"
	"github.com/okonma/flowrail/internal/handlers"
	"github.com/okonma/flowrail/internal/logging"
	"github.com/okonma/flowrail/internal/wfcontext"
	"github.com/okonma/flowrail/pkg/schema"
)

const defaultLoopRetries = 3

// jqSourcePrefix opts a per-task source into jq selection instead of a plain
// context path.
const jqSourcePrefix = "jq:"

// executeStep runs one step: started entry, dispatch by kind, failWhen check,
// completed/failed entry. The step kinds form an exhaustively matched tagged
// union; an unknown kind can only appear if load-time validation was skipped.
func (e *Engine) executeStep(ctx context.Context, rc *runContext, step schema.StepDefinition, wctx *wfcontext.Context) error {
	ctx = logging.WithStep(ctx, step.Name)
	start := time.Now()
	rc.emit(ctx, step.Name, schema.AuditStarted, nil)

	var err error
	switch step.Kind {
	case schema.StepKindAgent:
		err = e.runAgentStep(ctx, step, wctx)
	case schema.StepKindCode:
		err = e.runCodeStep(ctx, step, wctx)
	case schema.StepKindParallel:
		err = e.runParallelStep(ctx, rc, step, wctx)
	case schema.StepKindLoop:
		err = e.runLoopStep(ctx, rc, step, wctx)
	case schema.StepKindPerTask:
		err = e.runPerTaskStep(ctx, rc, step, wctx)
	default:
		err = schema.NewErrorf(schema.ErrCodeValidation, "unknown step kind %q", step.Kind)
	}

	if err == nil && step.FailWhen != "" {
		if e.conditions.EvaluateBool(ctx, step.FailWhen, wctx.Variables()) {
			err = schema.NewErrorf(schema.ErrCodeStepFailed,
				"failWhen condition %q held after step", step.FailWhen)
		}
	}

	if err != nil {
		flowErr := schema.AsFlowError(err)
		if flowErr.Step == "" {
			flowErr = flowErr.WithStep(step.Name)
		}
		rc.emit(ctx, step.Name, schema.AuditFailed, map[string]any{"error": flowErr.Error()})
		return flowErr
	}

	rc.emit(ctx, step.Name, schema.AuditCompleted, map[string]any{
		"durationMs": time.Since(start).Milliseconds(),
	})
	return nil
}

func (e *Engine) runAgentStep(ctx context.Context, step schema.StepDefinition, wctx *wfcontext.Context) error {
	if e.agent == nil {
		return schema.NewError(schema.ErrCodeExecution, "no agent executor configured")
	}

	config := make(map[string]any, len(step.AgentConfig))
	for k, v := range step.AgentConfig {
		config[k] = wctx.RenderValue(v)
	}

	results, err := e.agent.Execute(ctx, agent.Request{
		SessionID:   wfSessionID(wctx),
		StepName:    step.Name,
		Instruction: wctx.Render(step.Instruction),
		Config:      config,
		Inputs:      wctx.RenderInputs(step.Input),
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "agent dispatch failed: %s", err.Error()).WithCause(err)
	}

	// nil or absent results are a no-op; with several, the last one wins.
	result := agent.LastResult(results)
	if result != nil && step.Output != "" {
		wctx.Set(step.Output, result)
	}
	return nil
}

func (e *Engine) runCodeStep(ctx context.Context, step schema.StepDefinition, wctx *wfcontext.Context) error {
	h, err := e.handlers.Get(step.Handler)
	if err != nil {
		return err
	}

	out, err := h.Execute(ctx, handlers.Input{
		Params:    wctx.RenderInputs(step.Input),
		Variables: wctx.Variables(),
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "handler %q failed: %s", step.Handler, err.Error()).WithCause(err)
	}
	if out == nil {
		return nil
	}
	for k, v := range out.Variables {
		wctx.Set(k, v)
	}
	if out.Data != nil && step.Output != "" {
		wctx.Set(step.Output, out.Data)
	}
	return nil
}

// runParallelStep starts every child concurrently and joins them all before
// returning. A failing child fails the group, but the remaining children are
// still awaited to completion rather than abandoned.
func (e *Engine) runParallelStep(ctx context.Context, rc *runContext, step schema.StepDefinition, wctx *wfcontext.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, len(step.Steps))

	for i := range step.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.executeStep(ctx, rc, step.Steps[i], wctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// runLoopStep repeats the child list while the condition holds, up to
// maxRetries attempts, strictly sequentially. Exhaustion with the condition
// still true applies the step's onExhausted policy.
func (e *Engine) runLoopStep(ctx context.Context, rc *runContext, step schema.StepDefinition, wctx *wfcontext.Context) error {
	maxRetries := step.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultLoopRetries
	}

	attempts := 0
	for attempts < maxRetries && e.conditions.EvaluateBool(ctx, step.Condition, wctx.Variables()) {
		attempts++
		for _, child := range step.Steps {
			if err := e.executeStep(ctx, rc, child, wctx); err != nil {
				return err
			}
		}
	}

	if attempts == 0 {
		markSkipped(ctx, rc, step.Steps)
	}

	exhausted := attempts == maxRetries && e.conditions.EvaluateBool(ctx, step.Condition, wctx.Variables())
	lastOutput := loopLastOutput(step, wctx)
	rc.summary.recordLoop(schema.LoopDetail{
		Name:       step.Name,
		Attempts:   attempts,
		Exhausted:  exhausted,
		LastOutput: lastOutput,
	})

	if !exhausted {
		return nil
	}

	switch step.ExhaustPolicyOrDefault() {
	case schema.ExhaustWarn:
		e.logger.WarnContext(ctx, "loop exhausted, continuing per policy",
			"loop", step.Name, "attempts", attempts)
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeLoopExhausted,
			"loop %q exhausted after %d attempts with condition still true", step.Name, attempts).
			WithDetails(map[string]any{
				"loop":       step.Name,
				"attempts":   attempts,
				"lastOutput": lastOutput,
			})
	}
}

// runPerTaskStep resolves the source to an item list and runs the child list
// once per item against a per-iteration context carrying task, taskIndex, and
// taskCount. Iteration bindings never leak back into the parent context.
func (e *Engine) runPerTaskStep(ctx context.Context, rc *runContext, step schema.StepDefinition, wctx *wfcontext.Context) error {
	items, err := e.resolveSource(ctx, step.Source, wctx)
	if err != nil {
		return err
	}

	for i, item := range items {
		iter := wctx.Fork()
		iter.Set("task", item)
		iter.Set("taskIndex", i)
		iter.Set("taskCount", len(items))
		for _, child := range step.Steps {
			if err := e.executeStep(ctx, rc, child, iter); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveSource turns a per-task source into a slice of items. A jq: prefix
// evaluates the expression against the run variables; otherwise the source is
// a dot-notation context path. A missing path yields zero items, consistent
// with safe-missing reads elsewhere.
func (e *Engine) resolveSource(ctx context.Context, source string, wctx *wfcontext.Context) ([]any, error) {
	var raw any
	if expr, ok := strings.CutPrefix(source, jqSourcePrefix); ok {
		v, err := e.jq.Evaluate(ctx, strings.TrimSpace(expr), wctx.Variables())
		if err != nil {
			return nil, err
		}
		raw = v
	} else {
		raw = wctx.Get(source)
	}

	switch items := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return items, nil
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"per-task source %q resolved to %T, expected a list", source, raw)
	}
}

// markSkipped emits a skipped entry for every descendant of a container that
// never ran.
func markSkipped(ctx context.Context, rc *runContext, steps []schema.StepDefinition) {
	for _, step := range steps {
		rc.emit(ctx, step.Name, schema.AuditSkipped, nil)
		rc.summary.recordSkipped(step.Name)
		markSkipped(ctx, rc, step.Steps)
	}
}

// loopLastOutput surfaces the most recent bound output of a loop for
// exhaustion reporting: the loop's own output binding if declared, otherwise
// the last child that declares one.
func loopLastOutput(step schema.StepDefinition, wctx *wfcontext.Context) any {
	if step.Output != "" {
		return wctx.Get(step.Output)
	}
	for i := len(step.Steps) - 1; i >= 0; i-- {
		if out := step.Steps[i].Output; out != "" {
			return wctx.Get(out)
		}
	}
	return nil
}

func wfSessionID(wctx *wfcontext.Context) string {
	if v, ok := wctx.Lookup("sessionId"); ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}
