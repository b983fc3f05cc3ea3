package handlers

import (
	"context"
	"fmt"

	"github.com/okonma/flowrail/internal/expressions"
	"github.com/okonma/flowrail/pkg/schema"
)

// RegisterBuiltins registers the handlers every engine ships with.
func RegisterBuiltins(r *Registry) error {
	jq := expressions.NewGoJQEngine()
	for _, h := range []Handler{
		&TransformHandler{jq: jq},
		&ContextSetHandler{},
		&RecordChangesHandler{},
	} {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// TransformHandler reshapes data with a jq program. Params: "input" (any
// value, usually a placeholder) and "query" (the jq expression).
type TransformHandler struct {
	jq *expressions.GoJQEngine
}

func (h *TransformHandler) Name() string        { return "transform" }
func (h *TransformHandler) Description() string { return "Reshape a value with a jq expression" }

func (h *TransformHandler) Execute(ctx context.Context, input Input) (*Output, error) {
	query, ok := input.Params["query"].(string)
	if !ok || query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform requires a 'query' string param")
	}
	data := map[string]any{"input": input.Params["input"]}
	result, err := h.jq.Evaluate(ctx, ".input | "+query, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "transform query failed: %s", err.Error())
	}
	return &Output{Data: result}, nil
}

// ContextSetHandler writes its params into the run context verbatim. Used to
// seed or override variables mid-workflow.
type ContextSetHandler struct{}

func (h *ContextSetHandler) Name() string        { return "context.set" }
func (h *ContextSetHandler) Description() string { return "Set run context variables" }

func (h *ContextSetHandler) Execute(_ context.Context, input Input) (*Output, error) {
	if len(input.Params) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "context.set requires at least one param")
	}
	return &Output{Variables: input.Params}, nil
}

// RecordChangesHandler appends file paths to the run's changedFiles list,
// which feeds the checkpoint written after each top-level step.
type RecordChangesHandler struct{}

func (h *RecordChangesHandler) Name() string        { return "record.changes" }
func (h *RecordChangesHandler) Description() string { return "Record changed file paths" }

func (h *RecordChangesHandler) Execute(_ context.Context, input Input) (*Output, error) {
	raw, ok := input.Params["files"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "record.changes requires a 'files' param")
	}
	files, err := toStringSlice(raw)
	if err != nil {
		return nil, err
	}

	existing, _ := toStringSliceLenient(input.Variables["changedFiles"])
	seen := make(map[string]struct{}, len(existing))
	merged := make([]string, 0, len(existing)+len(files))
	for _, f := range existing {
		seen[f] = struct{}{}
		merged = append(merged, f)
	}
	for _, f := range files {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		merged = append(merged, f)
	}
	return &Output{Variables: map[string]any{"changedFiles": merged}}, nil
}

func toStringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{t}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "expected file list, got %T", v)
	}
}

func toStringSliceLenient(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	out, err := toStringSlice(v)
	if err != nil {
		return nil, fmt.Errorf("changedFiles: %w", err)
	}
	return out, nil
}
