package expressions

import "context"

// Engine evaluates expressions against a workflow run's variable map.
// Three implementations: Expr (step conditions), CEL (opt-in via the cel:
// prefix), and GoJQ (per-task source selectors and the transform handler).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
