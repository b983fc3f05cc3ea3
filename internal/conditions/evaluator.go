// Package conditions evaluates the boolean expressions attached to workflow
// steps (loop condition, failWhen). Expressions support &&, ||, !, ==, !=,
// >, <, and the string predicates "includes" and "starts-with" over
// dot-notation paths into the run context. Syntax errors are caught when the
// definition is loaded; at runtime a path that resolves to a missing value
// makes the whole expression false instead of failing the run.
package conditions

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/okonma/flowrail/internal/expressions"
	"github.com/okonma/flowrail/pkg/schema"
)

// CELPrefix opts a single condition into CEL syntax.
const CELPrefix = "cel:"

// Evaluator compiles and evaluates step conditions. The default grammar is
// normalized onto expr-lang; a cel: prefix routes to the CEL engine instead.
type Evaluator struct {
	expr   *expressions.ExprEngine
	cel    *expressions.CELEngine
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator with both engines ready.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		expr:   expressions.NewExprEngine(),
		cel:    celEngine,
		logger: logger,
	}, nil
}

var (
	includesRe   = regexp.MustCompile(`\bincludes\b`)
	startsWithRe = regexp.MustCompile(`\bstarts-with\b`)
)

// normalize rewrites the workflow grammar's word operators onto expr-lang's
// string operators: "includes" -> contains, "starts-with" -> startsWith.
func normalize(expression string) string {
	expression = includesRe.ReplaceAllString(expression, "contains")
	expression = startsWithRe.ReplaceAllString(expression, "startsWith")
	return expression
}

// Validate compiles an expression without evaluating it. Called for every
// condition and failWhen when the workflow definition is loaded, so a syntax
// error is reported before the first run, naming the offending expression.
func (e *Evaluator) Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty condition expression")
	}
	if celExpr, ok := strings.CutPrefix(expression, CELPrefix); ok {
		return e.cel.Compile(celExpr)
	}
	return e.expr.Compile(normalize(expression))
}

// EvaluateBool evaluates an expression against the run's variables and
// reduces the result to a bool. Missing paths, nil comparisons, and runtime
// type errors all collapse to false; malformed step output must never abort
// the run through a condition.
func (e *Evaluator) EvaluateBool(ctx context.Context, expression string, vars map[string]any) bool {
	var (
		out any
		err error
	)
	if celExpr, ok := strings.CutPrefix(expression, CELPrefix); ok {
		out, err = e.cel.Evaluate(ctx, celExpr, vars)
	} else {
		out, err = e.expr.Evaluate(ctx, normalize(expression), vars)
	}
	if err != nil {
		e.logger.DebugContext(ctx, "condition collapsed to false",
			"expression", expression, "error", err)
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
