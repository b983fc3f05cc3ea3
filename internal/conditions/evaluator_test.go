package conditions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(nil)
	require.NoError(t, err)
	return e
}

func TestEvaluateBool_Comparisons(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	vars := map[string]any{
		"review": map[string]any{"hasIssues": true, "count": 3},
		"branch": "work/sess-1",
	}

	assert.True(t, e.EvaluateBool(ctx, `review.hasIssues == true`, vars))
	assert.True(t, e.EvaluateBool(ctx, `review.count > 2`, vars))
	assert.True(t, e.EvaluateBool(ctx, `review.count != 4 && review.hasIssues`, vars))
	assert.False(t, e.EvaluateBool(ctx, `!review.hasIssues`, vars))
	assert.True(t, e.EvaluateBool(ctx, `review.count < 2 || review.hasIssues`, vars))
}

func TestEvaluateBool_StringPredicates(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	vars := map[string]any{"branch": "work/sess-1", "msg": "fix: update parser"}

	assert.True(t, e.EvaluateBool(ctx, `branch includes "sess"`, vars))
	assert.False(t, e.EvaluateBool(ctx, `branch includes "main"`, vars))
	assert.True(t, e.EvaluateBool(ctx, `msg starts-with "fix:"`, vars))
	assert.False(t, e.EvaluateBool(ctx, `msg starts-with "feat:"`, vars))
}

func TestEvaluateBool_MissingPathIsFalse(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	// Undefined root, undefined property, and comparison against a missing
	// value must all evaluate to false without raising.
	assert.False(t, e.EvaluateBool(ctx, `review.hasIssues`, map[string]any{}))
	assert.False(t, e.EvaluateBool(ctx, `review.hasIssues == true`, map[string]any{
		"review": map[string]any{},
	}))
	assert.False(t, e.EvaluateBool(ctx, `output.count > 3`, map[string]any{}))
	assert.False(t, e.EvaluateBool(ctx, `output includes "x"`, map[string]any{}))
}

func TestEvaluateBool_NonBoolResultIsFalse(t *testing.T) {
	e := newEvaluator(t)

	assert.False(t, e.EvaluateBool(context.Background(), `count + 1`, map[string]any{"count": 1}))
}

func TestValidate_SyntaxErrorAtLoadTime(t *testing.T) {
	e := newEvaluator(t)

	err := e.Validate(`review.hasIssues &&`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review.hasIssues &&")

	require.NoError(t, e.Validate(`review.hasIssues == true`))
	require.NoError(t, e.Validate(`name starts-with "re" || name includes "x"`))
}

func TestValidate_EmptyExpression(t *testing.T) {
	e := newEvaluator(t)
	require.Error(t, e.Validate("  "))
}

func TestCELPrefix(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	require.NoError(t, e.Validate(`cel:ctx.severity == "high"`))
	assert.True(t, e.EvaluateBool(ctx, `cel:ctx.severity == "high"`, map[string]any{"severity": "high"}))
	assert.False(t, e.EvaluateBool(ctx, `cel:ctx.severity == "high"`, map[string]any{}))

	require.Error(t, e.Validate(`cel:ctx.a ==`))
}
