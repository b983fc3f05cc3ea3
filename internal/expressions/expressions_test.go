package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `count > 2 && name startsWith "re"`, map[string]any{
		"count": 3,
		"name":  "review",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing == nil`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_CompileError(t *testing.T) {
	e := NewExprEngine()

	err := e.Compile(`a &&`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expr compile error")
}

func TestExprEngine_CacheReuse(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, `x + 1`, map[string]any{"x": 1})
	require.NoError(t, err)
	out, err := e.Evaluate(ctx, `x + 1`, map[string]any{"x": 41})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestCELEngine_Evaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `ctx.severity == "high"`, map[string]any{
		"severity": "high",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	require.Error(t, e.Compile(`ctx.a ==`))
}

func TestGoJQEngine_SingleOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.tasks | length`, map[string]any{
		"tasks": []any{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out)
}

func TestGoJQEngine_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.tasks[]`, map[string]any{
		"tasks": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQEngine_NormalizesInts(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.n + 1`, map[string]any{"n": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out)
}

func TestGoJQEngine_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	require.Error(t, e.Compile(`.[| bad`))
}
