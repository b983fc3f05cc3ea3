package validation

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/flowrail/internal/conditions"
	"github.com/okonma/flowrail/internal/handlers"
	"github.com/okonma/flowrail/pkg/schema"
)

func testEvaluator(t *testing.T) *conditions.Evaluator {
	t.Helper()
	ev, err := conditions.NewEvaluator(slog.Default())
	require.NoError(t, err)
	return ev
}

type noopHandler struct{}

func (noopHandler) Name() string        { return "noop" }
func (noopHandler) Description() string { return "does nothing" }
func (noopHandler) Execute(ctx context.Context, in handlers.Input) (*handlers.Output, error) {
	return nil, nil
}

func testRegistry(t *testing.T) *handlers.Registry {
	t.Helper()
	reg := handlers.NewRegistry()
	require.NoError(t, reg.Register(noopHandler{}))
	return reg
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "review-flow",
		Steps: []schema.StepDefinition{
			{Name: "analyze", Kind: schema.StepKindAgent, Instruction: "analyze the repo"},
			{Name: "prepare", Kind: schema.StepKindCode, Handler: "noop"},
			{
				Name:      "fix",
				Kind:      schema.StepKindLoop,
				Condition: "review.issues > 0",
				Steps: []schema.StepDefinition{
					{Name: "apply-fix", Kind: schema.StepKindAgent, Instruction: "fix ${{review.issues}}"},
				},
			},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	err := ValidateDefinition(validDefinition(), testRegistry(t), testEvaluator(t))
	assert.NoError(t, err)
}

func TestValidateDefinition_NilDefinition(t *testing.T) {
	err := ValidateDefinition(nil, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	fe := schema.AsFlowError(err)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestValidateDefinition_MissingName(t *testing.T) {
	def := validDefinition()
	def.Name = ""
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)
}

func TestValidateDefinition_NoSteps(t *testing.T) {
	def := &schema.WorkflowDefinition{Name: "empty"}
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)
}

func TestValidateDefinition_UnknownKind(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Kind = "batch"
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)
}

func TestValidateDefinition_DuplicateStepNames(t *testing.T) {
	def := validDefinition()
	def.Steps[2].Steps[0].Name = "analyze"
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step name")
	assert.Contains(t, err.Error(), "analyze")
}

func TestValidateDefinition_UnregisteredHandler(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Handler = "missing.handler"
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.handler")
}

func TestValidateDefinition_LoopRequiresCondition(t *testing.T) {
	def := validDefinition()
	def.Steps[2].Condition = ""
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no condition")
}

func TestValidateDefinition_PerTaskRequiresSource(t *testing.T) {
	def := validDefinition()
	def.Steps = append(def.Steps, schema.StepDefinition{
		Name: "each-file",
		Kind: schema.StepKindPerTask,
		Steps: []schema.StepDefinition{
			{Name: "touch", Kind: schema.StepKindAgent, Instruction: "touch ${{task}}"},
		},
	})
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source")
}

func TestValidateDefinition_BadConditionNamesExpression(t *testing.T) {
	def := validDefinition()
	def.Steps[2].Condition = "review.issues >"
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review.issues >")
}

func TestValidateDefinition_BadFailWhenNamesExpression(t *testing.T) {
	def := validDefinition()
	def.Steps[0].FailWhen = "&& broken"
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failWhen")
	assert.Contains(t, err.Error(), "&& broken")
}

func TestValidateDefinition_LeafStepWithChildren(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Steps = []schema.StepDefinition{
		{Name: "orphan", Kind: schema.StepKindAgent, Instruction: "x"},
	}
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot carry child steps")
}

func TestValidateDefinition_MultipleViolationsAggregated(t *testing.T) {
	def := validDefinition()
	def.Steps[1].Handler = "missing.handler"
	def.Steps[2].Condition = ""
	err := ValidateDefinition(def, testRegistry(t), testEvaluator(t))
	require.Error(t, err)

	fe := schema.AsFlowError(err)
	require.NotNil(t, fe.Details)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	assert.Len(t, violations, 2)
}

func TestLoadDefinition_ValidJSON(t *testing.T) {
	raw := []byte(`{
		"name": "ci-review",
		"steps": [
			{"name": "scan", "kind": "agent", "instruction": "scan the diff", "output": "scan"},
			{"name": "summarize", "kind": "code", "handler": "noop", "reportAs": "summary"}
		],
		"reporters": [
			{"type": "github-pr-comment", "config": {"repo": "acme/widgets"}}
		]
	}`)
	def, err := LoadDefinition(raw, testRegistry(t), testEvaluator(t))
	require.NoError(t, err)
	assert.Equal(t, "ci-review", def.Name)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, schema.VisibilitySummary, def.Steps[1].DeclaredVisibility())
	require.Len(t, def.Reporters, 1)
	assert.Equal(t, "github-pr-comment", def.Reporters[0].Type)
}

func TestLoadDefinition_MalformedJSON(t *testing.T) {
	_, err := LoadDefinition([]byte(`{"name": `), testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)
}

func TestLoadDefinition_UnknownField(t *testing.T) {
	raw := []byte(`{
		"name": "x",
		"retries": 3,
		"steps": [{"name": "a", "kind": "agent", "instruction": "go"}]
	}`)
	_, err := LoadDefinition(raw, testRegistry(t), testEvaluator(t))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.AsFlowError(err).Code)
}
