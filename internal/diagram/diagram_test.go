package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/flowrail/pkg/schema"
)

func testDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "pr-review",
		Steps: []schema.StepDefinition{
			{Name: "analyze", Kind: schema.StepKindAgent, Instruction: "analyze"},
			{
				Name: "fix issues", Kind: schema.StepKindLoop, Condition: "review.issues > 0",
				Steps: []schema.StepDefinition{
					{Name: "apply-fix", Kind: schema.StepKindAgent, Instruction: "fix"},
					{Name: "re-check", Kind: schema.StepKindCode, Handler: "transform"},
				},
			},
			{Name: "report", Kind: schema.StepKindAgent, Instruction: "report"},
		},
	}
}

func TestBuild(t *testing.T) {
	m := Build(testDefinition(), nil)
	assert.Equal(t, "pr-review", m.Title)
	require.Len(t, m.Phases, 3)

	loop := m.Phases[1]
	assert.Equal(t, schema.StepKindLoop, loop.Kind)
	assert.Equal(t, "review.issues > 0", loop.Detail)
	require.Len(t, loop.Children, 2)
	assert.Equal(t, "transform", loop.Children[1].Detail)
}

func TestStatusesFromAudit_LatestWins(t *testing.T) {
	statuses := StatusesFromAudit([]schema.WorkflowAuditEntry{
		{Step: "analyze", Status: schema.AuditStarted},
		{Step: "analyze", Status: schema.AuditCompleted},
		{Step: "apply-fix", Status: schema.AuditFailed},
	})
	assert.Equal(t, schema.AuditCompleted, statuses["analyze"])
	assert.Equal(t, schema.AuditFailed, statuses["apply-fix"])
}

func TestRenderMermaid(t *testing.T) {
	out := RenderMermaid(Build(testDefinition(), nil))

	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "%% pr-review")
	// Spine edges between consecutive phases.
	assert.Contains(t, out, "analyze --> fix_issues")
	assert.Contains(t, out, "fix_issues --> report")
	// Container becomes a subgraph; sequential children get ordering edges.
	assert.Contains(t, out, `subgraph fix_issues`)
	assert.Contains(t, out, "apply_fix --> re_check")
}

func TestRenderMermaid_ParallelChildrenUnordered(t *testing.T) {
	def := &schema.WorkflowDefinition{
		Name: "fan-out",
		Steps: []schema.StepDefinition{
			{
				Name: "checks", Kind: schema.StepKindParallel,
				Steps: []schema.StepDefinition{
					{Name: "lint", Kind: schema.StepKindAgent},
					{Name: "test", Kind: schema.StepKindAgent},
				},
			},
		},
	}
	out := RenderMermaid(Build(def, nil))
	assert.NotContains(t, out, "lint --> test")
}

func TestRenderASCII_WithStatus(t *testing.T) {
	statuses := map[string]schema.AuditStatus{
		"analyze":   schema.AuditCompleted,
		"apply-fix": schema.AuditFailed,
	}
	out := RenderASCII(Build(testDefinition(), statuses))

	assert.Contains(t, out, "pr-review")
	assert.Contains(t, out, "1. analyze [agent] ✓")
	assert.Contains(t, out, "- apply-fix [agent] ✗")
	assert.Contains(t, out, "2. fix issues [loop: review.issues > 0]")
	assert.Contains(t, out, "3. report [agent]")
}
