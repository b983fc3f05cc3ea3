// Package diagram renders workflow definitions as Mermaid flowcharts or
// ASCII outlines, optionally overlaying run status from the audit log.
package diagram

import (
	"fmt"

	"github.com/okonma/flowrail/pkg/schema"
)

// Node is one step in the rendered tree.
type Node struct {
	Name     string
	Kind     schema.StepKind
	Detail   string // condition, source, or handler, depending on kind
	Status   schema.AuditStatus
	Children []*Node
}

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Phases []*Node
}

// Build converts a definition into a renderable model. statuses maps step
// names to their latest audit status; pass nil for a plain definition view.
func Build(def *schema.WorkflowDefinition, statuses map[string]schema.AuditStatus) *Model {
	m := &Model{Title: def.Name}
	for i := range def.Steps {
		m.Phases = append(m.Phases, buildNode(&def.Steps[i], statuses))
	}
	return m
}

func buildNode(step *schema.StepDefinition, statuses map[string]schema.AuditStatus) *Node {
	n := &Node{
		Name:   step.Name,
		Kind:   step.Kind,
		Status: statuses[step.Name],
	}
	switch step.Kind {
	case schema.StepKindCode:
		n.Detail = step.Handler
	case schema.StepKindLoop:
		n.Detail = step.Condition
	case schema.StepKindPerTask:
		n.Detail = step.Source
	}
	for i := range step.Steps {
		n.Children = append(n.Children, buildNode(&step.Steps[i], statuses))
	}
	return n
}

// StatusesFromAudit reduces an audit trail to the latest status per step.
func StatusesFromAudit(entries []schema.WorkflowAuditEntry) map[string]schema.AuditStatus {
	statuses := make(map[string]schema.AuditStatus, len(entries))
	for _, e := range entries {
		statuses[e.Step] = e.Status
	}
	return statuses
}

func statusMark(s schema.AuditStatus) string {
	switch s {
	case schema.AuditCompleted:
		return "✓"
	case schema.AuditFailed:
		return "✗"
	case schema.AuditStarted:
		return "…"
	case schema.AuditSkipped:
		return "-"
	default:
		return ""
	}
}

func kindLabel(n *Node) string {
	if n.Detail == "" {
		return string(n.Kind)
	}
	return fmt.Sprintf("%s: %s", n.Kind, n.Detail)
}
