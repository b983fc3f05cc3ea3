package diagram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/okonma/flowrail/pkg/schema"
)

// RenderMermaid renders a Model as a Mermaid flowchart. Top-level phases form
// the spine; container steps become subgraphs holding their children.
func RenderMermaid(m *Model) string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, phase := range m.Phases {
		writeMermaidNode(&b, phase, "    ")
	}

	// Spine edges between consecutive phases.
	for i := 0; i+1 < len(m.Phases); i++ {
		b.WriteString(fmt.Sprintf("    %s --> %s\n",
			mermaidID(m.Phases[i].Name), mermaidID(m.Phases[i+1].Name)))
	}
	return b.String()
}

func writeMermaidNode(b *strings.Builder, n *Node, indent string) {
	if len(n.Children) == 0 {
		b.WriteString(indent + mermaidNodeDef(n) + "\n")
		return
	}

	b.WriteString(fmt.Sprintf("%ssubgraph %s[\"%s (%s)\"]\n",
		indent, mermaidID(n.Name), mermaidLabel(n), kindLabel(n)))
	for _, child := range n.Children {
		writeMermaidNode(b, child, indent+"    ")
	}
	for i := 0; i+1 < len(n.Children); i++ {
		// Loop and per-task children run sequentially; parallel children do
		// not, so they get no ordering edges.
		if n.Kind != schema.StepKindParallel {
			b.WriteString(fmt.Sprintf("%s    %s --> %s\n",
				indent, mermaidID(n.Children[i].Name), mermaidID(n.Children[i+1].Name)))
		}
	}
	b.WriteString(indent + "end\n")
}

func mermaidNodeDef(n *Node) string {
	label := mermaidLabel(n)
	switch n.Kind {
	case schema.StepKindAgent:
		return fmt.Sprintf("%s([\"%s\"])", mermaidID(n.Name), label)
	case schema.StepKindCode:
		return fmt.Sprintf("%s[\"%s\"]", mermaidID(n.Name), label)
	default:
		return fmt.Sprintf("%s{{\"%s\"}}", mermaidID(n.Name), label)
	}
}

func mermaidLabel(n *Node) string {
	label := n.Name
	if mark := statusMark(n.Status); mark != "" {
		label = mark + " " + label
	}
	return strings.ReplaceAll(label, `"`, "'")
}

var mermaidUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func mermaidID(name string) string {
	return mermaidUnsafe.ReplaceAllString(name, "_")
}
