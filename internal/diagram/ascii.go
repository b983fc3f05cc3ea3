package diagram

import (
	"fmt"
	"strings"
)

// RenderASCII renders a Model as an indented outline, one line per step.
func RenderASCII(m *Model) string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title + "\n")
		b.WriteString(strings.Repeat("=", len(m.Title)) + "\n")
	}
	for i, phase := range m.Phases {
		writeASCIINode(&b, phase, 0, fmt.Sprintf("%d.", i+1))
	}
	return b.String()
}

func writeASCIINode(b *strings.Builder, n *Node, depth int, prefix string) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%s %s [%s]", indent, prefix, n.Name, kindLabel(n))
	if mark := statusMark(n.Status); mark != "" {
		line += " " + mark
	}
	b.WriteString(line + "\n")

	for _, child := range n.Children {
		writeASCIINode(b, child, depth+1, "-")
	}
}
