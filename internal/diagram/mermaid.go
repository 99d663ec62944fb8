package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("flowchart TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	grouped := make(map[string]bool)
	for _, g := range model.Groups {
		for _, id := range g.Nodes {
			grouped[id] = true
		}
	}

	for _, node := range model.Nodes {
		if !grouped[node.ID] {
			fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
		}
	}
	for _, g := range model.Groups {
		fmt.Fprintf(&b, "    subgraph %s[%q]\n", mermaidSafeID(g.ID), g.Label)
		for _, id := range g.Nodes {
			if node := model.Node(id); node != nil {
				fmt.Fprintf(&b, "        %s\n", mermaidNodeDef(node))
			}
		}
		b.WriteString("    end\n")
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef hitl fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef judge fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	for _, node := range model.Nodes {
		switch node.Kind {
		case NodeKindHITL:
			fmt.Fprintf(&b, "    class %s hitl\n", mermaidSafeID(node.ID))
		case NodeKindJudge:
			fmt.Fprintf(&b, "    class %s judge\n", mermaidSafeID(node.ID))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := strings.ReplaceAll(node.Label, "\n", "<br/>")

	switch node.Kind {
	case NodeKindRouter:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindJudge:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindHITL:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindFanOut:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

var mermaidIDReplacer = strings.NewReplacer(":", "_", "/", "__", ".", "_", "-", "_", " ", "_")

// mermaidSafeID turns a unit locator into a Mermaid identifier.
func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}
