// Package diagram draws the execution topology of a workflow spec.
package diagram

// NodeKind classifies a diagram node by the unit of work it stands for.
type NodeKind string

const (
	NodeKindAgent  NodeKind = "agent"
	NodeKindHITL   NodeKind = "hitl"
	NodeKindRouter NodeKind = "router"
	NodeKindJudge  NodeKind = "judge"
	NodeKindFanOut NodeKind = "fanout"
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// Virtual node IDs.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Groups []*Group
}

// Node is one unit of work. IDs follow the engine's unit locators
// (step:0, task:fetch, node:review) so a diagram can be read next to
// checkpoints and logs.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
}

// Group clusters nodes that run as one branch or route.
type Group struct {
	ID    string
	Label string
	Nodes []string
}

// Edge is a control-flow transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with id, or nil.
func (m *Model) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
