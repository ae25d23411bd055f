package model

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Describe renders the tree one node per line, children indented below
// their parent.
func (t *Tree) Describe() string {
	root := treeprint.NewWithRoot(t.label(RootID))
	var add func(branch treeprint.Tree, id NodeID)
	add = func(branch treeprint.Tree, id NodeID) {
		for _, c := range t.nodes[id].Children {
			if t.nodes[c].IsLeaf() {
				branch.AddNode(t.label(c))
				continue
			}
			add(branch.AddBranch(t.label(c)), c)
		}
	}
	add(root, RootID)
	return root.String()
}

func (t *Tree) label(id NodeID) string {
	n := &t.nodes[id]
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", n.Kind, n.Name)
	if len(n.Axes) > 0 {
		sb.WriteByte('[')
		for i, a := range n.Axes {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%d", a.Name, a.Extent)
		}
		sb.WriteByte(']')
	}
	if len(n.Components) > 0 {
		sb.WriteString(" (")
		for i, c := range n.Components {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s:%s", c.Name, c.Type)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
