// Package model defines the declared shape of a sparse layout tree.
//
// A tree is a hierarchy of nodes. Each node describes one level: how many
// cells its container holds along each axis, and how those cells are stored
// (dense, pointer, bitmasked, dynamic). Leaves are place nodes, whose cells
// hold scalar components. The root is a container of exactly one cell.
//
// Trees are stored arena-style: nodes live in one flat slice in declaration
// order and refer to each other by NodeID, the index into that slice. A tree
// is immutable once built and can be shared freely between goroutines.
//
// Trees are declared with a Builder, either directly or through the
// compiler's declaration files, and then handed to the layout compiler.
package model

// NodeID identifies a node inside one Tree.
type NodeID int32

const (
	// RootID is the ID of the root node of every tree.
	RootID NodeID = 0
	// NoNode is the parent of the root.
	NoNode NodeID = -1
)

// Axis is one dimension of a node's container.
type Axis struct {
	Name   string
	Extent int
}

// Component is one scalar field stored in every cell of a place node.
type Component struct {
	Name string
	Type DataType
}

// Node is one level of the tree. Nodes returned by a Tree must not be modified.
type Node struct {
	ID         NodeID
	Name       string
	Kind       Kind
	Parent     NodeID
	Children   []NodeID // declaration order
	Axes       []Axis
	Components []Component // place nodes only
}

// Extent returns the number of cells in one container of the node.
func (n *Node) Extent() uint64 {
	e := uint64(1)
	for _, a := range n.Axes {
		e *= uint64(a.Extent)
	}
	return e
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is an immutable, built layout tree.
type Tree struct {
	nodes  []Node
	byName map[string]NodeID
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Contains reports whether id names a node of this tree.
func (t *Tree) Contains(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Node returns the node with the given ID, or nil if the tree has no such node.
func (t *Tree) Node(id NodeID) *Node {
	if !t.Contains(id) {
		return nil
	}
	return &t.nodes[id]
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return &t.nodes[RootID]
}

// Lookup finds a node by its declared name.
func (t *Tree) Lookup(name string) (NodeID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Parent returns the parent of id, NoNode for the root or unknown IDs.
func (t *Tree) Parent(id NodeID) NodeID {
	if !t.Contains(id) {
		return NoNode
	}
	return t.nodes[id].Parent
}

// Depth returns the number of edges between the root and id.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for p := t.Parent(id); p != NoNode; p = t.Parent(p) {
		d++
	}
	return d
}

// Path returns the IDs from the root down to id, both included.
// It returns nil for IDs outside the tree.
func (t *Tree) Path(id NodeID) []NodeID {
	if !t.Contains(id) {
		return nil
	}
	path := make([]NodeID, t.Depth(id)+1)
	for i, n := len(path)-1, id; i >= 0; i, n = i-1, t.nodes[n].Parent {
		path[i] = n
	}
	return path
}

// IsAncestor reports whether a is a strict ancestor of d.
func (t *Tree) IsAncestor(a, d NodeID) bool {
	if !t.Contains(a) || !t.Contains(d) {
		return false
	}
	for p := t.nodes[d].Parent; p != NoNode; p = t.nodes[p].Parent {
		if p == a {
			return true
		}
	}
	return false
}

// Walk visits nodes depth-first in declaration order, parents before
// children. Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(n *Node) bool) {
	var visit func(id NodeID)
	visit = func(id NodeID) {
		n := &t.nodes[id]
		if !fn(n) {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(RootID)
}

// Nodes returns every node in declaration order.
func (t *Tree) Nodes() []Node {
	return t.nodes
}
