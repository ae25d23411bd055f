package compiler

import (
	"fmt"
	"math"

	"github.com/sbl8/strata/core"
	"github.com/sbl8/strata/model"
)

// NodeLayout is the compiled storage plan of one node.
type NodeLayout struct {
	Node    model.NodeID
	Name    string
	Storage model.Kind

	Extent        uint64 // cells per container
	CellSize      uint64 // bytes of one cell's components (a pointer cell's lazily allocated block)
	SlotSize      uint64 // bytes a cell occupies inside its container
	ContainerSize uint64 // Extent * SlotSize
	Offset        uint64 // offset of this node's container inside a parent cell

	Containers uint64 // container instances, one per cell of the parent
	TotalCells uint64 // Containers * Extent; bounds the active list

	// Storage-specific metadata sizes. Only the fields matching Storage are
	// non-zero.
	MaskBits       uint64 // pointer, bitmasked
	LengthCounters uint64 // dynamic
	PoolSize       uint64 // pointer: bytes for every cell block

	ComponentOffsets []uint64 // place: offset of each component in a cell

	axisExtents []uint64 // extent along every axis of the layout, 1 if absent
}

// PowerOfTwo reports whether every axis extent of the node is a power of
// two, which keeps cell addressing to shifts and masks.
func (n *NodeLayout) PowerOfTwo() bool {
	for _, e := range n.axisExtents {
		if !core.IsPow2(e) {
			return false
		}
	}
	return true
}

// Layout is the storage plan of a whole tree.
type Layout struct {
	Tree   *model.Tree
	Target Target

	// DataSize is the size of the root container, which inlines every
	// container not behind a pointer node.
	DataSize uint64
	// PoolTotal is the sum of all pointer pools.
	PoolTotal uint64

	nodes     []NodeLayout
	axes      []string
	axisIndex map[string]int
}

// Compile computes the layout of every node of tree for the given target.
func Compile(tree *model.Tree, target Target) (*Layout, error) {
	l := &Layout{
		Tree:      tree,
		Target:    target,
		nodes:     make([]NodeLayout, tree.Len()),
		axisIndex: make(map[string]int),
	}
	for _, n := range tree.Nodes() {
		for _, a := range n.Axes {
			if _, ok := l.axisIndex[a.Name]; !ok {
				l.axisIndex[a.Name] = len(l.axes)
				l.axes = append(l.axes, a.Name)
			}
		}
	}

	if err := l.sizeNode(model.RootID); err != nil {
		return nil, err
	}
	if err := l.countCells(); err != nil {
		return nil, err
	}

	limit := target.Limit()
	root := &l.nodes[model.RootID]
	l.DataSize = root.ContainerSize
	// Children follow their parents in declaration order, so scanning
	// backwards reports the innermost container that overflows.
	for i := len(l.nodes) - 1; i >= 0; i-- {
		if n := &l.nodes[i]; n.ContainerSize > limit {
			return nil, &LayoutOverflowError{Node: n.Name, Size: n.ContainerSize, Limit: limit}
		}
	}
	total := l.DataSize
	for i := range l.nodes {
		n := &l.nodes[i]
		if n.PoolSize > limit {
			return nil, &LayoutOverflowError{Node: n.Name, Size: n.PoolSize, Limit: limit}
		}
		l.PoolTotal += n.PoolSize
		total += n.PoolSize
		if total < n.PoolSize || total > limit {
			return nil, &LayoutOverflowError{Node: n.Name, Size: total, Limit: limit}
		}
	}
	return l, nil
}

// sizeNode computes cell and container sizes bottom-up.
func (l *Layout) sizeNode(id model.NodeID) error {
	n := l.Tree.Node(id)
	nl := &l.nodes[id]
	nl.Node = id
	nl.Name = n.Name
	nl.Storage = n.Kind
	nl.Extent = n.Extent()
	nl.axisExtents = make([]uint64, len(l.axes))
	for i := range nl.axisExtents {
		nl.axisExtents[i] = 1
	}
	for _, a := range n.Axes {
		nl.axisExtents[l.axisIndex[a.Name]] = uint64(a.Extent)
	}

	if n.Kind == model.KindPlace {
		var off, align uint64 = 0, 1
		for _, c := range n.Components {
			sz := c.Type.Size()
			off = core.AlignSize(off, sz)
			nl.ComponentOffsets = append(nl.ComponentOffsets, off)
			off += sz
			if sz > align {
				align = sz
			}
		}
		nl.CellSize = core.AlignSize(off, align)
	} else {
		var off uint64
		for _, c := range n.Children {
			if err := l.sizeNode(c); err != nil {
				return err
			}
			child := &l.nodes[c]
			off = core.AlignSize(off, core.WordAlign)
			child.Offset = off
			off += child.ContainerSize
			if off < child.ContainerSize {
				return &LayoutOverflowError{Node: n.Name, Size: math.MaxUint64, Limit: l.Target.Limit()}
			}
		}
		nl.CellSize = core.AlignSize(off, core.WordAlign)
	}

	nl.SlotSize = nl.CellSize
	if n.Kind == model.KindPointer {
		nl.SlotSize = core.PointerSlotSize
	}
	if core.MulOverflows(nl.Extent, nl.SlotSize) {
		return &LayoutOverflowError{Node: n.Name, Size: math.MaxUint64, Limit: l.Target.Limit()}
	}
	nl.ContainerSize = nl.Extent * nl.SlotSize
	return nil
}

// countCells computes instance counts and metadata sizes top-down.
func (l *Layout) countCells() error {
	var err error
	l.Tree.Walk(func(n *model.Node) bool {
		nl := &l.nodes[n.ID]
		nl.Containers = 1
		if n.Parent != model.NoNode {
			nl.Containers = l.nodes[n.Parent].TotalCells
		}
		if core.MulOverflows(nl.Containers, nl.Extent) {
			err = &LayoutOverflowError{Node: n.Name, Size: math.MaxUint64, Limit: l.Target.Limit()}
			return false
		}
		nl.TotalCells = nl.Containers * nl.Extent

		switch n.Kind {
		case model.KindPointer:
			nl.MaskBits = nl.TotalCells
			if core.MulOverflows(nl.TotalCells, nl.CellSize) {
				err = &LayoutOverflowError{Node: n.Name, Size: math.MaxUint64, Limit: l.Target.Limit()}
				return false
			}
			nl.PoolSize = nl.TotalCells * nl.CellSize
		case model.KindBitmasked:
			nl.MaskBits = nl.TotalCells
		case model.KindDynamic:
			nl.LengthCounters = nl.Containers
		}
		return err == nil
	})
	return err
}

// Node returns the layout of id, or nil if the tree has no such node.
func (l *Layout) Node(id model.NodeID) *NodeLayout {
	if !l.Tree.Contains(id) {
		return nil
	}
	return &l.nodes[id]
}

// MaxActive returns the largest number of cells of id that can be active at
// once, which sizes the node's active list.
func (l *Layout) MaxActive(id model.NodeID) uint64 {
	return l.nodes[id].TotalCells
}

// Axes returns the names of all axes in first-declared order. Coordinates
// are reported in this order.
func (l *Layout) Axes() []string {
	return l.axes
}

// Coordinates converts the flat cell index of id into global per-axis
// coordinates. Each level contributes its local coordinate below the
// coordinates of its ancestors, so cells of nested dense levels map onto a
// single index space per axis.
func (l *Layout) Coordinates(id model.NodeID, index uint64) []int {
	path := l.Tree.Path(id)
	locals := make([]uint64, len(path))
	for i := len(path) - 1; i >= 1; i-- {
		ext := l.nodes[path[i]].Extent
		locals[i] = index % ext
		index /= ext
	}

	coords := make([]int, len(l.axes))
	for i := 1; i < len(path); i++ {
		n := l.Tree.Node(path[i])
		for ax, e := range l.nodes[path[i]].axisExtents {
			coords[ax] *= int(e)
		}
		local := locals[i]
		for j := len(n.Axes) - 1; j >= 0; j-- {
			e := uint64(n.Axes[j].Extent)
			coords[l.axisIndex[n.Axes[j].Name]] += int(local % e)
			local /= e
		}
	}
	return coords
}

// ComponentOffset locates a component inside a cell of the place node id.
func (l *Layout) ComponentOffset(id model.NodeID, name string) (uint64, model.DataType, error) {
	n := l.Tree.Node(id)
	if n == nil || n.Kind != model.KindPlace {
		return 0, 0, fmt.Errorf("node %d is not a place node", id)
	}
	for i, c := range n.Components {
		if c.Name == name {
			return l.nodes[id].ComponentOffsets[i], c.Type, nil
		}
	}
	return 0, 0, fmt.Errorf("place node %q has no component %q", n.Name, name)
}
