package model

import "errors"

// RootName is the name given to the implicit root node.
const RootName = "root"

// Builder collects declaration operations and produces a Tree. The zero
// value is not usable; call NewBuilder.
type Builder struct {
	nodes  []Node
	byName map[string]NodeID
	built  bool
}

// NewBuilder returns a builder holding only the root node.
func NewBuilder() *Builder {
	return &Builder{
		nodes: []Node{{
			ID:     RootID,
			Name:   RootName,
			Kind:   KindRoot,
			Parent: NoNode,
		}},
		byName: map[string]NodeID{RootName: RootID},
	}
}

var errBuilt = errors.New("builder already built")

// Child attaches a new node of the given kind below parent.
func (b *Builder) Child(parent NodeID, name string, kind Kind, axes ...Axis) (NodeID, error) {
	if b.built {
		return NoNode, errBuilt
	}
	if parent < 0 || int(parent) >= len(b.nodes) {
		return NoNode, invalid(name, "unknown parent %d", parent)
	}
	p := &b.nodes[parent]
	if p.Kind == KindPlace {
		return NoNode, invalid(name, "cannot attach a child to place node %q", p.Name)
	}
	if name == "" {
		return NoNode, invalid(name, "node name is empty")
	}
	if _, dup := b.byName[name]; dup {
		return NoNode, invalid(name, "duplicate node name")
	}
	switch kind {
	case KindRoot:
		return NoNode, invalid(name, "a tree has exactly one root")
	case KindDense, KindPointer, KindBitmasked, KindDynamic, KindPlace:
	default:
		return NoNode, invalid(name, "unknown kind %s", kind)
	}
	if err := checkAxes(name, kind, axes); err != nil {
		return NoNode, err
	}

	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, Node{
		ID:     id,
		Name:   name,
		Kind:   kind,
		Parent: parent,
		Axes:   append([]Axis(nil), axes...),
	})
	b.nodes[parent].Children = append(b.nodes[parent].Children, id)
	b.byName[name] = id
	return id, nil
}

func checkAxes(name string, kind Kind, axes []Axis) error {
	seen := make(map[string]bool, len(axes))
	for _, a := range axes {
		if a.Extent <= 0 {
			return invalid(name, "axis %q has non-positive extent %d", a.Name, a.Extent)
		}
		if a.Name == "" {
			return invalid(name, "axis name is empty")
		}
		if seen[a.Name] {
			return invalid(name, "axis %q declared twice", a.Name)
		}
		seen[a.Name] = true
	}
	if kind != KindPlace && len(axes) == 0 {
		return invalid(name, "%s node needs at least one axis", kind)
	}
	if kind == KindDynamic && len(axes) != 1 {
		return invalid(name, "dynamic node must have exactly one axis, got %d", len(axes))
	}
	return nil
}

// Dense attaches a dense node.
func (b *Builder) Dense(parent NodeID, name string, axes ...Axis) (NodeID, error) {
	return b.Child(parent, name, KindDense, axes...)
}

// Pointer attaches a pointer node.
func (b *Builder) Pointer(parent NodeID, name string, axes ...Axis) (NodeID, error) {
	return b.Child(parent, name, KindPointer, axes...)
}

// Bitmasked attaches a bitmasked node.
func (b *Builder) Bitmasked(parent NodeID, name string, axes ...Axis) (NodeID, error) {
	return b.Child(parent, name, KindBitmasked, axes...)
}

// Dynamic attaches a dynamic node with a single axis of the given capacity.
func (b *Builder) Dynamic(parent NodeID, name string, axis Axis) (NodeID, error) {
	return b.Child(parent, name, KindDynamic, axis)
}

// Place attaches a place node holding the given components. Components are
// checked before the node is attached, so a rejected place leaves the
// builder unchanged.
func (b *Builder) Place(parent NodeID, name string, comps ...Component) (NodeID, error) {
	if err := checkComponents(name, nil, comps); err != nil {
		return NoNode, err
	}
	id, err := b.Child(parent, name, KindPlace)
	if err != nil {
		return NoNode, err
	}
	b.nodes[id].Components = append(b.nodes[id].Components, comps...)
	return id, nil
}

// PlaceComponents adds scalar components to a place node.
func (b *Builder) PlaceComponents(node NodeID, comps ...Component) error {
	if b.built {
		return errBuilt
	}
	if node < 0 || int(node) >= len(b.nodes) {
		return invalid("", "unknown node %d", node)
	}
	n := &b.nodes[node]
	if n.Kind != KindPlace {
		return invalid(n.Name, "components can only be placed on place nodes, not %s", n.Kind)
	}
	if err := checkComponents(n.Name, n.Components, comps); err != nil {
		return err
	}
	n.Components = append(n.Components, comps...)
	return nil
}

func checkComponents(name string, have, comps []Component) error {
	seen := make(map[string]bool, len(have)+len(comps))
	for _, c := range have {
		seen[c.Name] = true
	}
	for _, c := range comps {
		if c.Name == "" {
			return invalid(name, "component name is empty")
		}
		if c.Type.Size() == 0 {
			return invalid(name, "component %q has unknown type %s", c.Name, c.Type)
		}
		if seen[c.Name] {
			return invalid(name, "component %q placed twice", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Lookup finds an already declared node by name.
func (b *Builder) Lookup(name string) (NodeID, bool) {
	id, ok := b.byName[name]
	return id, ok
}

// Build freezes the declarations into a Tree. The builder cannot be used
// afterwards.
func (b *Builder) Build() (*Tree, error) {
	if b.built {
		return nil, errBuilt
	}
	for i := range b.nodes {
		n := &b.nodes[i]
		if n.Kind == KindPlace && len(n.Components) == 0 {
			return nil, invalid(n.Name, "place node has no components")
		}
	}
	b.built = true
	return &Tree{nodes: b.nodes, byName: b.byName}, nil
}
