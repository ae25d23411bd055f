package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

// snapshot is the relocatable wire form of a Tree. Nodes are listed in
// declaration order and refer to their parent by index, so decoding replays
// the declarations through a Builder and re-validates them.
type snapshot struct {
	Version int            `cbor:"1,keyasint"`
	Nodes   []nodeSnapshot `cbor:"2,keyasint"`
}

type nodeSnapshot struct {
	Name       string         `cbor:"1,keyasint"`
	Kind       Kind           `cbor:"2,keyasint"`
	Parent     NodeID         `cbor:"3,keyasint"`
	Axes       []axisSnapshot `cbor:"4,keyasint,omitempty"`
	Components []compSnapshot `cbor:"5,keyasint,omitempty"`
}

type axisSnapshot struct {
	Name   string `cbor:"1,keyasint"`
	Extent int    `cbor:"2,keyasint"`
}

type compSnapshot struct {
	Name string   `cbor:"1,keyasint"`
	Type DataType `cbor:"2,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Encode serializes the tree into deterministic CBOR.
func Encode(t *Tree) ([]byte, error) {
	s := snapshot{Version: snapshotVersion, Nodes: make([]nodeSnapshot, 0, len(t.nodes)-1)}
	for _, n := range t.nodes[1:] {
		ns := nodeSnapshot{Name: n.Name, Kind: n.Kind, Parent: n.Parent}
		for _, a := range n.Axes {
			ns.Axes = append(ns.Axes, axisSnapshot(a))
		}
		for _, c := range n.Components {
			ns.Components = append(ns.Components, compSnapshot(c))
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return encMode.Marshal(s)
}

// Decode rebuilds a tree from Encode output.
func Decode(data []byte) (*Tree, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported tree snapshot version: %d", s.Version)
	}

	b := NewBuilder()
	for i, ns := range s.Nodes {
		axes := make([]Axis, len(ns.Axes))
		for j, a := range ns.Axes {
			axes[j] = Axis(a)
		}
		id, err := b.Child(ns.Parent, ns.Name, ns.Kind, axes...)
		if err != nil {
			return nil, err
		}
		if id != NodeID(i+1) {
			return nil, fmt.Errorf("decode tree: node %q out of declaration order", ns.Name)
		}
		if len(ns.Components) > 0 {
			comps := make([]Component, len(ns.Components))
			for j, c := range ns.Components {
				comps[j] = Component(c)
			}
			if err := b.PlaceComponents(id, comps...); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}
