package compiler

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/sbl8/strata/model"
)

// Declaration files describe a tree in HCL:
//
//	target {
//	  name = "gpu"
//	}
//
//	node "block" {
//	  kind   = "dense"
//	  parent = "root"
//	  axis "i" { extent = 4 }
//	}
//
//	node "x" {
//	  kind   = "place"
//	  parent = "block"
//	  component "x" { type = "f32" }
//	}
//
// Nodes are attached in file order, so a parent must be declared before its
// children. The root is implicit and named "root".
type declFile struct {
	Target *targetBlock `hcl:"target,block"`
	Nodes  []nodeBlock  `hcl:"node,block"`
}

type targetBlock struct {
	Name        string `hcl:"name,optional"`
	AddressBits int    `hcl:"address_bits,optional"`
}

type nodeBlock struct {
	Name       string           `hcl:"name,label"`
	Kind       string           `hcl:"kind"`
	Parent     string           `hcl:"parent,optional"`
	Axes       []axisBlock      `hcl:"axis,block"`
	Components []componentBlock `hcl:"component,block"`
}

type axisBlock struct {
	Name   string `hcl:"name,label"`
	Extent int    `hcl:"extent"`
}

type componentBlock struct {
	Name string `hcl:"name,label"`
	Type string `hcl:"type,optional"`
}

// Declaration is a parsed declaration file.
type Declaration struct {
	Tree   *model.Tree
	Target Target
}

// LoadFile reads and parses a declaration file.
func LoadFile(path string) (*Declaration, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(path, src)
}

// Load parses declaration source. filename selects the syntax (".hcl" or
// ".json") and is used in diagnostics.
func Load(filename string, src []byte) (*Declaration, error) {
	var f declFile
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, err
	}

	target, err := f.target()
	if err != nil {
		return nil, err
	}

	// Keyword problems are independent of each other, so report all of them
	// before attempting to build.
	var result *multierror.Error
	kinds := make([]model.Kind, len(f.Nodes))
	comps := make([][]model.Component, len(f.Nodes))
	for i, n := range f.Nodes {
		k, err := model.ParseKind(n.Kind)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("node %q: %w", n.Name, err))
		}
		kinds[i] = k
		for _, c := range n.Components {
			typ := c.Type
			if typ == "" {
				typ = model.F32.String()
			}
			dt, err := model.ParseDataType(typ)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("node %q: %w", n.Name, err))
				continue
			}
			comps[i] = append(comps[i], model.Component{Name: c.Name, Type: dt})
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	b := model.NewBuilder()
	for i, n := range f.Nodes {
		parentName := n.Parent
		if parentName == "" {
			parentName = model.RootName
		}
		parent, ok := b.Lookup(parentName)
		if !ok {
			return nil, &model.InvalidTreeError{Node: n.Name, Reason: fmt.Sprintf("parent %q is not declared before it", parentName)}
		}
		axes := make([]model.Axis, len(n.Axes))
		for j, a := range n.Axes {
			axes[j] = model.Axis{Name: a.Name, Extent: a.Extent}
		}
		id, err := b.Child(parent, n.Name, kinds[i], axes...)
		if err != nil {
			return nil, err
		}
		if len(comps[i]) > 0 {
			if err := b.PlaceComponents(id, comps[i]...); err != nil {
				return nil, err
			}
		}
	}

	tree, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &Declaration{Tree: tree, Target: target}, nil
}

func (f *declFile) target() (Target, error) {
	if f.Target == nil {
		return TargetCPU, nil
	}
	t, err := TargetByName(f.Target.Name)
	if err != nil {
		return Target{}, err
	}
	if f.Target.AddressBits != 0 {
		if f.Target.AddressBits < 8 || f.Target.AddressBits > 64 {
			return Target{}, fmt.Errorf("target address_bits %d out of range [8, 64]", f.Target.AddressBits)
		}
		t.AddressBits = uint(f.Target.AddressBits)
	}
	return t, nil
}
