// Package compiler turns layout tree declarations into compiled programs.
//
// Compilation pipeline:
//  1. Parse an HCL declaration file (or accept an already built tree)
//  2. Validate the tree structure while replaying the declarations
//  3. Compute cell sizes, container sizes and storage metadata per node
//  4. Reject layouts that do not fit the target's address space
//
// A compiled Program is immutable and can back any number of runtime
// engines. Programs can also be snapshotted to CBOR and reloaded without
// the declaration source.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/sbl8/strata/model"
)

// SnapshotExt is the file extension of encoded tree snapshots.
const SnapshotExt = ".strata"

// Program is a tree together with its compiled layout.
type Program struct {
	Tree   *model.Tree
	Layout *Layout
}

// Target returns the device the program was compiled for.
func (p *Program) Target() Target {
	return p.Layout.Target
}

// CompileOptions configures the compilation process
type CompileOptions struct {
	// Target overrides the target named in the declaration file.
	Target *Target
	Logger hclog.Logger
}

// DefaultOptions provides sensible compilation defaults
func DefaultOptions() CompileOptions {
	return CompileOptions{
		Logger: hclog.NewNullLogger(),
	}
}

// CompileTree lays out an already built tree.
func CompileTree(tree *model.Tree, target Target) (*Program, error) {
	layout, err := Compile(tree, target)
	if err != nil {
		return nil, err
	}
	return &Program{Tree: tree, Layout: layout}, nil
}

// CompileFile loads a declaration file or a tree snapshot and compiles it.
func CompileFile(path string, opts CompileOptions) (*Program, error) {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	log := opts.Logger.With("source", path)

	var (
		tree   *model.Tree
		target = TargetCPU
	)
	if filepath.Ext(path) == SnapshotExt {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if tree, err = model.Decode(data); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	} else {
		decl, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load declarations: %w", err)
		}
		tree, target = decl.Tree, decl.Target
	}
	if opts.Target != nil {
		target = *opts.Target
	}
	log.Debug("declarations loaded", "nodes", tree.Len(), "target", target.Name)

	prog, err := CompileTree(tree, target)
	if err != nil {
		return nil, err
	}
	log.Debug("layout compiled", "data_bytes", prog.Layout.DataSize, "pool_bytes", prog.Layout.PoolTotal)
	for i := 0; i < tree.Len(); i++ {
		nl := prog.Layout.Node(model.NodeID(i))
		if !nl.PowerOfTwo() {
			log.Warn("extent is not a power of two", "node", nl.Name, "extent", nl.Extent)
		}
	}
	return prog, nil
}

// WriteSnapshot encodes the program's tree to out.
func WriteSnapshot(p *Program, out string) error {
	data, err := model.Encode(p.Tree)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
