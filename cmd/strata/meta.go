package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/model"
)

// Meta holds what every command shares.
type Meta struct {
	Ui     cli.Ui
	Logger hclog.Logger
}

func (m *Meta) flagSet(name string) *flag.FlagSet {
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	f.Usage = func() {}
	f.SetOutput(io.Discard)
	return f
}

// targetFlag registers -target, which overrides the declared target.
func targetFlag(f *flag.FlagSet) *string {
	return f.String("target", "", "compile for this target (cpu or gpu)")
}

func (m *Meta) load(path, target string) (*compiler.Program, error) {
	opts := compiler.DefaultOptions()
	opts.Logger = m.Logger
	if target != "" {
		t, err := compiler.TargetByName(target)
		if err != nil {
			return nil, err
		}
		opts.Target = &t
	}
	return compiler.CompileFile(path, opts)
}

// cellRef is a "node:index" command line reference.
type cellRef struct {
	node  model.NodeID
	index uint64
}

func parseCellRef(tree *model.Tree, s string) (cellRef, error) {
	name, idx, ok := strings.Cut(s, ":")
	if !ok {
		return cellRef{}, fmt.Errorf("%q is not of the form node:index", s)
	}
	id, found := tree.Lookup(name)
	if !found {
		return cellRef{}, fmt.Errorf("unknown node %q", name)
	}
	index, err := strconv.ParseUint(idx, 10, 64)
	if err != nil {
		return cellRef{}, fmt.Errorf("bad index in %q: %w", s, err)
	}
	return cellRef{node: id, index: index}, nil
}

func lookupNode(tree *model.Tree, name string) (model.NodeID, error) {
	id, ok := tree.Lookup(name)
	if !ok {
		return model.NoNode, fmt.Errorf("unknown node %q", name)
	}
	return id, nil
}

// stringSlice collects a repeated flag.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}
