package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/kernels"
	"github.com/sbl8/strata/model"
	"github.com/sbl8/strata/runtime"
	"github.com/sbl8/strata/stats"
)

// LayoutCommand prints a declaration's tree and compiled layout.
type LayoutCommand struct {
	*Meta
}

func (c *LayoutCommand) Run(args []string) int {
	f := c.flagSet("layout")
	target := targetFlag(f)
	if err := f.Parse(args); err != nil || f.NArg() != 1 {
		c.Ui.Error(c.Help())
		return 1
	}
	prog, err := c.load(f.Arg(0), *target)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(prog.Tree.Describe())
	c.Ui.Output(layoutTable(prog))
	c.Ui.Output(fmt.Sprintf("target %s: data %d bytes, pools %d bytes", prog.Target().Name, prog.Layout.DataSize, prog.Layout.PoolTotal))
	return 0
}

func layoutTable(prog *compiler.Program) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tKIND\tEXTENT\tCELL\tCONTAINER\tOFFSET\tCONTAINERS\tMAX ACTIVE\tPOOL")
	for _, n := range prog.Tree.Nodes() {
		nl := prog.Layout.Node(n.ID)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			nl.Name, nl.Storage, nl.Extent, nl.CellSize, nl.ContainerSize, nl.Offset, nl.Containers, prog.Layout.MaxActive(n.ID), nl.PoolSize)
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

func (c *LayoutCommand) Help() string {
	return strings.TrimSpace(`
Usage: strata layout [options] DECL

  Compiles a declaration file (or .strata snapshot) and prints the tree
  and the storage layout of every node.

Options:

  -target=NAME  Compile for this target (cpu or gpu).
`)
}

func (c *LayoutCommand) Synopsis() string {
	return "Show the compiled layout of a declaration"
}

// PlanCommand prints the tasks a struct_for over a node needs.
type PlanCommand struct {
	*Meta
}

func (c *PlanCommand) Run(args []string) int {
	f := c.flagSet("plan")
	target := targetFlag(f)
	blockDim := f.Int("block-dim", runtime.DefaultEngineOptions().BlockDim, "cells per struct_for block")
	if err := f.Parse(args); err != nil || f.NArg() != 2 {
		c.Ui.Error(c.Help())
		return 1
	}
	prog, err := c.load(f.Arg(0), *target)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	node, err := lookupNode(prog.Tree, f.Arg(1))
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	sched := runtime.NewScheduler(prog.Tree, func() uint64 { return 0 })
	plan, err := sched.Plan(node, *blockDim)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(strings.TrimRight(plan.Describe(prog.Tree), "\n"))
	return 0
}

func (c *PlanCommand) Help() string {
	return strings.TrimSpace(`
Usage: strata plan [options] DECL NODE

  Prints the clear_list, listgen and struct_for tasks that iterating NODE
  requires when no list has been generated yet.

Options:

  -block-dim=N  Cells per struct_for block.
  -target=NAME  Compile for this target (cpu or gpu).
`)
}

func (c *PlanCommand) Synopsis() string {
	return "Show the task plan for iterating a node"
}

// RunCommand activates cells and runs a kernel over a node.
type RunCommand struct {
	*Meta
}

func (c *RunCommand) Run(args []string) int {
	f := c.flagSet("run")
	target := targetFlag(f)
	var activate, appendTo stringSlice
	f.Var(&activate, "activate", "activate node:index (repeatable)")
	f.Var(&appendTo, "append", "append to dynamic node:parent-index (repeatable)")
	kernel := f.String("kernel", "inc", "kernel to run")
	component := f.String("component", "", "run the kernel on this component only")
	workers := f.Int("workers", 0, "worker goroutines (0 for one per CPU)")
	blockDim := f.Int("block-dim", runtime.DefaultEngineOptions().BlockDim, "cells per struct_for block")
	poolLimit := f.Uint64("pool-limit", 0, "bytes reserved per pointer pool (0 for all)")
	if err := f.Parse(args); err != nil || f.NArg() != 2 {
		c.Ui.Error(c.Help())
		return 1
	}
	prog, err := c.load(f.Arg(0), *target)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	node, err := lookupNode(prog.Tree, f.Arg(1))
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	op, err := kernels.ParseOp(*kernel)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	reg := stats.NewRegistry()
	e, err := runtime.NewEngine(prog, &runtime.EngineOptions{
		Workers:   *workers,
		BlockDim:  *blockDim,
		PoolLimit: *poolLimit,
		Logger:    c.Logger,
		Stats:     reg,
	})
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	for _, s := range activate {
		ref, err := parseCellRef(prog.Tree, s)
		if err == nil {
			err = e.Arena().Activate(ref.node, ref.index)
		}
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
	}
	for _, s := range appendTo {
		ref, err := parseCellRef(prog.Tree, s)
		if err == nil {
			_, err = e.Arena().Append(ref.node, ref.index)
		}
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
	}

	body := kernels.Body(op)
	if *component != "" {
		body = kernels.ComponentBody(op, *component)
	}
	var total kernels.Total
	sum := total.Body()
	visited, err := e.StructFor(context.Background(), node, func(cell runtime.Cell) {
		body(cell)
		sum(cell)
	})
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(fmt.Sprintf("struct_for(%s) visited %d cells, lane total %g", prog.Tree.Node(node).Name, visited, total.Value()))
	for _, id := range prog.Tree.Path(node)[1:] {
		if n := prog.Tree.Node(id); n.Kind != model.KindPlace {
			c.Ui.Output(fmt.Sprintf("  list %s: %d", n.Name, e.Lists().Len(id)))
		}
	}
	var sb strings.Builder
	if err := reg.Dump(&sb); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(strings.TrimRight(sb.String(), "\n"))
	return 0
}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: strata run [options] DECL NODE

  Activates the requested cells, then runs a kernel over every active
  cell of NODE and reports list lengths and statistics.

Options:

  -activate=NODE:INDEX   Activate a cell and its ancestors. Repeatable.
  -append=NODE:PARENT    Append a cell to a dynamic container. Repeatable.
  -kernel=NAME           Kernel to run: noop, sqrplusx, relu, sigmoid, tanh,
                         sum, inc or fill. Defaults to inc.
  -component=NAME        Run the kernel on one component of each cell.
  -workers=N             Worker goroutines, 0 for one per CPU.
  -block-dim=N           Cells per struct_for block.
  -pool-limit=BYTES      Bytes reserved per pointer pool, 0 for all.
  -target=NAME           Compile for this target (cpu or gpu).
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run a kernel over the active cells of a node"
}

// EncodeCommand writes a CBOR snapshot of a declaration's tree.
type EncodeCommand struct {
	*Meta
}

func (c *EncodeCommand) Run(args []string) int {
	f := c.flagSet("encode")
	if err := f.Parse(args); err != nil || f.NArg() != 2 {
		c.Ui.Error(c.Help())
		return 1
	}
	prog, err := c.load(f.Arg(0), "")
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := compiler.WriteSnapshot(prog, f.Arg(1)); err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	c.Ui.Output(fmt.Sprintf("wrote %d nodes to %s", prog.Tree.Len(), f.Arg(1)))
	return 0
}

func (c *EncodeCommand) Help() string {
	return strings.TrimSpace(`
Usage: strata encode DECL OUT

  Writes the tree of a declaration file as a CBOR snapshot. Snapshots
  with the .strata extension are accepted wherever a declaration is.
`)
}

func (c *EncodeCommand) Synopsis() string {
	return "Encode a declaration as a tree snapshot"
}

// BenchCommand measures list generation throughput.
type BenchCommand struct {
	*Meta
}

func (c *BenchCommand) Run(args []string) int {
	f := c.flagSet("bench")
	target := targetFlag(f)
	iter := f.Int("iter", 100, "iterations per node")
	density := f.Float64("density", 0.5, "fraction of sparse cells to activate")
	seed := f.Uint64("seed", 1, "activation seed")
	workers := f.Int("workers", 0, "worker goroutines (0 for one per CPU)")
	if err := f.Parse(args); err != nil || f.NArg() != 1 || *iter <= 0 {
		c.Ui.Error(c.Help())
		return 1
	}
	prog, err := c.load(f.Arg(0), *target)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	e, err := runtime.NewEngine(prog, &runtime.EngineOptions{
		Workers: *workers,
		Logger:  c.Logger,
		Stats:   stats.NewRegistry(),
	})
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	for _, n := range prog.Tree.Nodes() {
		if !n.Kind.IsSparse() {
			continue
		}
		for i := uint64(0); i < prog.Layout.MaxActive(n.ID); i++ {
			if rng.Float64() >= *density {
				continue
			}
			if err := e.Arena().Activate(n.ID, i); err != nil {
				c.Ui.Error(err.Error())
				return 1
			}
		}
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tCELLS\tTIME/PLAN\tCELLS/SEC")
	ctx := context.Background()
	noop := kernels.Body(kernels.OpNoop)
	for _, n := range prog.Tree.Nodes() {
		if !n.IsLeaf() || n.Kind == model.KindRoot {
			continue
		}
		var cells int
		start := time.Now()
		for i := 0; i < *iter; i++ {
			if cells, err = e.StructFor(ctx, n.ID, noop); err != nil {
				c.Ui.Error(err.Error())
				return 1
			}
		}
		elapsed := time.Since(start)
		per := elapsed / time.Duration(*iter)
		rate := float64(cells) * float64(*iter) / elapsed.Seconds()
		fmt.Fprintf(w, "%s\t%d\t%v\t%.0f\n", n.Name, cells, per, rate)
	}
	w.Flush()
	c.Ui.Output(strings.TrimRight(sb.String(), "\n"))
	return 0
}

func (c *BenchCommand) Help() string {
	return strings.TrimSpace(`
Usage: strata bench [options] DECL

  Activates a random fraction of every sparse node, then repeatedly
  regenerates the lists of every leaf and iterates it with an empty body.

Options:

  -iter=N        Iterations per leaf. Defaults to 100.
  -density=F     Fraction of sparse cells to activate. Defaults to 0.5.
  -seed=N        Activation seed.
  -workers=N     Worker goroutines, 0 for one per CPU.
  -target=NAME   Compile for this target (cpu or gpu).
`)
}

func (c *BenchCommand) Synopsis() string {
	return "Measure list generation throughput"
}
