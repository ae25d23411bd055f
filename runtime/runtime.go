// Package runtime implements active-list generation and struct_for
// execution over compiled sparse layouts.
//
// Key components:
//   - Arena: node storage, pointer pools and activation metadata
//   - ListStore: one lock-free append list of active cells per node
//   - Generator: top-down list generation, one parallel phase per level
//   - Scheduler: minimal clear/listgen/struct_for plans with epoch tracking
//   - Engine: runs plans with a barrier between every task
//
// Execution model:
//  1. Activation changes advance the arena epoch
//  2. A struct_for request becomes a plan reusing lists still valid at the
//     current epoch
//  3. Each stale level is cleared, then regenerated from its parent's list
//  4. The body runs in parallel over the iterated list, in blocks
//  5. The epoch advances, since bodies may have changed activation
package runtime

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/model"
	"github.com/sbl8/strata/stats"
)

// Cell is one active cell handed to a struct_for body.
type Cell struct {
	Node  model.NodeID
	Index uint64
	// Data is the cell's storage: its components for place cells, its
	// child containers otherwise.
	Data []byte

	layout *compiler.Layout
}

// Coords returns the global per-axis coordinates of the cell, ordered like
// Layout.Axes.
func (c Cell) Coords() []int {
	return c.layout.Coordinates(c.Node, c.Index)
}

// Component returns the bytes of a named component of a place cell, or nil
// if the cell has no such component.
func (c Cell) Component(name string) []byte {
	off, typ, err := c.layout.ComponentOffset(c.Node, name)
	if err != nil {
		return nil
	}
	return c.Data[off : off+typ.Size() : off+typ.Size()]
}

// Body is the per-cell work of a struct_for. Bodies run concurrently and
// must only write the cell they are given.
type Body func(c Cell)

// EngineOptions configures engine behavior
type EngineOptions struct {
	Workers  int
	BlockDim int
	// PoolLimit caps the bytes reserved per pointer pool, see ArenaOptions.
	PoolLimit uint64
	// ReadOnlyBodies declares that bodies never change activation, so lists
	// stay valid between struct_for calls until the next activation change.
	ReadOnlyBodies bool
	Logger         hclog.Logger
	Stats          *stats.Registry
}

// DefaultEngineOptions provides sensible runtime defaults
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:  runtime.NumCPU(),
		BlockDim: 128,
		Logger:   hclog.NewNullLogger(),
		Stats:    stats.Default,
	}
}

// Engine executes struct_for plans against one arena. Plans are
// serialized; parallelism happens inside each task.
type Engine struct {
	id      uuid.UUID
	program *compiler.Program
	arena   *Arena
	lists   *ListStore
	gen     *Generator
	sched   *Scheduler
	opts    EngineOptions
	log     hclog.Logger

	mu sync.Mutex
}

// NewEngine allocates storage and lists for program.
func NewEngine(program *compiler.Program, opts *EngineOptions) (*Engine, error) {
	if program == nil {
		return nil, fmt.Errorf("program cannot be nil")
	}
	o := DefaultEngineOptions()
	if opts != nil {
		o = *opts
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.BlockDim <= 0 {
		o.BlockDim = 1
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Stats == nil {
		o.Stats = stats.Default
	}

	arena, err := NewArena(program.Layout, ArenaOptions{PoolLimit: o.PoolLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to create arena: %w", err)
	}
	lists := NewListStore(program.Layout, arena.RootElement())
	e := &Engine{
		id:      uuid.New(),
		program: program,
		arena:   arena,
		lists:   lists,
		gen:     NewGenerator(arena, lists, o.Workers),
		sched:   NewScheduler(program.Tree, arena.Epoch),
		opts:    o,
	}
	e.log = o.Logger.Named("engine").With("program", e.id.String())
	e.log.Debug("engine ready", "nodes", program.Tree.Len(), "arena_bytes", arena.TotalSize(), "workers", o.Workers)
	return e, nil
}

// ID identifies this engine instance in logs.
func (e *Engine) ID() uuid.UUID { return e.id }

// Program returns the compiled program the engine runs.
func (e *Engine) Program() *compiler.Program { return e.program }

// Arena returns the engine's storage. Activation changes made through it
// between struct_for calls are picked up by the next plan.
func (e *Engine) Arena() *Arena { return e.arena }

// Lists returns the engine's active lists.
func (e *Engine) Lists() *ListStore { return e.lists }

// Scheduler returns the engine's plan scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Stats returns the registry the engine reports to.
func (e *Engine) Stats() *stats.Registry { return e.opts.Stats }

// Plan computes the plan a struct_for over target would execute now.
func (e *Engine) Plan(target model.NodeID) (*Plan, error) {
	return e.sched.Plan(target, e.opts.BlockDim)
}

// StructFor plans and runs body over every active cell of target and
// returns the number of cells visited.
func (e *Engine) StructFor(ctx context.Context, target model.NodeID, body Body) (int, error) {
	plan, err := e.Plan(target)
	if err != nil {
		return 0, err
	}
	return e.Execute(ctx, plan, body)
}

// Execute runs plan task by task, each task completing before the next
// starts. The plan is validated against the lists valid at the current
// epoch first. ctx is checked before the plan starts; a started plan runs
// to completion.
func (e *Engine) Execute(ctx context.Context, plan *Plan, body Body) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tree := e.program.Tree
	if err := plan.Validate(tree, e.sched.Valid); err != nil {
		return 0, err
	}
	ctx = context.WithoutCancel(ctx)

	visited := 0
	for _, t := range plan.Tasks {
		e.log.Debug("task", "op", t.Describe(tree))
		name := tree.Node(t.Node).Name
		switch t.Op {
		case OpClearList:
			if err := e.gen.Clear(t.Node); err != nil {
				return visited, err
			}
			e.sched.Forget(t.Node)
		case OpListGen:
			epoch := e.arena.Epoch()
			n, err := e.gen.Generate(ctx, t.Parent, t.Node)
			if err != nil {
				return visited, fmt.Errorf("%s: %w", t.Describe(tree), err)
			}
			e.sched.MarkValid(t.Node, epoch)
			e.opts.Stats.Add("listgen."+name+".appends", float64(n))
			e.opts.Stats.Add("listgen."+name+".runs", 1)
			e.log.Trace("list generated", "node", name, "len", n, "epoch", epoch)
		case OpStructFor:
			n, err := e.structFor(t, body)
			if err != nil {
				return visited, err
			}
			visited += n
			e.opts.Stats.Add("struct_for."+name+".cells", float64(n))
			e.opts.Stats.Add("struct_for."+name+".runs", 1)
		}
	}
	if !e.opts.ReadOnlyBodies {
		e.arena.BumpEpoch()
	}
	return visited, nil
}

// structFor runs body over the list of the task's node, or over the place
// cells below every element of the parent list for place targets.
func (e *Engine) structFor(t Task, body Body) (int, error) {
	layout := e.program.Layout
	target := layout.Node(t.Node)
	place := target.Storage == model.KindPlace
	listNode := t.Node
	if place {
		listNode = e.program.Tree.Parent(t.Node)
	}
	if s := e.gen.State(listNode); s != LevelReady {
		return 0, &SequenceError{Task: t, Reason: fmt.Sprintf("iterated list is %s", s)}
	}
	elems, err := e.lists.ReadAll(listNode)
	if err != nil {
		return 0, err
	}

	buf := e.arena.Buffer()
	size := target.CellSize
	var visited atomic.Int64
	eg := new(errgroup.Group)
	eg.SetLimit(e.opts.Workers)
	for start := 0; start < len(elems); start += t.BlockDim {
		block := elems[start:min(start+t.BlockDim, len(elems))]
		eg.Go(func() error {
			n := 0
			for _, el := range block {
				if !place {
					body(Cell{Node: t.Node, Index: el.Index, Data: buf[el.Base : el.Base+size : el.Base+size], layout: layout})
					n++
					continue
				}
				container := el.Base + target.Offset
				first := el.Index * target.Extent
				for local := uint64(0); local < target.Extent; local++ {
					base := container + local*target.SlotSize
					body(Cell{Node: t.Node, Index: first + local, Data: buf[base : base+size : base+size], layout: layout})
					n++
				}
			}
			visited.Add(int64(n))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return int(visited.Load()), nil
}

// Reset deactivates every cell and forgets every list.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arena.Reset()
	e.sched.Invalidate()
}
