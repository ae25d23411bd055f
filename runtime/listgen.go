package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/model"
)

// LevelState is the progress of one node's list through a generation
// sequence.
type LevelState uint8

const (
	// LevelStale lists must be cleared before they are generated.
	LevelStale LevelState = iota
	// LevelCleared lists are empty and may be generated.
	LevelCleared
	// LevelReady lists are complete and may be read.
	LevelReady
)

func (s LevelState) String() string {
	switch s {
	case LevelCleared:
		return "cleared"
	case LevelReady:
		return "ready"
	}
	return "stale"
}

// Generator fills active lists top-down. Each Generate call is a parallel
// phase over the parent list whose completion is a barrier: no list is
// read before every append to it has finished.
type Generator struct {
	arena   *Arena
	lists   *ListStore
	layout  *compiler.Layout
	workers int

	mu     sync.Mutex
	levels []LevelState
}

// NewGenerator creates a generator writing into lists. workers bounds the
// goroutines of one Generate call.
func NewGenerator(arena *Arena, lists *ListStore, workers int) *Generator {
	if workers < 1 {
		workers = 1
	}
	return &Generator{
		arena:   arena,
		lists:   lists,
		layout:  arena.Layout(),
		workers: workers,
		levels:  make([]LevelState, arena.Layout().Tree.Len()),
	}
}

// State returns the level state of node. The root is always ready.
func (g *Generator) State(node model.NodeID) LevelState {
	if node == model.RootID {
		return LevelReady
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(node) < 0 || int(node) >= len(g.levels) {
		return LevelStale
	}
	return g.levels[node]
}

// Clear empties the list of node. Lists below it were derived from the old
// contents and become stale.
func (g *Generator) Clear(node model.NodeID) error {
	if err := g.lists.Clear(node); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels[node] = LevelCleared
	for id := range g.levels {
		if g.layout.Tree.IsAncestor(node, model.NodeID(id)) {
			g.levels[id] = LevelStale
		}
	}
	return nil
}

// Generate appends every active cell of node found below the elements of
// parent's list and returns the new list length. The parent list must be
// ready and node's list cleared. ctx is not consulted once the phase has
// started; a phase always runs to completion.
func (g *Generator) Generate(ctx context.Context, parent, node model.NodeID) (int, error) {
	task := Task{Op: OpListGen, Node: node, Parent: parent}
	nl := g.layout.Node(node)
	if nl == nil {
		return 0, &UnreachableNodeError{Node: node, Reason: "not part of the tree"}
	}
	if g.layout.Tree.Parent(node) != parent {
		return 0, &SequenceError{Task: task, Reason: "parent is not the direct parent of the node"}
	}
	switch nl.Storage {
	case model.KindRoot:
		return 0, ErrRootList
	case model.KindPlace:
		return 0, fmt.Errorf("%w: %q", ErrPlaceList, nl.Name)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s := g.State(parent); s != LevelReady {
		return 0, &SequenceError{Task: task, Reason: fmt.Sprintf("parent list is %s", s)}
	}
	if s := g.State(node); s != LevelCleared {
		return 0, &SequenceError{Task: task, Reason: fmt.Sprintf("list is %s, not cleared", s)}
	}

	list, err := g.lists.List(node)
	if err != nil {
		return 0, err
	}
	src, err := g.lists.ReadAll(parent)
	if err != nil {
		return 0, err
	}

	var appended atomic.Int64
	eg := new(errgroup.Group)
	eg.SetLimit(g.workers)
	chunk := chunkSize(len(src), g.workers)
	for start := 0; start < len(src); start += chunk {
		part := src[start:min(start+chunk, len(src))]
		eg.Go(func() error {
			for _, pe := range part {
				n, err := g.expand(list, nl, pe)
				appended.Add(int64(n))
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.setState(node, LevelStale)
		return 0, err
	}
	g.setState(node, LevelReady)
	return int(appended.Load()), nil
}

func (g *Generator) setState(node model.NodeID, s LevelState) {
	g.mu.Lock()
	g.levels[node] = s
	g.mu.Unlock()
}

// expand appends the active cells of the container below one parent cell.
func (g *Generator) expand(list *List, nl *compiler.NodeLayout, pe Element) (int, error) {
	first := pe.Index * nl.Extent
	limit := nl.Extent
	if nl.Storage.TracksLength() {
		limit = min(limit, g.arena.Length(nl.Node, pe.Index))
	}
	n := 0
	for local := uint64(0); local < limit; local++ {
		index := first + local
		if nl.Storage.HasActivationBit() && !g.arena.masks[nl.Node].Test(index) {
			continue
		}
		base, ok := g.arena.childBase(nl, pe.Base, local)
		if !ok {
			continue
		}
		if _, err := list.Append(Element{Index: index, Base: base}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// chunkSize splits n elements into about four chunks per worker.
func chunkSize(n, workers int) int {
	c := (n + workers*4 - 1) / (workers * 4)
	if c < 1 {
		return 1
	}
	return c
}
