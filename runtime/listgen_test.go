package runtime

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/model"
)

type genFixture struct {
	arena *Arena
	lists *ListStore
	gen   *Generator
}

func newGenFixture(t testing.TB, prog *compiler.Program, workers int) genFixture {
	t.Helper()
	a, err := NewArena(prog.Layout, ArenaOptions{})
	require.NoError(t, err)
	lists := NewListStore(prog.Layout, a.RootElement())
	return genFixture{arena: a, lists: lists, gen: NewGenerator(a, lists, workers)}
}

// regen clears and regenerates every level on the path to node.
func (f genFixture) regen(t testing.TB, node model.NodeID) int {
	t.Helper()
	tree := f.arena.Layout().Tree
	n := 0
	for _, id := range tree.Path(node)[1:] {
		require.NoError(t, f.gen.Clear(id))
		var err error
		n, err = f.gen.Generate(context.Background(), tree.Parent(id), id)
		require.NoError(t, err)
	}
	return n
}

func sortedIndices(t testing.TB, lists *ListStore, node model.NodeID) []uint64 {
	t.Helper()
	elems, err := lists.ReadAll(node)
	require.NoError(t, err)
	out := make([]uint64, len(elems))
	for i, e := range elems {
		out[i] = e.Index
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestGenerateGridScenario(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	f := newGenFixture(t, g.prog, 4)
	for i := uint64(0); i < 16; i++ {
		require.NoError(t, f.arena.Activate(g.tile, i))
	}

	assert.Equal(t, 16, f.regen(t, g.tile))
	assert.Equal(t, 4, f.lists.Len(g.block))
	assert.Equal(t, 16, f.lists.Len(g.tile), "place cells never get a list of their own")

	blocks, err := f.lists.ReadAll(g.block)
	require.NoError(t, err)
	bases := make(map[uint64]uint64)
	for _, e := range blocks {
		bases[e.Index] = e.Base
	}
	assert.Equal(t, map[uint64]uint64{0: 0, 1: 32, 2: 64, 3: 96}, bases)

	// Deactivate the whole group below block 2.
	for i := uint64(8); i < 12; i++ {
		require.NoError(t, f.arena.Deactivate(g.tile, i))
	}
	assert.Equal(t, 12, f.regen(t, g.tile))
	want := []uint64{0, 1, 2, 3, 4, 5, 6, 7, 12, 13, 14, 15}
	if diff := cmp.Diff(want, sortedIndices(t, f.lists, g.tile)); diff != "" {
		t.Errorf("tile list mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateNoActiveCells(t *testing.T) {
	t.Parallel()
	s := newSparse(t)
	f := newGenFixture(t, s.prog, 2)

	assert.Zero(t, f.regen(t, s.p))
	assert.Zero(t, f.regen(t, s.d))
	assert.Zero(t, f.lists.Len(s.p))
	assert.Zero(t, f.lists.Len(s.d))

	// A level below an empty list is empty too.
	g := newGrid(t)
	gf := newGenFixture(t, g.prog, 2)
	assert.Zero(t, gf.regen(t, g.tile))
	assert.Equal(t, 4, gf.lists.Len(g.block), "dense cells are active without activation")
}

func TestGeneratePointerAndDynamic(t *testing.T) {
	t.Parallel()
	s := newSparse(t)
	f := newGenFixture(t, s.prog, 3)

	require.NoError(t, f.arena.Activate(s.p, 1))
	require.NoError(t, f.arena.Activate(s.p, 6))
	for i := 0; i < 4; i++ {
		_, err := f.arena.Append(s.d, 0)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.regen(t, s.p))
	assert.Equal(t, 4, f.regen(t, s.d))
	assert.Equal(t, []uint64{1, 6}, sortedIndices(t, f.lists, s.p))
	assert.Equal(t, []uint64{0, 1, 2, 3}, sortedIndices(t, f.lists, s.d))

	elems, err := f.lists.ReadAll(s.p)
	require.NoError(t, err)
	pool, _ := f.arena.Region(PoolRegion("p"))
	for _, e := range elems {
		assert.GreaterOrEqual(t, e.Base, pool.Offset, "pointer cells live in the pool")
	}
}

func TestGenerateIndependentOfWorkers(t *testing.T) {
	t.Parallel()
	b := model.NewBuilder()
	p, err := b.Pointer(model.RootID, "p", model.Axis{Name: "i", Extent: 64})
	require.NoError(t, err)
	c, err := b.Bitmasked(p, "c", model.Axis{Name: "j", Extent: 16})
	require.NoError(t, err)
	_, err = b.Place(c, "v", model.Component{Name: "v", Type: model.F32})
	require.NoError(t, err)
	prog := compileTree(t, b)

	var results [][]Element
	for _, workers := range []int{1, 3, 16} {
		f := newGenFixture(t, prog, workers)
		for i := uint64(0); i < 64*16; i++ {
			if i%3 == 0 || i%7 == 0 {
				require.NoError(t, f.arena.Activate(c, i))
			}
		}
		f.regen(t, c)
		elems, err := f.lists.ReadAll(c)
		require.NoError(t, err)
		sorted := append([]Element(nil), elems...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
		results = append(results, sorted)

		// Regenerating with no activation change yields the same set.
		f.regen(t, c)
		again, err := f.lists.ReadAll(c)
		require.NoError(t, err)
		assert.ElementsMatch(t, sorted, again)
	}
	require.NotEmpty(t, results[0])
	for _, r := range results[1:] {
		assert.Empty(t, cmp.Diff(results[0], r))
	}
}

func TestGenerateSequencing(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	f := newGenFixture(t, g.prog, 2)
	ctx := context.Background()

	var seq *SequenceError
	_, err := f.gen.Generate(ctx, g.block, g.tile)
	require.ErrorAs(t, err, &seq, "parent never generated")

	require.NoError(t, f.gen.Clear(g.tile))
	_, err = f.gen.Generate(ctx, model.RootID, g.tile)
	require.ErrorAs(t, err, &seq, "skipping the block level")
	_, err = f.gen.Generate(ctx, g.block, g.tile)
	require.ErrorAs(t, err, &seq, "block list is stale")

	require.NoError(t, f.gen.Clear(g.block))
	_, err = f.gen.Generate(ctx, model.RootID, g.block)
	require.NoError(t, err)
	assert.Equal(t, LevelReady, f.gen.State(g.block))

	_, err = f.gen.Generate(ctx, g.block, g.tile)
	require.ErrorAs(t, err, &seq, "tile was cleared before block")
	require.NoError(t, f.gen.Clear(g.tile))
	_, err = f.gen.Generate(ctx, g.block, g.tile)
	require.NoError(t, err)
	_, err = f.gen.Generate(ctx, g.block, g.tile)
	require.ErrorAs(t, err, &seq, "generating twice without clearing")

	// Clearing a level makes the levels below it stale.
	require.NoError(t, f.gen.Clear(g.block))
	assert.Equal(t, LevelStale, f.gen.State(g.tile))

	_, err = f.gen.Generate(ctx, g.tile, g.x)
	assert.ErrorIs(t, err, ErrPlaceList)
	_, err = f.gen.Generate(ctx, model.NoNode, model.RootID)
	assert.ErrorIs(t, err, ErrRootList)
	var unreachable *UnreachableNodeError
	_, err = f.gen.Generate(ctx, model.RootID, 77)
	assert.ErrorAs(t, err, &unreachable)
}
