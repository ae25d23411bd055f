package runtime

import (
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/strata/model"
)

func TestSchedulerPlan(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	var epoch atomic.Uint64
	s := NewScheduler(g.prog.Tree, epoch.Load)

	full := []Task{
		{Op: OpClearList, Node: g.block},
		{Op: OpListGen, Node: g.block, Parent: model.RootID},
		{Op: OpClearList, Node: g.tile},
		{Op: OpListGen, Node: g.tile, Parent: g.block},
	}

	tests := []struct {
		name   string
		target model.NodeID
		list   model.NodeID
		tasks  []Task
	}{
		{"place target iterates its parent", g.x, g.tile, append(full[:4:4], Task{Op: OpStructFor, Node: g.x, BlockDim: 8})},
		{"bitmasked target", g.tile, g.tile, append(full[:4:4], Task{Op: OpStructFor, Node: g.tile, BlockDim: 8})},
		{"dense target", g.block, g.block, append(full[:2:2], Task{Op: OpStructFor, Node: g.block, BlockDim: 8})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := s.Plan(tt.target, 8)
			require.NoError(t, err)
			assert.Equal(t, tt.list, plan.ListNode)
			if diff := cmp.Diff(tt.tasks, plan.Tasks); diff != "" {
				t.Errorf("tasks mismatch (-want +got):\n%s", diff)
			}
			require.NoError(t, plan.Validate(g.prog.Tree, s.Valid))
		})
	}
}

func TestSchedulerReusesValidLists(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	var epoch atomic.Uint64
	s := NewScheduler(g.prog.Tree, epoch.Load)

	s.MarkValid(g.block, 0)
	s.MarkValid(g.tile, 0)
	assert.True(t, s.Valid(g.block))

	plan, err := s.Plan(g.x, 4)
	require.NoError(t, err)
	want := []Task{
		{Op: OpClearList, Node: g.tile},
		{Op: OpListGen, Node: g.tile, Parent: g.block},
		{Op: OpStructFor, Node: g.x, BlockDim: 4},
	}
	assert.Empty(t, cmp.Diff(want, plan.Tasks))
	assert.Equal(t, "clear_list(2)\nlistgen(1 -> 2)\nstruct_for(3) block_dim=4\n", plan.String())
	assert.Equal(t, "clear_list(tile)\nlistgen(block -> tile)\nstruct_for(x) block_dim=4\n", plan.Describe(g.prog.Tree))

	// A new epoch invalidates everything.
	epoch.Add(1)
	assert.False(t, s.Valid(g.block))
	plan, err = s.Plan(g.x, 4)
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 5)
	assert.Equal(t, uint64(1), plan.Epoch)

	s.MarkValid(g.block, 1)
	s.MarkValid(g.tile, 1)
	s.Forget(g.block)
	assert.False(t, s.Valid(g.tile), "lists below a forgotten level are dropped")

	s.MarkValid(g.block, 1)
	s.Invalidate()
	assert.False(t, s.Valid(g.block))
	assert.True(t, s.Valid(model.RootID))
}

func TestSchedulerUnreachable(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	s := NewScheduler(g.prog.Tree, func() uint64 { return 0 })

	var unreachable *UnreachableNodeError
	_, err := s.Plan(model.RootID, 1)
	assert.ErrorAs(t, err, &unreachable)
	_, err = s.Plan(99, 1)
	assert.ErrorAs(t, err, &unreachable)
	_, err = s.Plan(model.NoNode, 1)
	assert.ErrorAs(t, err, &unreachable)
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()
	g := newGrid(t)
	tree := g.prog.Tree
	sf := Task{Op: OpStructFor, Node: g.x, BlockDim: 1}

	tests := []struct {
		name  string
		tasks []Task
		valid func(model.NodeID) bool
		ok    bool
	}{
		{"complete", []Task{
			{Op: OpClearList, Node: g.block}, {Op: OpListGen, Node: g.block, Parent: model.RootID},
			{Op: OpClearList, Node: g.tile}, {Op: OpListGen, Node: g.tile, Parent: g.block}, sf,
		}, nil, true},
		{"skipped level", []Task{
			{Op: OpClearList, Node: g.tile}, {Op: OpListGen, Node: g.tile, Parent: model.RootID}, sf,
		}, nil, false},
		{"parent list not generated", []Task{
			{Op: OpClearList, Node: g.tile}, {Op: OpListGen, Node: g.tile, Parent: g.block}, sf,
		}, nil, false},
		{"parent list valid", []Task{
			{Op: OpClearList, Node: g.tile}, {Op: OpListGen, Node: g.tile, Parent: g.block}, sf,
		}, func(id model.NodeID) bool { return id == g.block }, true},
		{"listgen before clear", []Task{
			{Op: OpClearList, Node: g.block}, {Op: OpListGen, Node: g.block, Parent: model.RootID},
			{Op: OpListGen, Node: g.tile, Parent: g.block}, sf,
		}, nil, false},
		{"parent cleared after child", []Task{
			{Op: OpClearList, Node: g.block}, {Op: OpListGen, Node: g.block, Parent: model.RootID},
			{Op: OpClearList, Node: g.tile}, {Op: OpListGen, Node: g.tile, Parent: g.block},
			{Op: OpClearList, Node: g.block}, {Op: OpListGen, Node: g.block, Parent: model.RootID}, sf,
		}, nil, false},
		{"iterated list cleared", []Task{{Op: OpClearList, Node: g.tile}, sf},
			func(model.NodeID) bool { return true }, false},
		{"valid parent cleared", []Task{
			{Op: OpClearList, Node: g.block}, {Op: OpClearList, Node: g.tile},
			{Op: OpListGen, Node: g.tile, Parent: g.block}, sf,
		}, func(model.NodeID) bool { return true }, false},
		{"valid list below a cleared level", []Task{
			{Op: OpClearList, Node: g.block}, {Op: OpListGen, Node: g.block, Parent: model.RootID}, sf,
		}, func(model.NodeID) bool { return true }, false},
		{"struct_for not last", []Task{sf, {Op: OpClearList, Node: g.block}}, func(model.NodeID) bool { return true }, false},
		{"no struct_for", []Task{{Op: OpClearList, Node: g.block}}, nil, false},
		{"clear place", []Task{{Op: OpClearList, Node: g.x}, sf}, nil, false},
		{"clear root", []Task{{Op: OpClearList, Node: model.RootID}, sf}, nil, false},
		{"zero block dim", []Task{{Op: OpStructFor, Node: g.tile}}, func(model.NodeID) bool { return true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &Plan{Target: g.x, ListNode: g.tile, Tasks: tt.tasks}
			err := plan.Validate(tree, tt.valid)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var seq *SequenceError
			assert.ErrorAs(t, err, &seq)
		})
	}
}

func TestTaskString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "clear_list(3)", Task{Op: OpClearList, Node: 3}.String())
	assert.Equal(t, "listgen(1 -> 2)", Task{Op: OpListGen, Node: 2, Parent: 1}.String())
	assert.Equal(t, "struct_for(2) block_dim=64", Task{Op: OpStructFor, Node: 2, BlockDim: 64}.String())
	assert.Equal(t, "op(9)", Op(9).String())
}
