package runtime

import (
	"sync"

	"github.com/sbl8/strata/model"
)

// Scheduler turns struct_for requests into task plans. It remembers the
// activation epoch at which each list was last generated, so levels whose
// lists are still valid are not regenerated.
type Scheduler struct {
	tree  *model.Tree
	epoch func() uint64

	mu      sync.Mutex
	validAt []uint64 // epoch+1 of the last generation, 0 if never
}

// NewScheduler creates a scheduler for tree. epoch reports the current
// activation epoch, normally Arena.Epoch.
func NewScheduler(tree *model.Tree, epoch func() uint64) *Scheduler {
	return &Scheduler{
		tree:    tree,
		epoch:   epoch,
		validAt: make([]uint64, tree.Len()),
	}
}

// Epoch returns the current activation epoch.
func (s *Scheduler) Epoch() uint64 {
	return s.epoch()
}

// MarkValid records that the list of node was generated at epoch.
func (s *Scheduler) MarkValid(node model.NodeID, epoch uint64) {
	if !s.tree.Contains(node) {
		return
	}
	s.mu.Lock()
	s.validAt[node] = epoch + 1
	s.mu.Unlock()
}

// Forget drops node's list and every list below it, which were derived
// from its old contents.
func (s *Scheduler) Forget(node model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.validAt {
		if model.NodeID(id) == node || s.tree.IsAncestor(node, model.NodeID(id)) {
			s.validAt[id] = 0
		}
	}
}

// Invalidate forgets every generated list.
func (s *Scheduler) Invalidate() {
	s.mu.Lock()
	clear(s.validAt)
	s.mu.Unlock()
}

// Valid reports whether the list of node reflects the current epoch. The
// root list is always valid.
func (s *Scheduler) Valid(node model.NodeID) bool {
	if node == model.RootID {
		return true
	}
	if !s.tree.Contains(node) {
		return false
	}
	epoch := s.epoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validAt[node] == epoch+1
}

// Plan computes the tasks for a struct_for over target. The deepest strict
// ancestor of the iterated list whose list is still valid is reused; every
// level below it is cleared and regenerated top-down, ending with the
// iterated list itself, which is always regenerated.
func (s *Scheduler) Plan(target model.NodeID, blockDim int) (*Plan, error) {
	n := s.tree.Node(target)
	if n == nil {
		return nil, &UnreachableNodeError{Node: target, Reason: "not part of the tree"}
	}
	if n.Kind == model.KindRoot {
		return nil, &UnreachableNodeError{Node: target, Reason: "the root is not a descendant of itself"}
	}
	if blockDim <= 0 {
		blockDim = 1
	}

	listNode := target
	if n.Kind == model.KindPlace {
		listNode = n.Parent
	}
	plan := &Plan{Target: target, ListNode: listNode, Epoch: s.epoch()}

	path := s.tree.Path(listNode)
	start := len(path) - 1
	for start > 0 && !s.Valid(path[start-1]) {
		start--
	}
	// path[start-1] is the reused level; the root (path[0]) is never
	// generated.
	if start == 0 {
		start = 1
	}
	for _, id := range path[start:] {
		plan.Tasks = append(plan.Tasks,
			Task{Op: OpClearList, Node: id},
			Task{Op: OpListGen, Node: id, Parent: s.tree.Parent(id)},
		)
	}
	plan.Tasks = append(plan.Tasks, Task{Op: OpStructFor, Node: target, BlockDim: blockDim})
	return plan, nil
}
