package runtime

import (
	"fmt"
	"strings"

	"github.com/sbl8/strata/model"
)

// Op is the kind of work a Task performs.
type Op uint8

const (
	// OpClearList empties the list of Task.Node.
	OpClearList Op = iota + 1
	// OpListGen fills the list of Task.Node from the list of Task.Parent.
	OpListGen
	// OpStructFor runs the body over every active cell of Task.Node.
	OpStructFor
)

func (o Op) String() string {
	switch o {
	case OpClearList:
		return "clear_list"
	case OpListGen:
		return "listgen"
	case OpStructFor:
		return "struct_for"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Task is one step of a Plan.
type Task struct {
	Op       Op
	Node     model.NodeID
	Parent   model.NodeID // listgen only
	BlockDim int          // struct_for only
}

func (t Task) String() string {
	switch t.Op {
	case OpListGen:
		return fmt.Sprintf("listgen(%d -> %d)", t.Parent, t.Node)
	case OpStructFor:
		return fmt.Sprintf("struct_for(%d) block_dim=%d", t.Node, t.BlockDim)
	}
	return fmt.Sprintf("%s(%d)", t.Op, t.Node)
}

// Describe renders the task with node names.
func (t Task) Describe(tree *model.Tree) string {
	name := func(id model.NodeID) string {
		if n := tree.Node(id); n != nil {
			return n.Name
		}
		return fmt.Sprint(id)
	}
	switch t.Op {
	case OpListGen:
		return fmt.Sprintf("listgen(%s -> %s)", name(t.Parent), name(t.Node))
	case OpStructFor:
		return fmt.Sprintf("struct_for(%s) block_dim=%d", name(t.Node), t.BlockDim)
	}
	return fmt.Sprintf("%s(%s)", t.Op, name(t.Node))
}

// Plan is the ordered task sequence for one struct_for. Every task
// completes before the next one starts.
type Plan struct {
	Target model.NodeID
	// ListNode is the node whose list the struct_for iterates: the target
	// itself, or its parent when the target is a place node.
	ListNode model.NodeID
	// Epoch is the activation epoch the plan was computed at.
	Epoch uint64
	Tasks []Task
}

// String renders one task per line.
func (p *Plan) String() string {
	var sb strings.Builder
	for _, t := range p.Tasks {
		sb.WriteString(t.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Describe renders one task per line using node names.
func (p *Plan) Describe(tree *model.Tree) string {
	var sb strings.Builder
	for _, t := range p.Tasks {
		sb.WriteString(t.Describe(tree))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Validate checks that the tasks respect list dependencies: every listgen
// reads the list of the node's direct parent, the parent list is either
// generated earlier in the plan or reported valid and not cleared by the
// plan since, the generated list was cleared first, and the plan ends with
// exactly one struct_for over a complete list. valid may be nil, in which case only lists generated by
// the plan itself count.
func (p *Plan) Validate(tree *model.Tree, valid func(model.NodeID) bool) error {
	if valid == nil {
		valid = func(model.NodeID) bool { return false }
	}
	cleared := make(map[model.NodeID]bool)
	generated := make(map[model.NodeID]bool)
	// dropped holds lists cleared by the plan, and the lists below them,
	// that the plan has not regenerated yet. valid no longer applies to them.
	dropped := make(map[model.NodeID]bool)
	ready := func(id model.NodeID) bool {
		return id == model.RootID || generated[id] || (!dropped[id] && valid(id))
	}

	for i, t := range p.Tasks {
		n := tree.Node(t.Node)
		if n == nil {
			return &UnreachableNodeError{Node: t.Node, Reason: "not part of the tree"}
		}
		switch t.Op {
		case OpClearList:
			if n.Kind == model.KindRoot || n.Kind == model.KindPlace {
				return &SequenceError{Task: t, Reason: fmt.Sprintf("%s nodes have no list to clear", n.Kind)}
			}
			cleared[t.Node] = true
			// Lists below a cleared level now describe a different parent list.
			for id := model.NodeID(0); int(id) < tree.Len(); id++ {
				if id == t.Node || tree.IsAncestor(t.Node, id) {
					dropped[id] = true
					delete(generated, id)
				}
			}
		case OpListGen:
			if tree.Parent(t.Node) != t.Parent {
				return &SequenceError{Task: t, Reason: "parent is not the direct parent of the node"}
			}
			if !cleared[t.Node] {
				return &SequenceError{Task: t, Reason: "list was not cleared first"}
			}
			if !ready(t.Parent) {
				return &SequenceError{Task: t, Reason: "parent list is not complete"}
			}
			delete(cleared, t.Node)
			delete(dropped, t.Node)
			generated[t.Node] = true
		case OpStructFor:
			if i != len(p.Tasks)-1 {
				return &SequenceError{Task: t, Reason: "struct_for must be the last task"}
			}
			if t.BlockDim <= 0 {
				return &SequenceError{Task: t, Reason: "block_dim must be positive"}
			}
			list := t.Node
			if n.Kind == model.KindPlace {
				list = n.Parent
			}
			if !ready(list) {
				return &SequenceError{Task: t, Reason: "iterated list is not complete"}
			}
			return nil
		default:
			return &SequenceError{Task: t, Reason: "unknown op"}
		}
	}
	return &SequenceError{Task: Task{Op: OpStructFor, Node: p.Target}, Reason: "plan has no struct_for"}
}
