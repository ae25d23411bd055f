package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/strata/model"
)

var (
	// ErrNotSparse is returned when deactivating a cell whose storage keeps
	// every cell active.
	ErrNotSparse = errors.New("node cells are always active")
	// ErrNotDynamic is returned by Append on a non-dynamic node.
	ErrNotDynamic = errors.New("node is not dynamic")
	// ErrDynamicFull is returned when a dynamic container has no free cell.
	ErrDynamicFull = errors.New("dynamic container is full")
	// ErrPoolExhausted is returned when a pointer pool cannot allocate another cell block.
	ErrPoolExhausted = errors.New("pointer pool exhausted")
	// ErrInactive is returned when reading storage of a cell that was never allocated.
	ErrInactive = errors.New("cell is not allocated")
	// ErrPlaceList is returned for list operations on place nodes, which
	// never get a list of their own.
	ErrPlaceList = errors.New("place nodes have no active list")
	// ErrRootList is returned when clearing or generating the root list,
	// which is an immutable singleton.
	ErrRootList = errors.New("the root list is an immutable singleton")
	// ErrListOverflow is returned when an append exceeds the list bound.
	ErrListOverflow = errors.New("active list overflow")
)

// UnreachableNodeError reports an iteration target that is not a
// descendant of the tree's root.
type UnreachableNodeError struct {
	Node   model.NodeID
	Reason string
}

func (e *UnreachableNodeError) Error() string {
	return fmt.Sprintf("node %d is unreachable: %s", e.Node, e.Reason)
}

// SequenceError reports a task sequence that would read or extend a list
// before the list it depends on is complete. Plans produced by the
// Scheduler never trigger it.
type SequenceError struct {
	Task   Task
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("task %s out of sequence: %s", e.Task, e.Reason)
}
