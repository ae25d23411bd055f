package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/model"
)

// Element is one entry of an active list: a cell's flat index within its
// node and the arena offset of the cell's storage.
type Element struct {
	Index uint64
	Base  uint64
}

// List is the active list of one node. Append is safe from many
// goroutines; Clear and ReadAll must be separated from appends by a
// barrier.
type List struct {
	node   model.NodeID
	buf    []Element
	length atomic.Int64
}

// Clear empties the list.
func (l *List) Clear() {
	l.length.Store(0)
}

// Append reserves the next slot with a single atomic increment and writes
// e into it.
func (l *List) Append(e Element) (int, error) {
	i := l.length.Add(1) - 1
	if i >= int64(len(l.buf)) {
		return -1, fmt.Errorf("%w: node %d holds at most %d cells", ErrListOverflow, l.node, len(l.buf))
	}
	l.buf[i] = e
	return int(i), nil
}

// Len returns the number of elements.
func (l *List) Len() int {
	n := l.length.Load()
	if n > int64(len(l.buf)) {
		return len(l.buf)
	}
	return int(n)
}

// ReadAll returns the elements without copying. Order depends on the
// interleaving of the appends that produced them.
func (l *List) ReadAll() []Element {
	return l.buf[:l.Len()]
}

// ListStore holds the active list of every non-root, non-place node. The
// root list is a constant singleton. List buffers are sized to the node's
// maximum active count the first time the list is cleared.
type ListStore struct {
	layout *compiler.Layout
	root   []Element

	mu    sync.Mutex
	lists []*List
}

// NewListStore creates empty lists for layout. root is the single element
// of the root list.
func NewListStore(layout *compiler.Layout, root Element) *ListStore {
	return &ListStore{
		layout: layout,
		root:   []Element{root},
		lists:  make([]*List, layout.Tree.Len()),
	}
}

func (s *ListStore) list(id model.NodeID, create bool) (*List, error) {
	n := s.layout.Tree.Node(id)
	switch {
	case n == nil:
		return nil, fmt.Errorf("unknown node %d", id)
	case n.Kind == model.KindRoot:
		return nil, ErrRootList
	case n.Kind == model.KindPlace:
		return nil, fmt.Errorf("%w: %q", ErrPlaceList, n.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[id]
	if l == nil {
		if !create {
			return nil, fmt.Errorf("list of %q has not been cleared yet", n.Name)
		}
		l = &List{node: id, buf: make([]Element, s.layout.MaxActive(id))}
		s.lists[id] = l
	}
	return l, nil
}

// Clear empties the list of id, allocating it on first use.
func (s *ListStore) Clear(id model.NodeID) error {
	l, err := s.list(id, true)
	if err != nil {
		return err
	}
	l.Clear()
	return nil
}

// Append adds e to the list of id and returns its position.
func (s *ListStore) Append(id model.NodeID, e Element) (int, error) {
	l, err := s.list(id, false)
	if err != nil {
		return -1, err
	}
	return l.Append(e)
}

// Len returns the length of the list of id. The root list always has one
// element; lists never cleared are empty.
func (s *ListStore) Len(id model.NodeID) int {
	if id == model.RootID {
		return 1
	}
	l, err := s.list(id, false)
	if err != nil {
		return 0
	}
	return l.Len()
}

// ReadAll returns the elements of the list of id.
func (s *ListStore) ReadAll(id model.NodeID) ([]Element, error) {
	if id == model.RootID {
		return s.root, nil
	}
	l, err := s.list(id, false)
	if err != nil {
		return nil, err
	}
	return l.ReadAll(), nil
}

// List returns the list of id for callers appending in a tight loop.
func (s *ListStore) List(id model.NodeID) (*List, error) {
	return s.list(id, false)
}
