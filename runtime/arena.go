package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/sbl8/strata/compiler"
	"github.com/sbl8/strata/core"
	"github.com/sbl8/strata/model"
)

// ArenaRegion represents a distinct memory region within the Arena.
type ArenaRegion struct {
	Offset uint64
	Size   uint64
	Name   string
}

// DataRegion is the name of the region holding the root container.
const DataRegion = "Data"

// PoolRegion returns the region name of a pointer node's cell pool.
func PoolRegion(node string) string {
	return "Pool:" + node
}

// ArenaOptions configures arena sizing.
type ArenaOptions struct {
	// PoolLimit caps the bytes reserved for each pointer pool. Zero reserves
	// the full pool the layout computed, so every cell can be allocated.
	PoolLimit uint64
}

// Arena owns every byte of node storage plus the activation metadata that
// decides which cells exist:
//  1. Data: the root container, with every non-pointer container inlined
//  2. Pools: one bump-allocated region per pointer node, holding cell blocks
//
// Bitmasks and dynamic lengths live beside the buffer. Any activation change
// advances the epoch.
type Arena struct {
	layout  *compiler.Layout
	buffer  []byte
	regions map[string]ArenaRegion
	data    ArenaRegion

	pools   []*pool          // pointer nodes
	masks   []*core.Bitmask  // pointer and bitmasked nodes
	lengths [][]atomic.Int64 // dynamic nodes, one counter per container

	epoch atomic.Uint64
}

// pool hands out cell blocks for one pointer node. Allocation is serialized
// so two activations of the same cell never allocate twice; slot reads go
// through atomics and need no lock.
type pool struct {
	mu     sync.Mutex
	region ArenaRegion
	next   uint64
	block  uint64
}

// NewArena allocates zeroed storage for layout.
func NewArena(layout *compiler.Layout, opts ArenaOptions) (*Arena, error) {
	if layout == nil {
		return nil, fmt.Errorf("layout cannot be nil")
	}
	n := layout.Tree.Len()
	a := &Arena{
		layout:  layout,
		regions: make(map[string]ArenaRegion),
		pools:   make([]*pool, n),
		masks:   make([]*core.Bitmask, n),
		lengths: make([][]atomic.Int64, n),
	}

	offset := uint64(0)
	a.data = ArenaRegion{Offset: offset, Size: layout.DataSize, Name: DataRegion}
	a.regions[DataRegion] = a.data
	offset = core.AlignCacheLine(offset + layout.DataSize)

	for i := 0; i < n; i++ {
		nl := layout.Node(model.NodeID(i))
		if nl.MaskBits > 0 {
			a.masks[i] = core.NewBitmask(nl.MaskBits)
		}
		if nl.LengthCounters > 0 {
			a.lengths[i] = make([]atomic.Int64, nl.LengthCounters)
		}
		if nl.Storage != model.KindPointer {
			continue
		}
		size := nl.PoolSize
		if opts.PoolLimit > 0 && opts.PoolLimit < size {
			size = opts.PoolLimit
			if nl.CellSize > 0 {
				size -= size % nl.CellSize
			}
		}
		region := ArenaRegion{Offset: offset, Size: size, Name: PoolRegion(nl.Name)}
		a.regions[region.Name] = region
		a.pools[i] = &pool{region: region, next: offset, block: nl.CellSize}
		offset = core.AlignCacheLine(offset + size)
		if offset < size {
			return nil, fmt.Errorf("arena size overflows at pool %q", nl.Name)
		}
	}

	if offset > uint64(maxInt) {
		return nil, fmt.Errorf("arena of %d bytes cannot be allocated", offset)
	}
	a.buffer = core.AlignedBytes(int(offset))
	return a, nil
}

const maxInt = int(^uint(0) >> 1)

// Layout returns the layout the arena was sized for.
func (a *Arena) Layout() *compiler.Layout {
	return a.layout
}

// Buffer returns the raw byte buffer of the arena.
func (a *Arena) Buffer() []byte {
	return a.buffer
}

// Region returns the specified ArenaRegion.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	region, ok := a.regions[name]
	return region, ok
}

// TotalSize returns the total capacity of the arena's buffer.
func (a *Arena) TotalSize() uint64 {
	return uint64(len(a.buffer))
}

// UsedSize returns the data region plus every pool byte handed out so far.
func (a *Arena) UsedSize() uint64 {
	used := a.data.Size
	for _, p := range a.pools {
		if p == nil {
			continue
		}
		p.mu.Lock()
		used += p.next - p.region.Offset
		p.mu.Unlock()
	}
	return used
}

// Epoch returns the activation epoch. It changes whenever a cell is
// activated, deactivated or appended.
func (a *Arena) Epoch() uint64 {
	return a.epoch.Load()
}

// BumpEpoch advances the epoch without an observed activation change,
// invalidating every active list.
func (a *Arena) BumpEpoch() uint64 {
	return a.epoch.Add(1)
}

// RootElement is the single entry of the root list.
func (a *Arena) RootElement() Element {
	return Element{Index: 0, Base: a.data.Offset}
}

func (a *Arena) checkCell(id model.NodeID, index uint64) (*compiler.NodeLayout, error) {
	nl := a.layout.Node(id)
	if nl == nil {
		return nil, fmt.Errorf("unknown node %d", id)
	}
	if index >= nl.TotalCells {
		return nil, fmt.Errorf("cell %d out of range for node %q with %d cells", index, nl.Name, nl.TotalCells)
	}
	return nl, nil
}

// Activate makes cell index of node id active, activating every ancestor
// cell on the way and allocating pointer blocks as needed. Activating a
// cell of a dynamic node extends its container's length to cover it.
// Activating dense or place cells only activates their ancestors.
func (a *Arena) Activate(id model.NodeID, index uint64) error {
	if _, err := a.checkCell(id, index); err != nil {
		return err
	}
	_, err := a.activate(id, index)
	return err
}

// activate returns the base offset of the cell's storage.
func (a *Arena) activate(id model.NodeID, index uint64) (uint64, error) {
	if id == model.RootID {
		return a.data.Offset, nil
	}
	nl := a.layout.Node(id)
	parentBase, err := a.activate(a.layout.Tree.Parent(id), index/nl.Extent)
	if err != nil {
		return 0, err
	}
	container := parentBase + nl.Offset
	local := index % nl.Extent

	switch nl.Storage {
	case model.KindBitmasked:
		if a.masks[id].Set(index) {
			a.epoch.Add(1)
		}
	case model.KindDynamic:
		length := &a.lengths[id][index/nl.Extent]
		for {
			cur := length.Load()
			if uint64(cur) > local {
				break
			}
			if length.CompareAndSwap(cur, int64(local)+1) {
				a.epoch.Add(1)
				break
			}
		}
	case model.KindPointer:
		block, err := a.allocate(id, nl, container+local*core.PointerSlotSize)
		if err != nil {
			return 0, err
		}
		if a.masks[id].Set(index) {
			a.epoch.Add(1)
		}
		return block, nil
	}
	return container + local*nl.SlotSize, nil
}

// allocate returns the block behind a pointer slot, allocating it on first
// use. Blocks stay allocated after deactivation and are reused, with their
// contents, if the cell is activated again.
func (a *Arena) allocate(id model.NodeID, nl *compiler.NodeLayout, slot uint64) (uint64, error) {
	if ref := a.loadSlot(slot); ref != 0 {
		return ref - 1, nil
	}
	p := a.pools[id]
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref := a.loadSlot(slot); ref != 0 {
		return ref - 1, nil
	}
	if p.next+p.block > p.region.Offset+p.region.Size {
		return 0, fmt.Errorf("%w: node %q after %d blocks", ErrPoolExhausted, nl.Name, (p.next-p.region.Offset)/p.block)
	}
	block := p.next
	p.next += p.block
	a.storeSlot(slot, block+1)
	return block, nil
}

// Slots hold the block offset plus one so that zero means unallocated.
func (a *Arena) slotPtr(slot uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&a.buffer[slot]))
}

func (a *Arena) loadSlot(slot uint64) uint64 {
	return atomic.LoadUint64(a.slotPtr(slot))
}

func (a *Arena) storeSlot(slot, ref uint64) {
	atomic.StoreUint64(a.slotPtr(slot), ref)
}

// Deactivate marks a cell of a pointer or bitmasked node inactive. On a
// dynamic node it truncates the container so the cell and every later one
// become inactive. Descendant activation state is kept but unreachable
// until the cell is activated again.
func (a *Arena) Deactivate(id model.NodeID, index uint64) error {
	nl, err := a.checkCell(id, index)
	if err != nil {
		return err
	}
	switch nl.Storage {
	case model.KindPointer, model.KindBitmasked:
		if a.masks[id].Clear(index) {
			a.epoch.Add(1)
		}
	case model.KindDynamic:
		length := &a.lengths[id][index/nl.Extent]
		local := int64(index % nl.Extent)
		for {
			cur := length.Load()
			if cur <= local {
				break
			}
			if length.CompareAndSwap(cur, local) {
				a.epoch.Add(1)
				break
			}
		}
	default:
		return fmt.Errorf("%w: %s node %q", ErrNotSparse, nl.Storage, nl.Name)
	}
	return nil
}

// Append activates the next free cell of the dynamic container below
// parentIndex and returns its flat index.
func (a *Arena) Append(id model.NodeID, parentIndex uint64) (uint64, error) {
	nl := a.layout.Node(id)
	if nl == nil {
		return 0, fmt.Errorf("unknown node %d", id)
	}
	if nl.Storage != model.KindDynamic {
		return 0, fmt.Errorf("%w: %s node %q", ErrNotDynamic, nl.Storage, nl.Name)
	}
	if parentIndex >= nl.Containers {
		return 0, fmt.Errorf("container %d out of range for node %q with %d containers", parentIndex, nl.Name, nl.Containers)
	}
	if _, err := a.activate(a.layout.Tree.Parent(id), parentIndex); err != nil {
		return 0, err
	}
	length := &a.lengths[id][parentIndex]
	for {
		cur := length.Load()
		if uint64(cur) >= nl.Extent {
			return 0, fmt.Errorf("%w: node %q container %d holds %d cells", ErrDynamicFull, nl.Name, parentIndex, cur)
		}
		if length.CompareAndSwap(cur, cur+1) {
			a.epoch.Add(1)
			return parentIndex*nl.Extent + uint64(cur), nil
		}
	}
}

// Length returns the number of active cells in a dynamic container.
func (a *Arena) Length(id model.NodeID, parentIndex uint64) uint64 {
	if counters := a.lengths[id]; parentIndex < uint64(len(counters)) {
		return uint64(counters[parentIndex].Load())
	}
	return 0
}

// IsActive reports whether a cell and all of its ancestors are active.
func (a *Arena) IsActive(id model.NodeID, index uint64) bool {
	if _, err := a.checkCell(id, index); err != nil {
		return false
	}
	for id != model.RootID {
		nl := a.layout.Node(id)
		if !a.cellActive(nl, index) {
			return false
		}
		id = a.layout.Tree.Parent(id)
		index /= nl.Extent
	}
	return true
}

// cellActive consults only the node's own activation metadata.
func (a *Arena) cellActive(nl *compiler.NodeLayout, index uint64) bool {
	switch nl.Storage {
	case model.KindPointer, model.KindBitmasked:
		return a.masks[nl.Node].Test(index)
	case model.KindDynamic:
		return index%nl.Extent < uint64(a.lengths[nl.Node][index/nl.Extent].Load())
	}
	return true
}

// childBase locates cell local of node nl inside the parent cell starting
// at parentBase. ok is false for pointer cells that were never allocated.
func (a *Arena) childBase(nl *compiler.NodeLayout, parentBase, local uint64) (uint64, bool) {
	container := parentBase + nl.Offset
	if nl.Storage == model.KindPointer {
		ref := a.loadSlot(container + local*core.PointerSlotSize)
		return ref - 1, ref != 0
	}
	return container + local*nl.SlotSize, true
}

// cellBase resolves the storage of a cell without changing activation.
func (a *Arena) cellBase(id model.NodeID, index uint64) (uint64, bool) {
	if id == model.RootID {
		return a.data.Offset, true
	}
	nl := a.layout.Node(id)
	parentBase, ok := a.cellBase(a.layout.Tree.Parent(id), index/nl.Extent)
	if !ok {
		return 0, false
	}
	return a.childBase(nl, parentBase, index%nl.Extent)
}

// CellData returns the storage of one cell: the components of a place
// cell, or the child containers of any other cell. Storage exists for
// every dense cell even while an ancestor is inactive, but pointer cells
// must have been activated at least once.
func (a *Arena) CellData(id model.NodeID, index uint64) ([]byte, error) {
	nl, err := a.checkCell(id, index)
	if err != nil {
		return nil, err
	}
	base, ok := a.cellBase(id, index)
	if !ok {
		return nil, fmt.Errorf("%w: node %q cell %d", ErrInactive, nl.Name, index)
	}
	return a.buffer[base : base+nl.CellSize : base+nl.CellSize], nil
}

// Reset deactivates every cell and releases all pool blocks. Data is zeroed.
// It must not run concurrently with any other arena operation.
func (a *Arena) Reset() {
	for i := range a.buffer {
		a.buffer[i] = 0
	}
	for _, m := range a.masks {
		if m != nil {
			m.Reset()
		}
	}
	for _, counters := range a.lengths {
		for i := range counters {
			counters[i].Store(0)
		}
	}
	for _, p := range a.pools {
		if p != nil {
			p.mu.Lock()
			p.next = p.region.Offset
			p.mu.Unlock()
		}
	}
	a.epoch.Add(1)
}
