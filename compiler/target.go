package compiler

import (
	"fmt"
	"math"
)

// Target describes the device the layout is compiled for. Only the size of
// its address space matters here; device selection happens elsewhere.
type Target struct {
	Name        string
	AddressBits uint
}

var (
	// TargetCPU is a host with a 48-bit virtual address space.
	TargetCPU = Target{Name: "cpu", AddressBits: 48}
	// TargetGPU is an accelerator addressing its buffers with 32-bit offsets.
	TargetGPU = Target{Name: "gpu", AddressBits: 32}
)

// TargetByName returns one of the preset targets.
func TargetByName(name string) (Target, error) {
	switch name {
	case "", TargetCPU.Name:
		return TargetCPU, nil
	case TargetGPU.Name:
		return TargetGPU, nil
	}
	return Target{}, fmt.Errorf("unknown target %q", name)
}

// Limit returns the number of addressable bytes.
func (t Target) Limit() uint64 {
	if t.AddressBits >= 64 {
		return math.MaxUint64
	}
	return 1 << t.AddressBits
}

// LayoutOverflowError reports a container, pool or data region that does not
// fit in the target's address space.
type LayoutOverflowError struct {
	Node  string
	Size  uint64 // math.MaxUint64 when the size itself overflowed
	Limit uint64
}

func (e *LayoutOverflowError) Error() string {
	if e.Size == math.MaxUint64 {
		return fmt.Sprintf("layout overflow at node %q: size does not fit in 64 bits", e.Node)
	}
	return fmt.Sprintf("layout overflow at node %q: %d bytes exceeds the %d-byte address space", e.Node, e.Size, e.Limit)
}
