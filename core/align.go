// Package core provides the memory primitives shared by the layout compiler
// and the runtime: alignment arithmetic, aligned device buffers and the
// atomic activation bitmask used by sparse nodes.
package core

import (
	"math/bits"
	"unsafe"
)

const (
	// CacheLineSize is a common cache line size, typically 64 bytes.
	// Adjust if targeting specific architectures with different cache line sizes.
	CacheLineSize = 64

	// WordAlign is the alignment of cells, child containers and pointer slots.
	WordAlign = 8

	// PointerSlotSize is the size of one lazily resolved reference slot.
	PointerSlotSize = 8
)

// AlignSize rounds size up to the specified alignment boundary.
// align must be a power of two.
func AlignSize(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}

// AlignCacheLine rounds size up to cache line boundary
func AlignCacheLine(size uint64) uint64 {
	return AlignSize(size, CacheLineSize)
}

// IsAligned checks if a pointer (represented as a uintptr) is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPow2 returns the smallest power of two >= n. NextPow2(0) is 1.
func NextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}

// MulOverflows reports whether a*b does not fit in 64 bits.
func MulOverflows(a, b uint64) bool {
	hi, _ := bits.Mul64(a, b)
	return hi != 0
}

// AlignedBytes allocates a byte slice with its underlying array aligned to CacheLineSize.
// size is the desired size of the slice.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	// The extra space needed is at most CacheLineSize - 1.
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}
	return buf[offset : offset+uintptr(size)]
}
