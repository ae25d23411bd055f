package core

import (
	"math/bits"
	"sync/atomic"
)

// Bitmask is a fixed-size set of activation bits. Set, Clear and Test are
// safe to call from many goroutines; Reset is not and must be separated
// from concurrent togglers by a barrier.
type Bitmask struct {
	words []atomic.Uint64
	n     uint64
}

// NewBitmask returns a bitmask holding n bits, all clear.
func NewBitmask(n uint64) *Bitmask {
	return &Bitmask{
		words: make([]atomic.Uint64, (n+63)/64),
		n:     n,
	}
}

// Len returns the number of bits.
func (b *Bitmask) Len() uint64 {
	return b.n
}

// Set turns bit i on and reports whether it was previously off.
func (b *Bitmask) Set(i uint64) bool {
	w := &b.words[i>>6]
	mask := uint64(1) << (i & 63)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// Clear turns bit i off and reports whether it was previously on.
func (b *Bitmask) Clear(i uint64) bool {
	w := &b.words[i>>6]
	mask := uint64(1) << (i & 63)
	for {
		old := w.Load()
		if old&mask == 0 {
			return false
		}
		if w.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

// Test reports whether bit i is on.
func (b *Bitmask) Test(i uint64) bool {
	return b.words[i>>6].Load()&(uint64(1)<<(i&63)) != 0
}

// Count returns the number of bits that are on.
func (b *Bitmask) Count() uint64 {
	var n uint64
	for i := range b.words {
		n += uint64(bits.OnesCount64(b.words[i].Load()))
	}
	return n
}

// Reset clears every bit.
func (b *Bitmask) Reset() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}
