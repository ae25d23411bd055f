package core

import (
	"sync"
	"testing"
	"unsafe"
)

func TestAlignSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		size  uint64
		align uint64
		want  uint64
	}{
		{"zero", 0, 8, 0},
		{"already aligned", 16, 8, 16},
		{"round up", 13, 8, 16},
		{"byte", 1, 4, 4},
		{"cache line", 65, CacheLineSize, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlignSize(tt.size, tt.align); got != tt.want {
				t.Errorf("AlignSize(%d, %d) = %d, want %d", tt.size, tt.align, got, tt.want)
			}
		})
	}
}

func TestPow2(t *testing.T) {
	t.Parallel()
	for _, n := range []uint64{1, 2, 4, 1024, 1 << 40} {
		if !IsPow2(n) {
			t.Errorf("IsPow2(%d) = false", n)
		}
		if got := NextPow2(n); got != n {
			t.Errorf("NextPow2(%d) = %d", n, got)
		}
	}
	for _, n := range []uint64{0, 3, 6, 1000} {
		if IsPow2(n) {
			t.Errorf("IsPow2(%d) = true", n)
		}
	}
	if got := NextPow2(1000); got != 1024 {
		t.Errorf("NextPow2(1000) = %d, want 1024", got)
	}
	if got := NextPow2(0); got != 1 {
		t.Errorf("NextPow2(0) = %d, want 1", got)
	}
}

func TestMulOverflows(t *testing.T) {
	t.Parallel()
	if MulOverflows(1<<32, 1<<31) {
		t.Error("2^63 should fit")
	}
	if !MulOverflows(1<<32, 1<<32) {
		t.Error("2^64 should overflow")
	}
}

func TestAlignedBytes(t *testing.T) {
	t.Parallel()
	buf := AlignedBytes(100)
	if len(buf) != 100 {
		t.Fatalf("len = %d, want 100", len(buf))
	}
	if !IsAligned(uintptr(unsafe.Pointer(&buf[0]))) {
		t.Error("buffer is not cache-line aligned")
	}
	if AlignedBytes(0) != nil {
		t.Error("zero size should return nil")
	}
}

func TestBitmask(t *testing.T) {
	t.Parallel()
	b := NewBitmask(130)
	if b.Len() != 130 {
		t.Fatalf("Len = %d", b.Len())
	}

	if !b.Set(0) || !b.Set(64) || !b.Set(129) {
		t.Fatal("first Set should report a change")
	}
	if b.Set(64) {
		t.Error("second Set should not report a change")
	}
	if !b.Test(129) || b.Test(128) {
		t.Error("Test returned wrong state")
	}
	if got := b.Count(); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	if !b.Clear(64) || b.Clear(64) {
		t.Error("Clear change reporting is wrong")
	}
	b.Reset()
	if got := b.Count(); got != 0 {
		t.Errorf("Count after Reset = %d", got)
	}
}

func TestBitmaskConcurrentSet(t *testing.T) {
	t.Parallel()
	const n = 4096
	b := NewBitmask(n)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := uint64(w); i < n; i += 8 {
				b.Set(i)
			}
		}(w)
	}
	wg.Wait()

	if got := b.Count(); got != n {
		t.Errorf("Count = %d, want %d", got, n)
	}
}

func BenchmarkBitmaskTest(b *testing.B) {
	m := NewBitmask(1 << 16)
	for i := uint64(0); i < 1<<16; i += 3 {
		m.Set(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Test(uint64(i) & (1<<16 - 1))
	}
}
