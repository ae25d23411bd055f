// Package kernels provides in-place struct_for bodies over place cells.
//
// A kernel sees the raw bytes of one cell and treats them as consecutive
// float32 lanes, so it applies to place nodes whose components are all f32.
// Kernels never allocate and touch only the cell they are given, which makes
// them safe to run from every struct_for worker at once.
//
// Available operations:
//   - Elementwise: square-plus-x, ReLU, sigmoid, tanh, increment, fill-one
//   - Per-cell reduction: sum into the first lane
package kernels

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/sbl8/strata/runtime"
)

// KernelFn operates in-place on one cell's bytes with zero allocations
type KernelFn func(data []byte)

// Op selects a kernel.
type Op uint8

// Kernel operation codes
const (
	OpNoop     Op = 0x00
	OpSqrPlusX Op = 0x01
	OpReLU     Op = 0x03
	OpSigmoid  Op = 0x04
	OpTanh     Op = 0x05
	OpSum      Op = 0x08
	OpInc      Op = 0x0B
	OpFillOne  Op = 0x0C
)

// Catalog maps opcodes to kernel implementations
var Catalog = [256]KernelFn{
	OpNoop:     noop,
	OpSqrPlusX: sqrPlusX,
	OpReLU:     relu,
	OpSigmoid:  sigmoid,
	OpTanh:     tanh,
	OpSum:      sum,
	OpInc:      increment,
	OpFillOne:  fillOne,
}

var opNames = map[string]Op{
	"noop":     OpNoop,
	"sqrplusx": OpSqrPlusX,
	"relu":     OpReLU,
	"sigmoid":  OpSigmoid,
	"tanh":     OpTanh,
	"sum":      OpSum,
	"inc":      OpInc,
	"fill":     OpFillOne,
}

// ParseOp looks up a kernel by name.
func ParseOp(name string) (Op, error) {
	if op, ok := opNames[name]; ok {
		return op, nil
	}
	return OpNoop, fmt.Errorf("unknown kernel %q", name)
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return fmt.Sprintf("op(0x%02x)", uint8(o))
}

// GetKernel returns the kernel for op, noop if none is registered.
func GetKernel(op Op) KernelFn {
	if k := Catalog[op]; k != nil {
		return k
	}
	return noop
}

// Body adapts a kernel to a struct_for body over whole cells.
func Body(op Op) runtime.Body {
	k := GetKernel(op)
	return func(c runtime.Cell) {
		k(c.Data)
	}
}

// ComponentBody runs a kernel on one named component of each cell. Cells
// without the component are skipped.
func ComponentBody(op Op, component string) runtime.Body {
	k := GetKernel(op)
	return func(c runtime.Cell) {
		if data := c.Component(component); data != nil {
			k(data)
		}
	}
}

// Total accumulates the float32 lanes of every visited cell. The zero
// value is ready to use.
type Total struct {
	bits  atomic.Uint64
	cells atomic.Int64
}

// Body returns a struct_for body adding each cell's lanes to t.
func (t *Total) Body() runtime.Body {
	return func(c runtime.Cell) {
		var s float64
		lanes(c.Data, func(p *float32) { s += float64(*p) })
		for {
			old := t.bits.Load()
			next := math.Float64bits(math.Float64frombits(old) + s)
			if t.bits.CompareAndSwap(old, next) {
				break
			}
		}
		t.cells.Add(1)
	}
}

// Value returns the accumulated sum.
func (t *Total) Value() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Cells returns the number of cells visited.
func (t *Total) Cells() int64 {
	return t.cells.Load()
}

// -------- Core Kernels ----------

func lanes(data []byte, fn func(p *float32)) {
	const sz = 4 // float32
	count := len(data) / sz
	for i := 0; i < count; i++ {
		fn((*float32)(unsafe.Pointer(&data[i*sz])))
	}
}

func noop(data []byte) {}

func sqrPlusX(data []byte) {
	lanes(data, func(p *float32) {
		x := *p
		*p = x*x + x
	})
}

// relu implements Rectified Linear Unit: max(0, x)
func relu(data []byte) {
	lanes(data, func(p *float32) {
		if *p < 0 {
			*p = 0
		}
	})
}

// sigmoid uses the fast approximation x / (1 + |x|)
func sigmoid(data []byte) {
	lanes(data, func(p *float32) {
		x := *p
		if x >= 0 {
			*p = x / (1 + x)
		} else {
			*p = x / (1 - x)
		}
	})
}

// tanh implements hyperbolic tangent with rational approximation
func tanh(data []byte) {
	lanes(data, func(p *float32) {
		x := *p
		x2 := x * x
		*p = x * (27 + x2) / (27 + 9*x2)
	})
}

func increment(data []byte) {
	lanes(data, func(p *float32) { *p++ })
}

func fillOne(data []byte) {
	lanes(data, func(p *float32) { *p = 1 })
}

// sum stores the sum of all lanes in the first lane
func sum(data []byte) {
	if len(data) < 4 {
		return
	}
	var s float32
	lanes(data, func(p *float32) { s += *p })
	*(*float32)(unsafe.Pointer(&data[0])) = s
}
