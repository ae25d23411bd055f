// Package stats is a process-wide registry of named counters. The runtime
// reports list generation and struct_for activity through it, keyed as
// "<op>.<node>.<counter>".
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// counter is a float64 accumulator stored as its IEEE 754 bits.
type counter struct {
	bits atomic.Uint64
}

func (c *counter) add(amount float64) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + amount)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counter) load() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Registry holds named double-valued accumulators. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*counter)}
}

// Default is the registry used when none is configured.
var Default = NewRegistry()

func (r *Registry) counter(key string) *counter {
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[key]; !ok {
		c = new(counter)
		r.counters[key] = c
	}
	return c
}

// Add accumulates amount into key.
func (r *Registry) Add(key string, amount float64) {
	r.counter(key).add(amount)
}

// Get returns the value of key, zero if it was never added to.
func (r *Registry) Get(key string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.counters[key]; ok {
		return c.load()
	}
	return 0
}

// Snapshot copies every counter.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.counters))
	for k, c := range r.counters {
		out[k] = c.load()
	}
	return out
}

// Dump writes the counters sorted by key, one "key value" pair per line.
func (r *Registry) Dump(w io.Writer) error {
	snap := r.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %g\n", k, snap[k]); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every counter.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.counters = make(map[string]*counter)
	r.mu.Unlock()
}

// Add accumulates amount into key in the Default registry.
func Add(key string, amount float64) {
	Default.Add(key, amount)
}

// Get reads key from the Default registry.
func Get(key string) float64 {
	return Default.Get(key)
}
