package stats

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("listgen.tile.appends", 3)
	r.Add("listgen.tile.appends", 4)
	r.Add("struct_for.x.cells", 16)

	assert.Equal(t, 7.0, r.Get("listgen.tile.appends"))
	assert.Zero(t, r.Get("missing"))
	assert.Equal(t, map[string]float64{
		"listgen.tile.appends": 7,
		"struct_for.x.cells":   16,
	}, r.Snapshot())

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf))
	assert.Equal(t, "listgen.tile.appends 7\nstruct_for.x.cells 16\n", buf.String())

	r.Reset()
	assert.Empty(t, r.Snapshot())
}

func TestRegistryConcurrentAdd(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Add("n", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, r.Get("n"))
}

func TestRegistryFractionalAmounts(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Add("occupancy", 0.5)
	r.Add("occupancy", 0.5)
	assert.Equal(t, 1.0, r.Get("occupancy"))

	r.Add("ratio", 0.25)
	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf))
	assert.Equal(t, "occupancy 1\nratio 0.25\n", buf.String())
}
