package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gridDecl = `
node "block" {
  kind = "dense"
  axis "i" { extent = 4 }
}

node "tile" {
  kind   = "bitmasked"
  parent = "block"
  axis "i" { extent = 4 }
}

node "x" {
  kind   = "place"
  parent = "tile"
  component "x" { type = "f32" }
}
`

func testMeta(t *testing.T) (*Meta, *cli.MockUi, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.hcl")
	require.NoError(t, os.WriteFile(path, []byte(gridDecl), 0o644))
	ui := cli.NewMockUi()
	return &Meta{Ui: ui, Logger: hclog.NewNullLogger()}, ui, path
}

func TestLayoutCommand(t *testing.T) {
	t.Parallel()
	meta, ui, path := testMeta(t)
	c := &LayoutCommand{Meta: meta}

	code := c.Run([]string{"-target=gpu", path})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	out := ui.OutputWriter.String()
	assert.Contains(t, out, "bitmasked tile[i=4]")
	assert.Contains(t, out, "target gpu: data 128 bytes")

	assert.Equal(t, 1, c.Run(nil))
}

func TestPlanCommand(t *testing.T) {
	t.Parallel()
	meta, ui, path := testMeta(t)
	c := &PlanCommand{Meta: meta}

	code := c.Run([]string{"-block-dim=16", path, "x"})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	want := "clear_list(block)\nlistgen(root -> block)\nclear_list(tile)\nlistgen(block -> tile)\nstruct_for(x) block_dim=16\n"
	assert.Equal(t, want, ui.OutputWriter.String())

	assert.Equal(t, 1, c.Run([]string{path, "nope"}))
	assert.Equal(t, 1, c.Run([]string{path, "root"}))
}

func TestRunCommand(t *testing.T) {
	t.Parallel()
	meta, ui, path := testMeta(t)
	c := &RunCommand{Meta: meta}

	code := c.Run([]string{
		"-activate=tile:0", "-activate=tile:5", "-activate=tile:15",
		"-kernel=fill", "-workers=2",
		path, "x",
	})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	out := ui.OutputWriter.String()
	assert.Contains(t, out, "struct_for(x) visited 3 cells, lane total 3")
	assert.Contains(t, out, "list block: 4")
	assert.Contains(t, out, "list tile: 3")
	assert.Contains(t, out, "listgen.tile.appends 3")

	assert.Equal(t, 1, c.Run([]string{"-activate=tile", path, "x"}))
	assert.Equal(t, 1, c.Run([]string{"-activate=tile:99", path, "x"}))
	assert.Equal(t, 1, c.Run([]string{"-kernel=matmul", path, "x"}))
}

func TestEncodeCommand(t *testing.T) {
	t.Parallel()
	meta, ui, path := testMeta(t)
	out := filepath.Join(filepath.Dir(path), "grid.strata")

	code := (&EncodeCommand{Meta: meta}).Run([]string{path, out})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "wrote 4 nodes")

	layout := &LayoutCommand{Meta: meta}
	require.Equal(t, 0, layout.Run([]string{out}), ui.ErrorWriter.String())
	assert.True(t, strings.Contains(ui.OutputWriter.String(), "dense block[i=4]"))
}

func TestBenchCommand(t *testing.T) {
	t.Parallel()
	meta, ui, path := testMeta(t)
	code := (&BenchCommand{Meta: meta}).Run([]string{"-iter=3", "-density=1", path})
	require.Equal(t, 0, code, ui.ErrorWriter.String())
	assert.Regexp(t, `(?m)^x\s+16\s`, ui.OutputWriter.String())
}
