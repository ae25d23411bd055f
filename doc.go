// Package strata lays out sparse hierarchical data structures and iterates
// their active cells in parallel.
//
// A layout tree is declared once: a root, then dense, pointer, bitmasked and
// dynamic nodes that each split a parent cell into a container of cells,
// and place nodes holding the scalar components. Only some cells of the
// sparse kinds are active at any time. Iterating the active cells of a node
// needs a list of them, and each list is derived from the list one level up.
//
// # Architecture Overview
//
//   - Tree: validated node declarations, built in code or loaded from HCL
//   - Layout: cell and container sizes, offsets and metadata per node
//   - Arena: one buffer for all inline containers plus pointer pools
//   - Active lists: lock-free append buffers, one per node
//   - Scheduler: clear/listgen/struct_for plans that reuse valid lists
//
// # Basic Usage
//
//	// Inspect a declaration
//	strata layout grid.hcl
//	strata plan grid.hcl x
//
//	// Run a kernel over active cells
//	prog, err := compiler.CompileFile("grid.hcl", compiler.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine, err := runtime.NewEngine(prog, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tile, _ := prog.Tree.Lookup("tile")
//	x, _ := prog.Tree.Lookup("x")
//	_ = engine.Arena().Activate(tile, 5)
//	n, err := engine.StructFor(ctx, x, kernels.Body(kernels.OpInc))
//
// # Package Structure
//
//   - core: alignment arithmetic and atomic activation bitmasks
//   - model: node tree, builder, snapshots
//   - compiler: declaration files and the layout compiler
//   - runtime: arena, active lists, list generation, scheduling, engine
//   - kernels: in-place struct_for bodies
//   - stats: named counters
//   - cmd/strata: command-line tool
package strata
