// Package imgraph is a GPU compute node graph for image processing.
//
// # Overview
//
// An imgraph pipeline is a directed acyclic graph of nodes (image sources,
// color transforms, tone operators, format converters, file writers)
// executed on a single compute queue. The Graph computes one execution
// order at build time and then, every frame, updates each node, records
// the work of the stale ones and submits it node after node, each
// submission waiting on the semaphore of the previous one. A fence on the
// last submission lets the host read results back.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/imgraph"
//		"github.com/gogpu/imgraph/backend/software"
//		"github.com/gogpu/imgraph/nodes"
//	)
//
//	dev := software.New()
//	reg := imgraph.NewRegistry()
//	nodes.Register(reg)
//
//	g, err := reg.Build(ctx, dev, &imgraph.Description{Nodes: []imgraph.NodeDesc{
//		{Type: "source", ID: "src", Params: map[string]any{"path": "in.png"}},
//		{Type: "saturation", ID: "sat", Inputs: []string{"src"}, Params: map[string]any{"amount": 0.5}},
//		{Type: "writer", ID: "out", Inputs: []string{"sat"}, Params: map[string]any{"path": "out.png"}},
//	}})
//	if err != nil {
//		return err
//	}
//	defer g.Close()
//	_, err = g.Frame(ctx)
//
// # Incremental execution
//
// Parameters are the only mutable input of a graph. Edits made with
// Graph.SetParam or Parameter.Set are observed once per frame by
// Node.Update. A node re-executes when one of its parameters committed a
// valid change, when an upstream node re-executed, or when it needs its
// setup pass. Invalid edits are dropped and the last valid value is kept.
//
// # Errors
//
// Wiring errors (ErrWiring, ErrCycle) abort a build and are reported all at
// once. Resource errors (ErrResource) abort the current frame without
// submitting anything. Runtime errors (ErrRuntime) from submission or fence
// waits poison the graph: further frames fail with ErrPoisoned.
//
// # Backends
//
// Nodes record into a gpucore.Device. backend/software executes the host
// reference kernels and is used by the tests; backend/wgpu runs the WGSL
// kernels through gogpu/wgpu.
package imgraph
