// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"context"
	"testing"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/backend/software"
)

func newTestRegistry(t *testing.T) *imgraph.Registry {
	t.Helper()
	r := imgraph.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

// buildGraph builds desc on a fresh software device.
func buildGraph(t *testing.T, desc *imgraph.Description, opts ...imgraph.GraphOption) *imgraph.Graph {
	t.Helper()
	dev := software.New(software.WithWorkers(2))
	t.Cleanup(dev.Destroy)
	g, err := newTestRegistry(t).Build(context.Background(), dev, desc, opts...)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() {
		if err := g.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return g
}

func mustFrame(t *testing.T, g *imgraph.Graph) *imgraph.FrameReport {
	t.Helper()
	r, err := g.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	return r
}

func captured(t *testing.T, g *imgraph.Graph, id string) Frame {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("no node %q", id)
	}
	c, ok := n.(*Capture)
	if !ok {
		t.Fatalf("node %q is %T, want *Capture", id, n)
	}
	f, ok := c.Last()
	if !ok {
		t.Fatalf("capture %q holds no frame", id)
	}
	return f
}

// solid returns a pattern source description filling w x h with c.
func solid(id string, w, h int, c imgraph.Vec4) imgraph.NodeDesc {
	return imgraph.NodeDesc{Type: "pattern", ID: id, Params: map[string]any{
		"width": w, "height": h, "kind": PatternSolid, "color": c,
	}}
}

func capture(id, in string) imgraph.NodeDesc {
	return imgraph.NodeDesc{Type: "capture", ID: id, Inputs: []string{in}}
}
