// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"context"
	"math"
	"testing"

	"github.com/gogpu/imgraph/backend/software"
	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/shaders"
)

func newTestDevice(t *testing.T, opts ...software.Option) *software.Device {
	t.Helper()
	d := software.New(append([]software.Option{software.WithWorkers(2)}, opts...)...)
	t.Cleanup(d.Destroy)
	return d
}

func newTestGraph(t *testing.T, dev gpucore.Device, opts ...GraphOption) *Graph {
	t.Helper()
	g := NewGraph(dev, opts...)
	t.Cleanup(func() {
		if err := g.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return g
}

func mustAdd(t *testing.T, g *Graph, n Node, inputs ...string) {
	t.Helper()
	if err := g.Add(n, inputs...); err != nil {
		t.Fatalf("Add(%q) error = %v", n.ID(), err)
	}
}

func mustFrame(t *testing.T, g *Graph) *FrameReport {
	t.Helper()
	r, err := g.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	return r
}

// testPixels returns w*h distinct RGBA pixels in [0, 1].
func testPixels(w, h int) []float32 {
	pix := make([]float32, w*h*4)
	for i := range w * h {
		pix[i*4+0] = float32(i%7) / 6
		pix[i*4+1] = float32(i%5) / 4
		pix[i*4+2] = float32(i%3) / 2
		pix[i*4+3] = 1
	}
	return pix
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

// testSource uploads fixed pixels, scaled by its "level" parameter.
type testSource struct {
	BaseNode
	width, height int
	pix           []float32
	img           *Image
	uploads       int
}

func newTestSource(id string, w, h int, pix []float32) *testSource {
	n := &testSource{
		BaseNode: NewBaseNode([]Tag{TagImage, TagSource}, nil, FloatParam("level", 1, 0, 1)),
		width:    w,
		height:   h,
		pix:      pix,
	}
	n.SetID(id)
	return n
}

func (n *testSource) Init(ctx *BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	n.img = NewImage(n.ID()+"/out", n.width, n.height, gpucore.FormatRGBA32Float)
	if err := n.img.Allocate(ctx.Device); err != nil {
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

func (n *testSource) Commands(*CommandBuffer, int, int) error {
	level := float32(n.Param("level").Float())
	pix := make([]float32, len(n.pix))
	for i, v := range n.pix {
		pix[i] = v * level
	}
	n.uploads++
	return n.img.Upload(pix)
}

func (n *testSource) OutputImage() *Image { return n.img }

func (n *testSource) Clone() Node {
	c := &testSource{BaseNode: n.CloneBase(), width: n.width, height: n.height, pix: n.pix}
	return c
}

func (n *testSource) Destroy() {
	if n.img != nil {
		n.img.Deallocate()
		n.img = nil
	}
	n.BaseNode.Destroy()
}

// testSaturation is a SingleKernel node running color/saturation.
type testSaturation struct {
	SingleKernel
}

func newTestSaturation(id string) *testSaturation {
	n := &testSaturation{SingleKernel: NewSingleKernel(
		SingleKernelSpec{Path: shaders.PathSaturation},
		[]Tag{TagImage, TagColor},
		FloatParam("amount", 1, 0, 1),
	)}
	n.SetID(id)
	return n
}

func (n *testSaturation) Clone() Node {
	return &testSaturation{SingleKernel: n.CloneSingleKernel()}
}

// testSink downloads its input and keeps every frame's bytes.
type testSink struct {
	BaseNode
	format DownloadFormat
	dl     *Downloader

	got              [][]byte
	allocs, deallocs int
	failCommands     error
}

func newTestSink(id string, format DownloadFormat) *testSink {
	n := &testSink{
		BaseNode: NewBaseNode([]Tag{TagOutput}, []InputSlot{ImageInput("in")}),
		format:   format,
	}
	n.SetID(id)
	return n
}

func (n *testSink) Init(ctx *BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	n.dl = NewDownloader(n.ID(), n.format)
	if err := n.dl.Init(ctx.Device); err != nil {
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

func (n *testSink) Allocate(cmd *CommandBuffer) error {
	if err := n.BaseNode.Allocate(cmd); err != nil {
		return err
	}
	n.allocs++
	return n.dl.Allocate(n.InputImage(0))
}

func (n *testSink) Commands(cmd *CommandBuffer, _, _ int) error {
	if n.failCommands != nil {
		return n.failCommands
	}
	return n.dl.Commands(cmd)
}

func (n *testSink) Complete(_ context.Context, info FrameInfo) error {
	b, err := n.dl.Main(info.Fence)
	if err != nil {
		return err
	}
	n.got = append(n.got, b)
	return nil
}

func (n *testSink) Deallocate() {
	n.deallocs++
	n.dl.Deallocate()
	n.BaseNode.Deallocate()
}

func (n *testSink) Destroy() {
	if n.dl != nil {
		n.dl.Destroy()
		n.dl = nil
	}
	n.BaseNode.Destroy()
}

func (n *testSink) Clone() Node {
	return &testSink{BaseNode: n.CloneBase(), format: n.format}
}
