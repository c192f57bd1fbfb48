// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"context"
	"fmt"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/gogpu/imgraph"
)

// Frame is a downloaded image held on the host.
type Frame struct {
	Index  uint64
	Width  int
	Height int
	Format imgraph.DownloadFormat
	Pix    []byte
}

// Capture downloads its input and keeps the most recent frame in memory.
// Last is safe to call from any goroutine.
type Capture struct {
	imgraph.BaseNode
	dl *imgraph.Downloader

	width  int
	height int

	mu   sync.Mutex
	last Frame
	ok   bool
}

// NewCapture creates a capture node.
func NewCapture() *Capture {
	return &Capture{BaseNode: imgraph.NewBaseNode(
		[]imgraph.Tag{imgraph.TagOutput},
		[]imgraph.InputSlot{imgraph.ImageInput("in")},
		imgraph.EnumParam("format", imgraph.FormatRGBA8.String(),
			imgraph.FormatRGBA8.String(), imgraph.FormatRGBX8.String(),
			imgraph.FormatRGBA16.String(), imgraph.FormatI420.String()),
	)}
}

// Clone returns an unbuilt copy with default parameters and no frame.
func (n *Capture) Clone() imgraph.Node {
	return &Capture{BaseNode: n.CloneBase()}
}

func (n *Capture) downloadFormat() imgraph.DownloadFormat {
	f, err := imgraph.ParseDownloadFormat(n.Param("format").Text())
	if err != nil {
		return imgraph.FormatRGBA8
	}
	return f
}

// Init creates the downloader.
func (n *Capture) Init(ctx *imgraph.BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	n.dl = imgraph.NewDownloader(n.ID()+"/download", n.downloadFormat())
	if err := n.dl.Init(ctx.Device); err != nil {
		n.dl = nil
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

// Allocate acquires the download buffers for the current input size.
func (n *Capture) Allocate(cmd *imgraph.CommandBuffer) error {
	if err := n.BaseNode.Allocate(cmd); err != nil {
		return err
	}
	if f := n.downloadFormat(); n.dl == nil || n.dl.Format() != f {
		if n.dl != nil {
			n.dl.Destroy()
		}
		n.dl = imgraph.NewDownloader(n.ID()+"/download", f)
		if err := n.dl.Init(cmd.Device()); err != nil {
			n.dl = nil
			return err
		}
	}
	in := n.InputImage(0)
	if in == nil {
		return fmt.Errorf("node %q: input has no image: %w", n.ID(), imgraph.ErrNotAllocated)
	}
	n.width, n.height = in.Size()
	return n.dl.Allocate(in)
}

// Commands records the download.
func (n *Capture) Commands(cmd *imgraph.CommandBuffer, _, _ int) error {
	return n.dl.Commands(cmd)
}

// Complete stores the downloaded frame.
func (n *Capture) Complete(_ context.Context, info imgraph.FrameInfo) error {
	pix, err := n.dl.Main(info.Fence)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = Frame{Index: info.Index, Width: n.width, Height: n.height, Format: n.dl.Format(), Pix: pix}
	n.ok = true
	return nil
}

// Last returns the most recent frame, and false before the first one.
func (n *Capture) Last() (Frame, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last, n.ok
}

// Deallocate releases the download buffers.
func (n *Capture) Deallocate() {
	if n.dl != nil {
		n.dl.Deallocate()
	}
	n.BaseNode.Deallocate()
}

// Destroy releases the downloader. The last frame stays readable.
func (n *Capture) Destroy() {
	if n.dl != nil {
		n.dl.Destroy()
		n.dl = nil
	}
	n.BaseNode.Destroy()
}
