// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/encode"
)

// FormatAuto picks the Writer format from the path extension.
const FormatAuto = "auto"

// DefaultWriterPath is the default Writer path template.
const DefaultWriterPath = "frame-{frame}.png"

// Writer downloads its input after every frame it executes in and encodes
// it to a file.
//
// The path is a template: {frame} expands to the zero-padded frame index,
// {node} to the node ID, and {hash} to a digest of the parameters of every
// upstream node, so that distinct settings produce distinct files.
//
// Encoding runs on the frame's task runner. With continuous set the writer
// executes on every frame, even when nothing upstream changed.
type Writer struct {
	imgraph.BaseNode
	dl *imgraph.Downloader

	format encode.Format
	width  int
	height int
}

// NewWriter creates a file writer.
func NewWriter() *Writer {
	formats := append([]string{FormatAuto}, encode.Formats()...)
	return &Writer{BaseNode: imgraph.NewBaseNode(
		[]imgraph.Tag{imgraph.TagOutput},
		[]imgraph.InputSlot{imgraph.ImageInput("in")},
		imgraph.StringParam("path", DefaultWriterPath).WithValidator(checkTemplate),
		imgraph.EnumParam("format", FormatAuto, formats...),
		imgraph.IntParam("quality", 90, 1, 100),
		imgraph.BoolParam("continuous", false),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Writer) Clone() imgraph.Node {
	return &Writer{BaseNode: n.CloneBase()}
}

func checkTemplate(v any) error {
	if s, _ := v.(string); strings.TrimSpace(s) == "" {
		return fmt.Errorf("empty path")
	}
	return nil
}

// Format returns the output format selected by the current parameters.
func (n *Writer) Format() (encode.Format, error) {
	if f := n.Param("format").Text(); f != FormatAuto {
		return encode.ParseFormat(f)
	}
	return encode.FormatForPath(n.Param("path").Text())
}

// Init creates the downloader for the current format.
func (n *Writer) Init(ctx *imgraph.BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	f, err := n.Format()
	if err != nil {
		f = encode.PNG
	}
	n.dl = imgraph.NewDownloader(n.ID()+"/download", f.Download())
	if err := n.dl.Init(ctx.Device); err != nil {
		n.dl = nil
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

// Update reports the writer stale on every frame when continuous is set.
func (n *Writer) Update(kind imgraph.ExecutionKind) bool {
	stale := n.BaseNode.Update(kind)
	return stale || n.Param("continuous").Bool()
}

// Allocate acquires the download buffers, recreating the downloader when
// the format now needs a different host layout.
func (n *Writer) Allocate(cmd *imgraph.CommandBuffer) error {
	if err := n.BaseNode.Allocate(cmd); err != nil {
		return err
	}
	f, err := n.Format()
	if err != nil {
		return fmt.Errorf("node %q: %w", n.ID(), err)
	}
	if n.dl == nil || n.dl.Format() != f.Download() {
		if n.dl != nil {
			n.dl.Destroy()
		}
		n.dl = imgraph.NewDownloader(n.ID()+"/download", f.Download())
		if err := n.dl.Init(cmd.Device()); err != nil {
			n.dl = nil
			return err
		}
	}
	in := n.InputImage(0)
	if in == nil {
		return fmt.Errorf("node %q: input has no image: %w", n.ID(), imgraph.ErrNotAllocated)
	}
	if err := n.dl.Allocate(in); err != nil {
		return err
	}
	n.format = f
	n.width, n.height = in.Size()
	return nil
}

// Commands records the download.
func (n *Writer) Commands(cmd *imgraph.CommandBuffer, _, _ int) error {
	return n.dl.Commands(cmd)
}

// Complete reads the downloaded bytes and schedules the encode.
func (n *Writer) Complete(_ context.Context, info imgraph.FrameInfo) error {
	pix, err := n.dl.Main(info.Fence)
	if err != nil {
		return err
	}
	path := n.Path(info.Index)
	f, w, h := n.format, n.width, n.height
	opts := encode.Options{Quality: int(n.Param("quality").Int())}
	write := func() error {
		return encode.WriteFile(path, f, w, h, pix, opts)
	}
	if info.Tasks == nil {
		return write()
	}
	if info.Logger != nil {
		info.Logger.Debug("nodes: scheduling encode", "node", n.ID(), "path", path, "format", f)
	}
	return info.Tasks.Go(n.ID()+" "+path, write)
}

// Path expands the path template for frame index.
func (n *Writer) Path(index uint64) string {
	return strings.NewReplacer(
		"{frame}", fmt.Sprintf("%06d", index),
		"{node}", n.ID(),
		"{hash}", n.upstreamHash(),
	).Replace(n.Param("path").Text())
}

// upstreamHash digests the parameters of every node upstream of the
// writer, in depth-first input order.
func (n *Writer) upstreamHash() string {
	var b strings.Builder
	seen := make(map[imgraph.Node]bool)
	var walk func(imgraph.Node)
	walk = func(u imgraph.Node) {
		if u == nil || seen[u] {
			return
		}
		seen[u] = true
		b.WriteString(u.ID())
		b.WriteByte(0)
		b.WriteString(u.Params().Hash())
		b.WriteByte(0)
		if in, ok := u.(interface {
			Input(int) imgraph.Node
			Slots() []imgraph.InputSlot
		}); ok {
			for i := range in.Slots() {
				walk(in.Input(i))
			}
		}
	}
	walk(n.Input(0))
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.String()))
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// Deallocate releases the download buffers.
func (n *Writer) Deallocate() {
	if n.dl != nil {
		n.dl.Deallocate()
	}
	n.BaseNode.Deallocate()
}

// Destroy releases the downloader.
func (n *Writer) Destroy() {
	if n.dl != nil {
		n.dl.Destroy()
		n.dl = nil
	}
	n.BaseNode.Destroy()
}
