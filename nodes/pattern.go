// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"github.com/gogpu/imgraph"
)

// Pattern kinds.
const (
	PatternSolid   = "solid"
	PatternRamp    = "ramp"
	PatternChecker = "checker"
)

// Pattern generates a synthetic image: a solid color, a horizontal ramp
// from black to color, or a checkerboard of color and black.
type Pattern struct {
	imgraph.BaseNode
	out hostImage
	pix []float32
}

// NewPattern creates a pattern source.
func NewPattern() *Pattern {
	return &Pattern{BaseNode: imgraph.NewBaseNode(sourceTags, nil,
		imgraph.IntParam("width", 256, 1, MaxDimension),
		imgraph.IntParam("height", 256, 1, MaxDimension),
		imgraph.EnumParam("kind", PatternRamp, PatternSolid, PatternRamp, PatternChecker),
		imgraph.Vec4Param("color", imgraph.Vec4{1, 1, 1, 1}),
		imgraph.IntParam("cell", 8, 1, MaxDimension),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Pattern) Clone() imgraph.Node {
	return &Pattern{BaseNode: n.CloneBase()}
}

// OutputImage returns the generated image, or nil before Init.
func (n *Pattern) OutputImage() *imgraph.Image { return n.out.img }

// Init allocates the output at the current size.
func (n *Pattern) Init(ctx *imgraph.BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	w, h := n.size()
	if err := n.out.init(ctx.Device, n.ID()+"/out", w, h); err != nil {
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

func (n *Pattern) size() (int, int) {
	return int(n.Param("width").Int()), int(n.Param("height").Int())
}

// Commands generates and uploads the pattern.
func (n *Pattern) Commands(*imgraph.CommandBuffer, int, int) error {
	w, h := n.size()
	n.pix = fillPattern(n.pix, w, h, n.Param("kind").Text(), n.Param("color").Vec4(), int(n.Param("cell").Int()))
	return n.out.upload(n.Device(), w, h, n.pix)
}

// Destroy releases the output image.
func (n *Pattern) Destroy() {
	n.out.destroy()
	n.pix = nil
	n.BaseNode.Destroy()
}

// fillPattern writes the pattern into buf, growing it as needed.
func fillPattern(buf []float32, w, h int, kind string, c imgraph.Vec4, cell int) []float32 {
	n := w * h * 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for y := range h {
		for x := range w {
			px := c
			switch kind {
			case PatternRamp:
				t := float32(0)
				if w > 1 {
					t = float32(x) / float32(w-1)
				}
				px = imgraph.Vec4{c[0] * t, c[1] * t, c[2] * t, c[3]}
			case PatternChecker:
				if (x/cell+y/cell)%2 == 1 {
					px = imgraph.Vec4{0, 0, 0, c[3]}
				}
			}
			copy(buf[(y*w+x)*4:], px[:])
		}
	}
	return buf
}
