// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/shaders"
)

// Resize scales its input with bilinear filtering. A zero width or height
// is derived from the other dimension, keeping the input aspect ratio;
// both zero keep the input size.
type Resize struct {
	imgraph.SingleKernel
}

// NewResize creates a resize node.
func NewResize() *Resize {
	return &Resize{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{
			Path:       shaders.PathResize,
			Push:       []string{},
			OutputSize: resizeOutput,
		},
		[]imgraph.Tag{imgraph.TagImage, TagGeometry},
		imgraph.IntParam("width", 0, 0, MaxDimension),
		imgraph.IntParam("height", 0, 0, MaxDimension),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Resize) Clone() imgraph.Node {
	return &Resize{SingleKernel: n.CloneSingleKernel()}
}

func resizeOutput(n *imgraph.SingleKernel, w, h int) (int, int) {
	ow, oh := int(n.Param("width").Int()), int(n.Param("height").Int())
	switch {
	case ow == 0 && oh == 0:
		return w, h
	case ow == 0:
		return max(1, (w*oh+h/2)/h), oh
	case oh == 0:
		return ow, max(1, (h*ow+w/2)/w)
	}
	return ow, oh
}
