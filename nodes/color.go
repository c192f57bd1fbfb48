// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/shaders"
)

var colorTags = []imgraph.Tag{imgraph.TagImage, imgraph.TagColor}

// Saturation scales chroma around Rec. 709 luma. Amount 1 is the identity
// and 0 produces grayscale.
type Saturation struct {
	imgraph.SingleKernel
}

// NewSaturation creates a saturation node.
func NewSaturation() *Saturation {
	return &Saturation{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{Path: shaders.PathSaturation},
		colorTags,
		imgraph.FloatParam("amount", 1, 0, 1),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Saturation) Clone() imgraph.Node {
	return &Saturation{SingleKernel: n.CloneSingleKernel()}
}

// Exposure multiplies linear color by 2^stops.
type Exposure struct {
	imgraph.SingleKernel
}

// NewExposure creates an exposure node.
func NewExposure() *Exposure {
	return &Exposure{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{Path: shaders.PathExposure},
		colorTags,
		imgraph.FloatParam("stops", 0, -16, 16),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Exposure) Clone() imgraph.Node {
	return &Exposure{SingleKernel: n.CloneSingleKernel()}
}

// Gamma raises color to 1/gamma.
type Gamma struct {
	imgraph.SingleKernel
}

// NewGamma creates a gamma node.
func NewGamma() *Gamma {
	return &Gamma{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{Path: shaders.PathGamma},
		colorTags,
		imgraph.FloatParam("gamma", 1, 0.1, 10),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Gamma) Clone() imgraph.Node {
	return &Gamma{SingleKernel: n.CloneSingleKernel()}
}

// Tonemap applies the Reinhard operator, blended with the input by
// strength.
type Tonemap struct {
	imgraph.SingleKernel
}

// NewTonemap creates a tone mapping node.
func NewTonemap() *Tonemap {
	return &Tonemap{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{Path: shaders.PathReinhard},
		[]imgraph.Tag{imgraph.TagImage, TagTone},
		imgraph.FloatParam("strength", 1, 0, 1),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Tonemap) Clone() imgraph.Node {
	return &Tonemap{SingleKernel: n.CloneSingleKernel()}
}

// Transfer modes of the Convert node, in push-constant index order.
const (
	TransferSRGBToLinear = "srgb_to_linear"
	TransferLinearToSRGB = "linear_to_srgb"
)

// Convert switches between sRGB-encoded and linear color.
type Convert struct {
	imgraph.SingleKernel
}

// NewConvert creates a transfer function conversion node.
func NewConvert() *Convert {
	return &Convert{SingleKernel: imgraph.NewSingleKernel(
		imgraph.SingleKernelSpec{Path: shaders.PathConvert},
		colorTags,
		imgraph.EnumParam("mode", TransferLinearToSRGB, TransferSRGBToLinear, TransferLinearToSRGB),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *Convert) Clone() imgraph.Node {
	return &Convert{SingleKernel: n.CloneSingleKernel()}
}
