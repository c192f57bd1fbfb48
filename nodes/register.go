// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"errors"

	"github.com/gogpu/imgraph"
)

// Types returns the built-in node types. Each type is tagged with its
// prototype's tags plus any lookup aliases.
func Types() []imgraph.NodeType {
	return []imgraph.NodeType{
		nodeType("file", "decode an image file", NewFile(), "decode"),
		nodeType("pattern", "generate a test pattern", NewPattern()),
		nodeType("saturation", "scale chroma around luma", NewSaturation()),
		nodeType("exposure", "multiply by 2^stops", NewExposure()),
		nodeType("gamma", "apply a power curve", NewGamma()),
		nodeType("convert", "convert between sRGB and linear", NewConvert(), "transfer"),
		nodeType("tonemap", "Reinhard tone mapping", NewTonemap()),
		nodeType("resize", "bilinear resize", NewResize()),
		nodeType("writer", "encode frames to files", NewWriter(), "encode"),
		nodeType("capture", "keep the last frame in memory", NewCapture()),
	}
}

func nodeType(name, desc string, proto imgraph.Node, aliases ...imgraph.Tag) imgraph.NodeType {
	return imgraph.NodeType{
		Name:        name,
		Tags:        append(proto.Tags(), aliases...),
		Prototype:   proto,
		Description: desc,
	}
}

// Register adds the built-in node types to r. Every failure is reported.
func Register(r *imgraph.Registry) error {
	var errs []error
	for _, t := range Types() {
		if err := r.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
