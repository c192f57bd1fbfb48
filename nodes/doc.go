// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package nodes provides the built-in node types.
//
// Color and geometry nodes are single-kernel transforms. File and Pattern
// are sources that upload host pixels. Writer and Capture download the
// frame result to the host.
//
// Register adds every type to a registry:
//
//	r := imgraph.NewRegistry()
//	if err := nodes.Register(r); err != nil {
//		return err
//	}
package nodes

import "github.com/gogpu/imgraph"

// Node type tags beyond the ones imgraph defines.
const (
	TagTone     imgraph.Tag = "tone"
	TagGeometry imgraph.Tag = "geometry"
)

// MaxDimension bounds image width and height parameters.
const MaxDimension = 16384
