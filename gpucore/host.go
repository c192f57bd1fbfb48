// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HostKernel is the CPU reference implementation of a kernel.
// It mirrors the WGSL shader with the same path and is executed by the
// software backend, one call per dispatch.
type HostKernel func(inv *HostInvocation) error

// HostImage is the host view of a device image.
// Pixels are stored as RGBA float32, row-major, regardless of the declared
// storage format.
type HostImage struct {
	Width  int
	Height int
	Format Format
	Pix    []float32
}

// At returns the RGBA value of pixel (x, y).
func (img *HostImage) At(x, y int) [4]float32 {
	i := (y*img.Width + x) * 4
	return [4]float32{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

// Set stores the RGBA value of pixel (x, y).
func (img *HostImage) Set(x, y int, c [4]float32) {
	i := (y*img.Width + x) * 4
	img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c[0], c[1], c[2], c[3]
}

// HostInvocation carries the resources of one dispatch to a HostKernel.
type HostInvocation struct {
	// Images are the bound images, by slot.
	Images map[uint32]*HostImage

	// Buffers are the bound buffers, by slot.
	Buffers map[uint32][]byte

	// Push is the push-constant block.
	Push []byte

	// Groups is the dispatched workgroup count.
	Groups [3]uint32

	// WorkgroupSize is the kernel's workgroup size.
	WorkgroupSize [3]uint32

	// Parallel runs fn over [0, n) split into contiguous ranges, possibly
	// concurrently. Backends set it; nil means sequential.
	Parallel func(n int, fn func(lo, hi int))
}

// Image returns the image bound at slot.
func (inv *HostInvocation) Image(slot uint32) (*HostImage, error) {
	img, ok := inv.Images[slot]
	if !ok || img == nil {
		return nil, fmt.Errorf("gpucore: no image bound at slot %d", slot)
	}
	return img, nil
}

// Buffer returns the buffer bound at slot.
func (inv *HostInvocation) Buffer(slot uint32) ([]byte, error) {
	buf, ok := inv.Buffers[slot]
	if !ok {
		return nil, fmt.Errorf("gpucore: no buffer bound at slot %d", slot)
	}
	return buf, nil
}

// Uint32 reads a little-endian u32 push constant at a byte offset.
func (inv *HostInvocation) Uint32(offset int) uint32 {
	if offset < 0 || offset+4 > len(inv.Push) {
		return 0
	}
	return binary.LittleEndian.Uint32(inv.Push[offset:])
}

// Float32 reads a little-endian f32 push constant at a byte offset.
func (inv *HostInvocation) Float32(offset int) float32 {
	return math.Float32frombits(inv.Uint32(offset))
}

// Extent returns the number of invocations covered by the dispatch in x and y.
func (inv *HostInvocation) Extent() (int, int) {
	return int(inv.Groups[0] * inv.WorkgroupSize[0]), int(inv.Groups[1] * inv.WorkgroupSize[1])
}

// Rows runs fn for every row in [0, n), using Parallel when set.
func (inv *HostInvocation) Rows(n int, fn func(y int)) {
	body := func(lo, hi int) {
		for y := lo; y < hi; y++ {
			fn(y)
		}
	}
	if inv.Parallel == nil {
		body(0, n)
		return
	}
	inv.Parallel(n, body)
}
