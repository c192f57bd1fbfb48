// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"fmt"

	"github.com/gogpu/imgraph/gpucore"
)

// Image is a device image with declared dimensions and format.
//
// Construction only declares the image; Allocate binds device memory and
// Deallocate releases it, so the same *Image can be re-acquired (and
// resized) across frames while kernels keep referring to it.
type Image struct {
	label  string
	width  int
	height int
	format gpucore.Format

	dev gpucore.Device
	id  gpucore.ImageID
}

// NewImage declares an image.
func NewImage(label string, width, height int, format gpucore.Format) *Image {
	return &Image{label: label, width: width, height: height, format: format}
}

// Label returns the debug label.
func (img *Image) Label() string { return img.label }

// Width returns the width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the height in pixels.
func (img *Image) Height() int { return img.height }

// Size returns width and height.
func (img *Image) Size() (int, int) { return img.width, img.height }

// Format returns the storage format.
func (img *Image) Format() gpucore.Format { return img.format }

// ID returns the device handle, or gpucore.InvalidID when not allocated.
func (img *Image) ID() gpucore.ImageID { return img.id }

// Allocated reports whether device memory is bound.
func (img *Image) Allocated() bool { return img.dev != nil }

// Allocate binds device memory.
func (img *Image) Allocate(dev gpucore.Device) error {
	if img.dev != nil {
		return fmt.Errorf("image %q: %w", img.label, ErrAlreadyAllocated)
	}
	if img.width <= 0 || img.height <= 0 {
		return resourceError(img.label, fmt.Errorf("invalid size %dx%d", img.width, img.height))
	}
	id, err := dev.CreateImage(&gpucore.ImageDesc{
		Label:  img.label,
		Width:  uint32(img.width),
		Height: uint32(img.height),
		Format: img.format,
	})
	if err != nil {
		return resourceError("image "+img.label, err)
	}
	img.dev, img.id = dev, id
	return nil
}

// Deallocate releases device memory. It is a no-op when not allocated.
func (img *Image) Deallocate() {
	if img.dev == nil {
		return
	}
	img.dev.DestroyImage(img.id)
	img.dev, img.id = nil, gpucore.InvalidID
}

// Resize changes the declared size. The image must not be allocated.
func (img *Image) Resize(width, height int) error {
	if img.dev != nil {
		return fmt.Errorf("image %q: resize while allocated: %w", img.label, ErrAlreadyAllocated)
	}
	img.width, img.height = width, height
	return nil
}

// Upload writes RGBA float pixels, width*height*4 values.
func (img *Image) Upload(pix []float32) error {
	if img.dev == nil {
		return fmt.Errorf("image %q: %w", img.label, ErrNotAllocated)
	}
	if err := img.dev.WriteImage(img.id, pix); err != nil {
		return resourceError("upload "+img.label, err)
	}
	return nil
}

// Buffer usages.
const (
	// BufferDevice is a device-local buffer written by kernels and copied from.
	BufferDevice = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc
	// BufferHostVisible is a staging buffer copied into and read by the host.
	BufferHostVisible = gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead
)

// Buffer is a device buffer with the same two-phase lifetime as Image.
type Buffer struct {
	label string
	size  uint64
	usage gpucore.BufferUsage

	dev gpucore.Device
	id  gpucore.BufferID
}

// NewBuffer declares a buffer.
func NewBuffer(label string, size uint64, usage gpucore.BufferUsage) *Buffer {
	return &Buffer{label: label, size: size, usage: usage}
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// ID returns the device handle, or gpucore.InvalidID when not allocated.
func (b *Buffer) ID() gpucore.BufferID { return b.id }

// Allocated reports whether device memory is bound.
func (b *Buffer) Allocated() bool { return b.dev != nil }

// Allocate binds device memory.
func (b *Buffer) Allocate(dev gpucore.Device) error {
	if b.dev != nil {
		return fmt.Errorf("buffer %q: %w", b.label, ErrAlreadyAllocated)
	}
	id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: b.label, Size: b.size, Usage: b.usage})
	if err != nil {
		return resourceError("buffer "+b.label, err)
	}
	b.dev, b.id = dev, id
	return nil
}

// Deallocate releases device memory. It is a no-op when not allocated.
func (b *Buffer) Deallocate() {
	if b.dev == nil {
		return
	}
	b.dev.DestroyBuffer(b.id)
	b.dev, b.id = nil, gpucore.InvalidID
}

// Read copies the buffer contents into dst. The fence guarding the work
// that wrote the buffer must have signaled, otherwise Read returns
// ErrNotReady without touching device memory.
func (b *Buffer) Read(fence *Fence, dst []byte) error {
	if b.dev == nil {
		return fmt.Errorf("buffer %q: %w", b.label, ErrNotAllocated)
	}
	if !b.usage.Has(gpucore.BufferUsageMapRead) {
		return fmt.Errorf("buffer %q is not host visible: %w", b.label, ErrResource)
	}
	if fence == nil {
		return fmt.Errorf("buffer %q: read without fence: %w", b.label, ErrNotReady)
	}
	ok, err := fence.Signaled()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("buffer %q: %w", b.label, ErrNotReady)
	}
	if err := b.dev.ReadBuffer(b.id, 0, dst); err != nil {
		return runtimeError("read_buffer", "", err)
	}
	return nil
}
