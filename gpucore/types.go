// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent device resources. Each backend maintains a
// mapping between IDs and actual resources. IDs are uint64 to accommodate
// various backend handle sizes.

// ImageID is an opaque handle to a device image.
type ImageID uint64

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// KernelID is an opaque handle to a compiled compute kernel.
type KernelID uint64

// SemaphoreID is an opaque handle to a GPU-GPU ordering signal.
type SemaphoreID uint64

// FenceID is an opaque handle to a GPU-host completion signal.
type FenceID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// Format specifies the storage format of image data.
type Format uint32

// Image formats.
const (
	// FormatRGBA32Float is 32-bit float RGBA, the working format of the graph.
	FormatRGBA32Float Format = iota + 1

	// FormatRGBA16Float is 16-bit float RGBA.
	FormatRGBA16Float

	// FormatRGBA16Unorm is 16-bit RGBA, normalized unsigned integer.
	FormatRGBA16Unorm

	// FormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	FormatRGBA8Unorm
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatRGBA32Float:
		return "rgba32f"
	case FormatRGBA16Float:
		return "rgba16f"
	case FormatRGBA16Unorm:
		return "rgba16"
	case FormatRGBA8Unorm:
		return "rgba8"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// BytesPerPixel returns the storage size of one pixel, or 0 for an unknown format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA32Float:
		return 16
	case FormatRGBA16Float, FormatRGBA16Unorm:
		return 8
	case FormatRGBA8Unorm:
		return 4
	default:
		return 0
	}
}

// Valid reports whether f is one of the known formats.
func (f Format) Valid() bool {
	return f.BytesPerPixel() != 0
}

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageStorage indicates the buffer can be bound to a kernel.
	BufferUsageStorage BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 1

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 2

	// BufferUsageMapRead indicates the buffer is host visible and can be read
	// back once the work writing it has completed.
	BufferUsageMapRead BufferUsage = 1 << 3
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool {
	return u&flag == flag
}

// ImageDesc describes a device image.
type ImageDesc struct {
	// Label is an optional debug label.
	Label string

	// Width is the image width in pixels.
	Width uint32

	// Height is the image height in pixels.
	Height uint32

	// Format is the storage format.
	Format Format
}

// BufferDesc describes a device buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage is the bitmask of allowed usages.
	Usage BufferUsage
}

// BindingKind specifies the type of a kernel binding slot.
type BindingKind uint32

// Binding kinds.
const (
	// BindingImageRead is a read-only image.
	BindingImageRead BindingKind = iota + 1

	// BindingImageWrite is a read-write image.
	BindingImageWrite

	// BindingBufferRead is a read-only buffer.
	BindingBufferRead

	// BindingBufferWrite is a read-write buffer.
	BindingBufferWrite
)

// IsImage reports whether the slot binds an image.
func (k BindingKind) IsImage() bool {
	return k == BindingImageRead || k == BindingImageWrite
}

// String returns the string representation of the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingImageRead:
		return "image(read)"
	case BindingImageWrite:
		return "image(write)"
	case BindingBufferRead:
		return "buffer(read)"
	case BindingBufferWrite:
		return "buffer(write)"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// BindingLayout declares one binding slot of a kernel.
type BindingLayout struct {
	// Slot is the binding index.
	Slot uint32

	// Kind is the type of resource bound at this index.
	Kind BindingKind
}

// Binding binds a resource to a slot for one dispatch.
// Exactly one of Image and Buffer is set, matching the slot kind.
type Binding struct {
	Slot   uint32
	Image  ImageID
	Buffer BufferID
}

// KernelDesc describes a compute kernel.
type KernelDesc struct {
	// Label is an optional debug label.
	Label string

	// Path identifies the shader (for example "color/saturation").
	Path string

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string

	// Source is the WGSL source used by GPU backends.
	Source string

	// Host is the reference implementation used by the software backend.
	Host HostKernel

	// WorkgroupSize is the compute shader's workgroup size.
	WorkgroupSize [3]uint32

	// Bindings declares the binding slots.
	Bindings []BindingLayout

	// PushSize is the size in bytes of the push-constant block.
	PushSize uint32
}

// Limits describes device limits relevant to the engine.
type Limits struct {
	// MaxImageDimension is the largest supported image width or height.
	MaxImageDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxWorkgroupsPerDimension is the maximum dispatch size per dimension.
	MaxWorkgroupsPerDimension uint32

	// MaxPushSize is the maximum push-constant block size.
	MaxPushSize uint32
}

// DefaultLimits returns conservative limits every backend supports.
func DefaultLimits() Limits {
	return Limits{
		MaxImageDimension:         16384,
		MaxBufferSize:             1 << 30,
		MaxWorkgroupsPerDimension: 65535,
		MaxPushSize:               256,
	}
}
