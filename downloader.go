// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"fmt"
	"strings"

	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/shaders"
)

// DownloadFormat is the host pixel layout produced by a Downloader.
type DownloadFormat int

// Download formats.
const (
	// FormatI420 is planar 4:2:0 8-bit YUV (BT.709, limited range).
	FormatI420 DownloadFormat = iota + 1
	// FormatRGBA16 is 16-bit RGBA, little endian.
	FormatRGBA16
	// FormatRGBA8 is 8-bit RGBA.
	FormatRGBA8
	// FormatRGBX8 is 8-bit RGB padded to four channels, alpha forced opaque.
	FormatRGBX8
)

// String returns the string representation of the format.
func (f DownloadFormat) String() string {
	switch f {
	case FormatI420:
		return "i420"
	case FormatRGBA16:
		return "rgba16"
	case FormatRGBA8:
		return "rgba8"
	case FormatRGBX8:
		return "rgbx8"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// ParseDownloadFormat parses a format name as returned by String.
func ParseDownloadFormat(s string) (DownloadFormat, error) {
	for _, f := range []DownloadFormat{FormatI420, FormatRGBA16, FormatRGBA8, FormatRGBX8} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("imgraph: unknown download format %q", s)
}

func (f DownloadFormat) kernelPath() string {
	switch f {
	case FormatI420:
		return shaders.PathDownloadI420
	case FormatRGBA16:
		return shaders.PathDownloadRGBA16
	case FormatRGBX8:
		return shaders.PathDownloadRGBX8
	default:
		return shaders.PathDownloadRGBA8
	}
}

// DownloadSize returns the size in bytes of a width x height image in
// format f. I420 chroma planes round odd dimensions up.
func DownloadSize(f DownloadFormat, width, height int) int {
	switch f {
	case FormatI420:
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	case FormatRGBA16:
		return width * height * 8
	case FormatRGBA8, FormatRGBX8:
		return width * height * 4
	default:
		return 0
	}
}

// Download push-constant fields.
const (
	pushWords  = "words"
	pushStride = "stride"
	pushStep   = "step"
)

// Downloader converts a device image to a host pixel layout and makes the
// bytes available once the frame fence has signaled.
//
// The conversion kernel lives from Init to Destroy. The device buffer and
// the host-visible staging buffer are per frame: Allocate acquires them and
// Deallocate releases them.
type Downloader struct {
	label  string
	format DownloadFormat

	dev     gpucore.Device
	kernel  *Kernel
	src     *Image
	device  *Buffer
	staging *Buffer
	size    int
}

// NewDownloader creates a downloader for format.
func NewDownloader(label string, format DownloadFormat) *Downloader {
	return &Downloader{label: label, format: format}
}

// Format returns the download format.
func (d *Downloader) Format() DownloadFormat { return d.format }

// Size returns the byte size of the current allocation, or 0.
func (d *Downloader) Size() int { return d.size }

// Init creates the conversion kernel.
func (d *Downloader) Init(dev gpucore.Device) error {
	if d.kernel != nil {
		return fmt.Errorf("downloader %q: %w", d.label, ErrAlreadyAllocated)
	}
	if DownloadSize(d.format, 1, 1) == 0 {
		return fmt.Errorf("%w: downloader %q: unsupported format %s", ErrResource, d.label, d.format)
	}
	k, err := NewKernel(d.format.kernelPath(), d.label)
	if err != nil {
		return err
	}
	for _, name := range []string{PushWidth, PushHeight, pushWords, pushStride, pushStep} {
		if err := k.DeclarePush(name, PushUint32); err != nil {
			return err
		}
	}
	if err := k.Create(dev); err != nil {
		return err
	}
	d.dev, d.kernel = dev, k
	return nil
}

// Allocate acquires the device and staging buffers sized for src.
func (d *Downloader) Allocate(src *Image) error {
	if d.kernel == nil {
		return fmt.Errorf("downloader %q: allocate before init: %w", d.label, ErrNotAllocated)
	}
	if d.device != nil {
		return fmt.Errorf("downloader %q: %w", d.label, ErrAlreadyAllocated)
	}
	size := DownloadSize(d.format, src.Width(), src.Height())
	padded := uint64(alignUp(uint32(size), 4))

	device := NewBuffer(d.label+"/device", padded, BufferDevice)
	if err := device.Allocate(d.dev); err != nil {
		return err
	}
	staging := NewBuffer(d.label+"/staging", padded, BufferHostVisible)
	if err := staging.Allocate(d.dev); err != nil {
		device.Deallocate()
		return err
	}
	d.src, d.device, d.staging, d.size = src, device, staging, size
	d.kernel.BindImage(0, src)
	d.kernel.BindBuffer(1, device)
	return nil
}

// Allocated reports whether the per-frame buffers are held.
func (d *Downloader) Allocated() bool { return d.device != nil }

// Commands records the conversion dispatch and the copy to staging.
func (d *Downloader) Commands(cmd *CommandBuffer) error {
	if d.device == nil {
		return fmt.Errorf("downloader %q: %w", d.label, ErrNotAllocated)
	}
	w, h := d.src.Size()
	words := d.device.Size() / 4

	// I420 is dispatched over words. When the words exceed the largest
	// grid, each invocation loops with a step of the grid size.
	var groups [3]uint32
	stride, step := uint32(w), uint32(0)
	if d.format == FormatI420 {
		maxGroups := d.dev.Limits().MaxWorkgroupsPerDimension
		wg := shaders.LinearWorkgroup[0]
		gx := min(ceilDiv(int(words), wg), maxGroups)
		stride = gx * wg
		gy := min(ceilDiv(int(words), stride), maxGroups)
		groups = [3]uint32{gx, gy, 1}
		step = stride * gy
	} else {
		groups = d.kernel.Groups(w, h)
	}

	k := d.kernel
	for _, f := range []struct {
		name string
		v    uint32
	}{{PushWidth, uint32(w)}, {PushHeight, uint32(h)}, {pushWords, uint32(words)}, {pushStride, stride}, {pushStep, step}} {
		if err := k.SetPush(f.name, f.v); err != nil {
			return err
		}
	}
	if err := cmd.Dispatch(k, groups); err != nil {
		return err
	}
	cmd.Barrier()
	return cmd.Copy(d.device, d.staging, d.device.Size())
}

// Main returns the downloaded bytes. It returns ErrNotReady until fence,
// which guards the frame that recorded Commands, has signaled.
func (d *Downloader) Main(fence *Fence) ([]byte, error) {
	if d.staging == nil {
		return nil, fmt.Errorf("downloader %q: %w", d.label, ErrNotAllocated)
	}
	out := make([]byte, d.size)
	if err := d.staging.Read(fence, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Deallocate releases the per-frame buffers. It is a no-op when nothing is
// allocated.
func (d *Downloader) Deallocate() {
	d.device.deallocate()
	d.staging.deallocate()
	d.device, d.staging, d.src, d.size = nil, nil, nil, 0
}

// Destroy releases the buffers and the kernel.
func (d *Downloader) Destroy() {
	d.Deallocate()
	if d.kernel != nil {
		d.kernel.Destroy()
		d.kernel = nil
	}
	d.dev = nil
}

// deallocate is Deallocate tolerating a nil buffer.
func (b *Buffer) deallocate() {
	if b != nil {
		b.Deallocate()
	}
}
