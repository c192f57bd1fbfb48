// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shaders holds the compute kernels shipped with imgraph.
//
// Every kernel is identified by a path such as "color/saturation" and comes
// in two forms: WGSL source embedded from wgsl/<path>.wgsl for GPU backends,
// and a host reference implementation for the software backend. Both read
// the same push-constant block, so a node records identical dispatches on
// every device.
//
// # Binding convention
//
// Slot 0 is the input image (read), slot 1 is the output image or buffer
// (write). GPU backends shift slots by one and bind the push-constant
// block as a uniform buffer at binding 0.
//
// # Push-constant header
//
// Image kernels start with u32 width, height, out_width, out_height
// (bytes 0..15), followed by the node parameters. Download kernels use
// u32 width, height, words, stride.
package shaders

import (
	"embed"
	"fmt"
	"sort"

	"github.com/gogpu/imgraph/gpucore"
)

//go:embed wgsl
var sources embed.FS

// Kernel paths.
const (
	PathSaturation     = "color/saturation"
	PathExposure       = "color/exposure"
	PathGamma          = "color/gamma"
	PathConvert        = "color/convert"
	PathReinhard       = "tone/reinhard"
	PathResize         = "geometry/resize"
	PathDownloadRGBA8  = "convert/download_rgba8"
	PathDownloadRGBX8  = "convert/download_rgbx8"
	PathDownloadRGBA16 = "convert/download_rgba16"
	PathDownloadI420   = "convert/download_i420"
)

// HeaderSize is the size of the image kernel push-constant header.
const HeaderSize = 16

// Workgroup sizes.
var (
	// ImageWorkgroup is used by 2D kernels.
	ImageWorkgroup = [3]uint32{8, 8, 1}
	// LinearWorkgroup is used by kernels that process a flat word range.
	LinearWorkgroup = [3]uint32{64, 1, 1}
)

// Shader describes one shipped kernel.
type Shader struct {
	Path          string
	EntryPoint    string
	WorkgroupSize [3]uint32
	Bindings      []gpucore.BindingLayout
	Host          gpucore.HostKernel
}

var imageBindings = []gpucore.BindingLayout{
	{Slot: 0, Kind: gpucore.BindingImageRead},
	{Slot: 1, Kind: gpucore.BindingImageWrite},
}

var downloadBindings = []gpucore.BindingLayout{
	{Slot: 0, Kind: gpucore.BindingImageRead},
	{Slot: 1, Kind: gpucore.BindingBufferWrite},
}

var table = map[string]Shader{
	PathSaturation:     {Path: PathSaturation, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: pixelKernel(saturate)},
	PathExposure:       {Path: PathExposure, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: pixelKernel(expose)},
	PathGamma:          {Path: PathGamma, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: pixelKernel(gamma)},
	PathConvert:        {Path: PathConvert, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: pixelKernel(convertTransfer)},
	PathReinhard:       {Path: PathReinhard, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: pixelKernel(reinhard)},
	PathResize:         {Path: PathResize, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: imageBindings, Host: resize},
	PathDownloadRGBA8:  {Path: PathDownloadRGBA8, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: downloadBindings, Host: packRGBA8(false)},
	PathDownloadRGBX8:  {Path: PathDownloadRGBX8, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: downloadBindings, Host: packRGBA8(true)},
	PathDownloadRGBA16: {Path: PathDownloadRGBA16, EntryPoint: "main", WorkgroupSize: ImageWorkgroup, Bindings: downloadBindings, Host: packRGBA16},
	PathDownloadI420:   {Path: PathDownloadI420, EntryPoint: "main", WorkgroupSize: LinearWorkgroup, Bindings: downloadBindings, Host: packI420},
}

// Lookup returns the shader registered at path.
func Lookup(path string) (Shader, error) {
	s, ok := table[path]
	if !ok {
		return Shader{}, fmt.Errorf("shaders: unknown kernel %q", path)
	}
	return s, nil
}

// Paths returns all kernel paths in sorted order.
func Paths() []string {
	paths := make([]string, 0, len(table))
	for p := range table {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Source returns the embedded WGSL source of the shader.
func (s Shader) Source() (string, error) {
	b, err := sources.ReadFile("wgsl/" + s.Path + ".wgsl")
	if err != nil {
		return "", fmt.Errorf("shaders: %s: %w", s.Path, err)
	}
	return string(b), nil
}

// Desc builds a kernel descriptor with the given push-constant size.
func (s Shader) Desc(label string, pushSize uint32) (*gpucore.KernelDesc, error) {
	src, err := s.Source()
	if err != nil {
		return nil, err
	}
	return &gpucore.KernelDesc{
		Label:         label,
		Path:          s.Path,
		EntryPoint:    s.EntryPoint,
		Source:        src,
		Host:          s.Host,
		WorkgroupSize: s.WorkgroupSize,
		Bindings:      append([]gpucore.BindingLayout(nil), s.Bindings...),
		PushSize:      pushSize,
	}, nil
}
