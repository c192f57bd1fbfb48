// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	// Decoders registered for image.Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rubenfonseca/fastimage"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/shaders"
)

var sourceTags = []imgraph.Tag{imgraph.TagImage, imgraph.TagSource}

// hostImage is a source output written from host pixels. It is held
// across frames and resized when the pixel dimensions change.
type hostImage struct {
	img *imgraph.Image
}

func (h *hostImage) init(dev gpucore.Device, label string, width, height int) error {
	h.img = imgraph.NewImage(label, width, height, gpucore.FormatRGBA32Float)
	if err := h.img.Allocate(dev); err != nil {
		h.img = nil
		return err
	}
	return nil
}

func (h *hostImage) upload(dev gpucore.Device, width, height int, pix []float32) error {
	if h.img == nil {
		return fmt.Errorf("upload before init: %w", imgraph.ErrNotAllocated)
	}
	if w, ht := h.img.Size(); w != width || ht != height {
		h.img.Deallocate()
		if err := h.img.Resize(width, height); err != nil {
			return err
		}
		if err := h.img.Allocate(dev); err != nil {
			return err
		}
	}
	return h.img.Upload(pix)
}

func (h *hostImage) destroy() {
	if h.img != nil {
		h.img.Deallocate()
		h.img = nil
	}
}

// File decodes an image file and uploads it as linear RGBA float. PNG,
// JPEG, GIF, BMP, TIFF and WebP are supported.
//
// Decoded pixels are cached until the path or the linear flag changes, so
// re-executions triggered by the setup pass do not touch the disk.
type File struct {
	imgraph.BaseNode
	out hostImage

	key    string
	pix    []float32
	width  int
	height int
}

// NewFile creates a file source.
func NewFile() *File {
	return &File{BaseNode: imgraph.NewBaseNode(sourceTags, nil,
		imgraph.StringParam("path", "").WithValidator(checkImageFile),
		imgraph.BoolParam("linear", true),
	)}
}

// Clone returns an unbuilt copy with default parameters.
func (n *File) Clone() imgraph.Node {
	return &File{BaseNode: n.CloneBase()}
}

// checkImageFile rejects paths that do not name a readable image, judging
// by the file header only.
func checkImageFile(v any) error {
	path, _ := v.(string)
	if path == "" {
		return errors.New("empty path")
	}
	_, _, err := probeImage(path)
	return err
}

// probeImage reads the image size from the file header.
func probeImage(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	_, size, err := fastimage.DetectImageTypeFromReader(f)
	if err == nil && size != nil {
		return int(size.Width), int(size.Height), nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// OutputImage returns the uploaded image, or nil before Init.
func (n *File) OutputImage() *imgraph.Image { return n.out.img }

// Init allocates the output at the size recorded in the file header, or
// 1x1 when no path has been committed yet.
func (n *File) Init(ctx *imgraph.BuildContext) error {
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}
	w, h := 1, 1
	if path := n.Param("path").Text(); path != "" {
		if pw, ph, err := probeImage(path); err == nil {
			w, h = pw, ph
		}
	}
	if err := n.out.init(ctx.Device, n.ID()+"/out", w, h); err != nil {
		n.BaseNode.Destroy()
		return err
	}
	return nil
}

// Commands decodes the file when needed and uploads it.
func (n *File) Commands(*imgraph.CommandBuffer, int, int) error {
	path := n.Param("path").Text()
	if path == "" {
		return fmt.Errorf("node %q: no file path", n.ID())
	}
	linear := n.Param("linear").Bool()
	key := fmt.Sprintf("%s\x00%t", path, linear)
	if key != n.key {
		pix, w, h, err := decodeFile(path, linear)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.ID(), err)
		}
		n.pix, n.width, n.height, n.key = pix, w, h, key
		n.Logger().Debug("nodes: decoded", "path", path, "w", w, "h", h)
	}
	return n.out.upload(n.Device(), n.width, n.height, n.pix)
}

// Destroy releases the output image and the cached pixels.
func (n *File) Destroy() {
	n.out.destroy()
	n.pix, n.key = nil, ""
	n.BaseNode.Destroy()
}

// decodeFile decodes path to straight-alpha RGBA float. Color channels are
// converted from sRGB to linear when linear is set.
func decodeFile(path string, linear bool) ([]float32, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > MaxDimension || h > MaxDimension {
		return nil, 0, 0, fmt.Errorf("decode %s: %dx%d exceeds %d", path, w, h, MaxDimension)
	}

	pix := make([]float32, w*h*4)
	for y := range h {
		for x := range w {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*w + x) * 4
			rgb := [3]uint16{c.R, c.G, c.B}
			for ch, v := range rgb {
				fv := float32(v) / 0xffff
				if linear {
					fv = shaders.SRGBToLinear(fv)
				}
				pix[i+ch] = fv
			}
			pix[i+3] = float32(c.A) / 0xffff
		}
	}
	return pix, w, h, nil
}
