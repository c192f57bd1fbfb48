// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaders

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/imgraph/gpucore"
)

// Rec. 709 luma weights.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

func luma(c [4]float32) float32 {
	return lumaR*c[0] + lumaG*c[1] + lumaB*c[2]
}

// pixelFunc maps one input pixel to one output pixel. Parameters are read
// from the push block past HeaderSize.
type pixelFunc func(inv *gpucore.HostInvocation, c [4]float32) [4]float32

// pixelKernel runs fn over every output pixel of a same-size image kernel.
func pixelKernel(fn pixelFunc) gpucore.HostKernel {
	return func(inv *gpucore.HostInvocation) error {
		src, err := inv.Image(0)
		if err != nil {
			return err
		}
		dst, err := inv.Image(1)
		if err != nil {
			return err
		}
		w, h := int(inv.Uint32(8)), int(inv.Uint32(12))
		if w > dst.Width || h > dst.Height || w > src.Width || h > src.Height {
			return fmt.Errorf("extent %dx%d exceeds images %dx%d -> %dx%d", w, h, src.Width, src.Height, dst.Width, dst.Height)
		}
		inv.Rows(h, func(y int) {
			for x := 0; x < w; x++ {
				dst.Set(x, y, fn(inv, src.At(x, y)))
			}
		})
		return nil
	}
}

func saturate(inv *gpucore.HostInvocation, c [4]float32) [4]float32 {
	amount := inv.Float32(HeaderSize)
	l := luma(c) * (1 - amount)
	return [4]float32{c[0]*amount + l, c[1]*amount + l, c[2]*amount + l, c[3]}
}

func expose(inv *gpucore.HostInvocation, c [4]float32) [4]float32 {
	k := float32(math.Exp2(float64(inv.Float32(HeaderSize))))
	return [4]float32{c[0] * k, c[1] * k, c[2] * k, c[3]}
}

func gamma(inv *gpucore.HostInvocation, c [4]float32) [4]float32 {
	e := 1 / float64(inv.Float32(HeaderSize))
	p := func(v float32) float32 {
		return float32(math.Pow(math.Max(float64(v), 0), e))
	}
	return [4]float32{p(c[0]), p(c[1]), p(c[2]), c[3]}
}

func reinhard(inv *gpucore.HostInvocation, c [4]float32) [4]float32 {
	s := inv.Float32(HeaderSize)
	t := func(v float32) float32 {
		v = max(v, 0)
		return v + (v/(1+v)-v)*s
	}
	return [4]float32{t(c[0]), t(c[1]), t(c[2]), c[3]}
}

// Transfer modes of color/convert.
const (
	ModeSRGBToLinear = 0
	ModeLinearToSRGB = 1
)

func convertTransfer(inv *gpucore.HostInvocation, c [4]float32) [4]float32 {
	f := SRGBToLinear
	if inv.Uint32(HeaderSize) == ModeLinearToSRGB {
		f = LinearToSRGB
	}
	return [4]float32{f(c[0]), f(c[1]), f(c[2]), c[3]}
}

// SRGBToLinear applies the inverse sRGB transfer function.
func SRGBToLinear(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow((float64(v)+0.055)/1.055, 2.4))
}

// LinearToSRGB applies the sRGB transfer function.
func LinearToSRGB(v float32) float32 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return float32(1.055*math.Pow(float64(v), 1/2.4) - 0.055)
}

func resize(inv *gpucore.HostInvocation) error {
	src, err := inv.Image(0)
	if err != nil {
		return err
	}
	dst, err := inv.Image(1)
	if err != nil {
		return err
	}
	w, h := int(inv.Uint32(0)), int(inv.Uint32(4))
	ow, oh := int(inv.Uint32(8)), int(inv.Uint32(12))
	if w > src.Width || h > src.Height || ow > dst.Width || oh > dst.Height || w == 0 || h == 0 {
		return fmt.Errorf("resize %dx%d -> %dx%d does not fit images", w, h, ow, oh)
	}

	texel := func(x, y int) [4]float32 {
		return src.At(min(max(x, 0), w-1), min(max(y, 0), h-1))
	}
	lerp := func(a, b [4]float32, t float32) [4]float32 {
		return [4]float32{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t, a[2] + (b[2]-a[2])*t, a[3] + (b[3]-a[3])*t}
	}
	inv.Rows(oh, func(y int) {
		sy := (float32(y)+0.5)*float32(h)/float32(oh) - 0.5
		y0 := int(math.Floor(float64(sy)))
		fy := sy - float32(y0)
		for x := 0; x < ow; x++ {
			sx := (float32(x)+0.5)*float32(w)/float32(ow) - 0.5
			x0 := int(math.Floor(float64(sx)))
			fx := sx - float32(x0)
			top := lerp(texel(x0, y0), texel(x0+1, y0), fx)
			bottom := lerp(texel(x0, y0+1), texel(x0+1, y0+1), fx)
			dst.Set(x, y, lerp(top, bottom, fy))
		}
	})
	return nil
}

// unorm quantizes v in [0,1] to an n-bit value with round-half-up, matching
// WGSL pack4x8unorm / pack2x16unorm.
func unorm(v float32, maxv float32) uint32 {
	v = min(max(v, 0), 1)
	return uint32(math.Floor(float64(v*maxv) + 0.5))
}

// downloadImage validates a download invocation and returns its source and
// destination.
func downloadImage(inv *gpucore.HostInvocation) (*gpucore.HostImage, []byte, int, int, error) {
	src, err := inv.Image(0)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	dst, err := inv.Buffer(1)
	if err != nil {
		return nil, nil, 0, 0, err
	}
	w, h := int(inv.Uint32(0)), int(inv.Uint32(4))
	if w > src.Width || h > src.Height {
		return nil, nil, 0, 0, fmt.Errorf("download %dx%d exceeds image %dx%d", w, h, src.Width, src.Height)
	}
	if words := int(inv.Uint32(8)); words*4 > len(dst) {
		return nil, nil, 0, 0, fmt.Errorf("download needs %d bytes, buffer has %d", words*4, len(dst))
	}
	return src, dst, w, h, nil
}

func packRGBA8(opaque bool) gpucore.HostKernel {
	return func(inv *gpucore.HostInvocation) error {
		src, dst, w, h, err := downloadImage(inv)
		if err != nil {
			return err
		}
		inv.Rows(h, func(y int) {
			for x := 0; x < w; x++ {
				c := src.At(x, y)
				if opaque {
					c[3] = 1
				}
				i := (y*w + x) * 4
				for ch := range 4 {
					dst[i+ch] = byte(unorm(c[ch], 255))
				}
			}
		})
		return nil
	}
}

func packRGBA16(inv *gpucore.HostInvocation) error {
	src, dst, w, h, err := downloadImage(inv)
	if err != nil {
		return err
	}
	inv.Rows(h, func(y int) {
		for x := 0; x < w; x++ {
			c := src.At(x, y)
			i := (y*w + x) * 8
			for ch := range 4 {
				binary.LittleEndian.PutUint16(dst[i+ch*2:], uint16(unorm(c[ch], 65535)))
			}
		}
	})
	return nil
}

func packI420(inv *gpucore.HostInvocation) error {
	src, dst, w, h, err := downloadImage(inv)
	if err != nil {
		return err
	}
	cw, ch := (w+1)/2, (h+1)/2
	ysize := w * h

	pixel := func(x, y int) [3]float32 {
		c := src.At(min(x, w-1), min(y, h-1))
		return [3]float32{min(max(c[0], 0), 1), min(max(c[1], 0), 1), min(max(c[2], 0), 1)}
	}
	toByte := func(v float32) byte {
		return byte(min(max(math.Floor(float64(v)+0.5), 0), 255))
	}

	inv.Rows(h, func(y int) {
		for x := 0; x < w; x++ {
			p := pixel(x, y)
			dst[y*w+x] = toByte(16 + 219*(lumaR*p[0]+lumaG*p[1]+lumaB*p[2]))
		}
	})
	inv.Rows(ch, func(by int) {
		for bx := 0; bx < cw; bx++ {
			var c [3]float32
			for _, p := range [4][3]float32{pixel(bx*2, by*2), pixel(bx*2+1, by*2), pixel(bx*2, by*2+1), pixel(bx*2+1, by*2+1)} {
				c[0] += p[0]
				c[1] += p[1]
				c[2] += p[2]
			}
			c[0], c[1], c[2] = c[0]*0.25, c[1]*0.25, c[2]*0.25
			l := lumaR*c[0] + lumaG*c[1] + lumaB*c[2]
			m := by*cw + bx
			dst[ysize+m] = toByte(128 + 224*(c[2]-l)/1.8556)
			dst[ysize+cw*ch+m] = toByte(128 + 224*(c[0]-l)/1.5748)
		}
	})
	return nil
}
