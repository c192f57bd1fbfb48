// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package encode persists downloaded frames.
//
// Encoders consume the host bytes produced by an imgraph.Downloader, laid
// out in the download format that Format.Download names, and write one
// image file per frame.
package encode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/imgraph"
)

// Format is an output file format.
type Format int

// Output formats.
const (
	PNG   Format = iota + 1 // 8-bit RGBA PNG
	PNG16                   // 16-bit RGBA PNG
	JPEG                    // baseline JPEG, alpha dropped
	TIFF                    // 16-bit RGBA TIFF, deflate compressed
	BMP                     // 8-bit RGBA BMP
	EXR                     // half-float RGBA OpenEXR, uncompressed scanlines
	I420                    // raw planar YUV 4:2:0
)

var formatNames = map[Format]string{
	PNG:   "png",
	PNG16: "png16",
	JPEG:  "jpeg",
	TIFF:  "tiff",
	BMP:   "bmp",
	EXR:   "exr",
	I420:  "i420",
}

// String returns the string representation of the format.
func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(%d)", int(f))
}

// Formats returns the format names accepted by ParseFormat, in declaration
// order.
func Formats() []string {
	out := make([]string, 0, len(formatNames))
	for f := PNG; f <= I420; f++ {
		out = append(out, f.String())
	}
	return out
}

// ParseFormat parses a format name as returned by String. "jpg" and "yuv"
// are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	switch s = strings.ToLower(s); s {
	case "jpg":
		return JPEG, nil
	case "tif":
		return TIFF, nil
	case "yuv":
		return I420, nil
	}
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("encode: unknown format %q", s)
}

// FormatForPath picks a format from the file extension of path.
func FormatForPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return 0, fmt.Errorf("encode: %q has no extension", path)
	}
	return ParseFormat(ext)
}

// Download returns the download format the encoder consumes.
func (f Format) Download() imgraph.DownloadFormat {
	switch f {
	case PNG16, TIFF, EXR:
		return imgraph.FormatRGBA16
	case JPEG:
		return imgraph.FormatRGBX8
	case I420:
		return imgraph.FormatI420
	default:
		return imgraph.FormatRGBA8
	}
}

// Options tune encoders that have settings.
type Options struct {
	// Quality is the JPEG quality, 1 to 100. Zero selects jpeg.DefaultQuality.
	Quality int
}

// ErrShortBuffer is returned when the pixel buffer is smaller than the
// image it describes.
var ErrShortBuffer = errors.New("encode: pixel buffer too small")

// Encode writes a width x height image stored in pix to w.
func Encode(w io.Writer, f Format, width, height int, pix []byte, opts Options) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("encode: invalid size %dx%d", width, height)
	}
	if need := imgraph.DownloadSize(f.Download(), width, height); len(pix) < need {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, have %d", ErrShortBuffer, f, width, height, need, len(pix))
	}

	switch f {
	case I420:
		_, err := w.Write(pix[:imgraph.DownloadSize(imgraph.FormatI420, width, height)])
		return err
	case EXR:
		return writeEXR(w, width, height, pix)
	}

	img, err := Image(f.Download(), width, height, pix)
	if err != nil {
		return err
	}
	switch f {
	case PNG, PNG16:
		return png.Encode(w, img)
	case JPEG:
		q := opts.Quality
		if q == 0 {
			q = jpeg.DefaultQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case BMP:
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("encode: unsupported format %s", f)
	}
}

// Image wraps downloaded bytes in an image.Image without copying 8-bit
// data. RGBA16 data is converted from little to big endian.
func Image(f imgraph.DownloadFormat, width, height int, pix []byte) (image.Image, error) {
	if len(pix) < imgraph.DownloadSize(f, width, height) {
		return nil, ErrShortBuffer
	}
	r := image.Rect(0, 0, width, height)
	switch f {
	case imgraph.FormatRGBA8, imgraph.FormatRGBX8:
		return &image.NRGBA{Pix: pix[:width*height*4], Stride: width * 4, Rect: r}, nil
	case imgraph.FormatRGBA16:
		img := image.NewNRGBA64(r)
		for i := 0; i < width*height*4; i++ {
			binary.BigEndian.PutUint16(img.Pix[i*2:], binary.LittleEndian.Uint16(pix[i*2:]))
		}
		return img, nil
	case imgraph.FormatI420:
		cw := (width + 1) / 2
		ysize, csize := width*height, cw*((height+1)/2)
		return &image.YCbCr{
			Y:              pix[:ysize],
			Cb:             pix[ysize : ysize+csize],
			Cr:             pix[ysize+csize : ysize+2*csize],
			YStride:        width,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           r,
		}, nil
	default:
		return nil, fmt.Errorf("encode: unsupported download format %s", f)
	}
}

// WriteFile encodes to path. The file is written under a temporary name in
// the same directory and renamed into place, so readers never observe a
// partial image.
func WriteFile(path string, f Format, width, height int, pix []byte, opts Options) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, f, width, height, pix, opts); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
