// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package encode

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/x448/float16"
)

// OpenEXR constants for single-part scanline files.
const (
	exrMagic       = 20000630
	exrVersion     = 2
	exrPixelHalf   = 1
	exrNoCompress  = 0
	exrIncreasingY = 0
)

// exrChannels are stored in alphabetical order, as the format requires,
// with the byte offset of each channel within an RGBA16 pixel.
var exrChannels = []struct {
	name   string
	offset int
}{{"A", 6}, {"B", 4}, {"G", 2}, {"R", 0}}

// writeEXR writes an uncompressed half-float RGBA image from little-endian
// RGBA16 unorm pixels.
func writeEXR(w io.Writer, width, height int, pix []byte) error {
	var hdr bytes.Buffer
	le := func(v any) { _ = binary.Write(&hdr, binary.LittleEndian, v) }
	attr := func(name, typ string, size int) {
		hdr.WriteString(name)
		hdr.WriteByte(0)
		hdr.WriteString(typ)
		hdr.WriteByte(0)
		le(int32(size))
	}

	le(uint32(exrMagic))
	le(uint32(exrVersion))

	chlist := 1
	for _, c := range exrChannels {
		chlist += len(c.name) + 1 + 16
	}
	attr("channels", "chlist", chlist)
	for _, c := range exrChannels {
		hdr.WriteString(c.name)
		hdr.WriteByte(0)
		le(int32(exrPixelHalf))
		hdr.Write([]byte{0, 0, 0, 0}) // pLinear + reserved
		le(int32(1))                  // x sampling
		le(int32(1))                  // y sampling
	}
	hdr.WriteByte(0)

	attr("compression", "compression", 1)
	hdr.WriteByte(exrNoCompress)
	box := []int32{0, 0, int32(width - 1), int32(height - 1)}
	attr("dataWindow", "box2i", 16)
	le(box)
	attr("displayWindow", "box2i", 16)
	le(box)
	attr("lineOrder", "lineOrder", 1)
	hdr.WriteByte(exrIncreasingY)
	attr("pixelAspectRatio", "float", 4)
	le(float32(1))
	attr("screenWindowCenter", "v2f", 8)
	le([2]float32{0, 0})
	attr("screenWindowWidth", "float", 4)
	le(float32(1))
	hdr.WriteByte(0)

	lineBytes := width * len(exrChannels) * 2
	blockBytes := 8 + lineBytes
	first := uint64(hdr.Len() + 8*height)
	for y := range height {
		le(first + uint64(y*blockBytes))
	}
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	block := make([]byte, blockBytes)
	for y := range height {
		binary.LittleEndian.PutUint32(block[0:], uint32(y))
		binary.LittleEndian.PutUint32(block[4:], uint32(lineBytes))
		out := block[8:]
		for ci, c := range exrChannels {
			for x := range width {
				u := binary.LittleEndian.Uint16(pix[(y*width+x)*8+c.offset:])
				h := float16.Fromfloat32(float32(u) / math.MaxUint16)
				binary.LittleEndian.PutUint16(out[(ci*width+x)*2:], h.Bits())
			}
		}
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}
