// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/encode"
)

func readImage(t *testing.T, path string, decode func(*os.File) (image.Image, error)) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func pngDecode(f *os.File) (image.Image, error)  { return png.Decode(f) }
func jpegDecode(f *os.File) (image.Image, error) { return jpeg.Decode(f) }

func writerGraph(t *testing.T, params map[string]any) *imgraph.Graph {
	t.Helper()
	return buildGraph(t, &imgraph.Description{Nodes: []imgraph.NodeDesc{
		solid("src", 6, 4, imgraph.Vec4{1, 0.5, 0, 1}),
		{Type: "writer", ID: "out", Inputs: []string{"src"}, Params: params},
	}})
}

func TestWriterPNG(t *testing.T) {
	dir := t.TempDir()
	g := writerGraph(t, map[string]any{"path": filepath.Join(dir, "{node}-{frame}.png")})
	r := mustFrame(t, g)
	if err := g.WaitTasks(); err != nil {
		t.Fatalf("WaitTasks() error = %v", err)
	}

	img := readImage(t, filepath.Join(dir, "out-000001.png"), pngDecode)
	if img.Bounds() != image.Rect(0, 0, 6, 4) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if got := color.NRGBAModel.Convert(img.At(5, 3)); got != (color.NRGBA{255, 128, 0, 255}) {
		t.Errorf("pixel = %v", got)
	}
	if r.Index != 1 {
		t.Errorf("frame index = %d", r.Index)
	}

	// Nothing changed: no frame work, no new file.
	mustFrame(t, g)
	if err := g.WaitTasks(); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 1 {
		t.Errorf("directory holds %d files, want 1", len(entries))
	}
}

func TestWriterContinuous(t *testing.T) {
	dir := t.TempDir()
	g := writerGraph(t, map[string]any{
		"path":       filepath.Join(dir, "f{frame}.bmp"),
		"continuous": true,
	})
	for range 3 {
		r := mustFrame(t, g)
		if len(r.Executed) == 0 {
			t.Fatalf("frame %d executed nothing", r.Index)
		}
	}
	if err := g.WaitTasks(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"f000001.bmp", "f000002.bmp", "f000003.bmp"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestWriterFormatChange(t *testing.T) {
	dir := t.TempDir()
	g := writerGraph(t, map[string]any{
		"path":    filepath.Join(dir, "a.img"),
		"format":  "jpeg",
		"quality": 95,
	})
	mustFrame(t, g)
	if err := g.WaitTasks(); err != nil {
		t.Fatal(err)
	}
	if img := readImage(t, filepath.Join(dir, "a.img"), jpegDecode); img.Bounds().Dx() != 6 {
		t.Errorf("jpeg bounds = %v", img.Bounds())
	}

	if err := g.SetParam("out", "format", "png16"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetParam("out", "path", filepath.Join(dir, "b.png")); err != nil {
		t.Fatal(err)
	}
	mustFrame(t, g)
	if err := g.WaitTasks(); err != nil {
		t.Fatal(err)
	}
	// An opaque source decodes as RGBA64, a translucent one as NRGBA64.
	img := readImage(t, filepath.Join(dir, "b.png"), pngDecode)
	if m := img.ColorModel(); m != color.RGBA64Model && m != color.NRGBA64Model {
		t.Errorf("png16 decoded as %T, want a 16-bit image", img)
	}

	n, _ := g.Node("out")
	if f, err := n.(*Writer).Format(); err != nil || f != encode.PNG16 {
		t.Errorf("Format() = %v, %v", f, err)
	}
}

func TestWriterUnknownExtensionFailsFrame(t *testing.T) {
	g := writerGraph(t, map[string]any{"path": filepath.Join(t.TempDir(), "out.xyz")})
	if _, err := g.Frame(t.Context()); err == nil {
		t.Error("Frame() error = nil for an unknown extension")
	}
}

func TestWriterHash(t *testing.T) {
	dir := t.TempDir()
	g := writerGraph(t, map[string]any{"path": filepath.Join(dir, "{hash}.png")})
	mustFrame(t, g)
	n, _ := g.Node("out")
	w := n.(*Writer)
	before := w.Path(1)
	if before != w.Path(2) {
		t.Error("path with {hash} depends on the frame index")
	}

	if err := g.SetParam("src", "color", imgraph.Vec4{0, 0, 1, 1}); err != nil {
		t.Fatal(err)
	}
	mustFrame(t, g)
	if err := g.WaitTasks(); err != nil {
		t.Fatal(err)
	}
	after := w.Path(1)
	if after == before {
		t.Errorf("path %s did not change with upstream parameters", after)
	}
	for _, p := range []string{before, after} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing %s", p)
		}
	}
}

func TestCaptureFormats(t *testing.T) {
	g := buildGraph(t, &imgraph.Description{Nodes: []imgraph.NodeDesc{
		solid("src", 4, 4, imgraph.Vec4{1, 1, 1, 1}),
		{Type: "capture", ID: "cap", Inputs: []string{"src"}, Params: map[string]any{"format": "i420"}},
	}})
	mustFrame(t, g)
	f := captured(t, g, "cap")
	if f.Format != imgraph.FormatI420 || len(f.Pix) != 24 {
		t.Fatalf("frame format %s, %d bytes", f.Format, len(f.Pix))
	}
	if f.Pix[0] != 235 || f.Pix[16] != 128 {
		t.Errorf("Y = %d, Cb = %d", f.Pix[0], f.Pix[16])
	}

	if _, ok := NewCapture().Last(); ok {
		t.Error("fresh capture holds a frame")
	}
}
