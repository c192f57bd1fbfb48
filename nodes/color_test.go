// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"testing"

	"github.com/gogpu/imgraph"
)

func TestColorNodes(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		params map[string]any
		in     imgraph.Vec4
		want   [3]byte
	}{
		{"saturation identity", "saturation", nil, imgraph.Vec4{1, 0.5, 0, 1}, [3]byte{255, 128, 0}},
		{"saturation gray", "saturation", map[string]any{"amount": 0}, imgraph.Vec4{1, 0, 0, 1}, [3]byte{54, 54, 54}},
		{"exposure one stop", "exposure", map[string]any{"stops": 1}, imgraph.Vec4{0.5, 0.25, 0, 1}, [3]byte{255, 128, 0}},
		{"gamma", "gamma", map[string]any{"gamma": 2}, imgraph.Vec4{0.25, 1, 0, 1}, [3]byte{128, 255, 0}},
		{"tonemap", "tonemap", nil, imgraph.Vec4{1, 0, 0, 1}, [3]byte{128, 0, 0}},
		{"tonemap off", "tonemap", map[string]any{"strength": 0}, imgraph.Vec4{1, 0, 0, 1}, [3]byte{255, 0, 0}},
		{"to linear", "convert", map[string]any{"mode": TransferSRGBToLinear}, imgraph.Vec4{1, 0, 0, 1}, [3]byte{255, 0, 0}},
		{"to srgb", "convert", nil, imgraph.Vec4{0.0031308 / 2, 0, 1, 1}, [3]byte{5, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, &imgraph.Description{Nodes: []imgraph.NodeDesc{
				solid("src", 4, 2, tt.in),
				{Type: tt.typ, ID: "fx", Inputs: []string{"src"}, Params: tt.params},
				capture("cap", "fx"),
			}})
			mustFrame(t, g)

			f := captured(t, g, "cap")
			if f.Width != 4 || f.Height != 2 || len(f.Pix) != 32 {
				t.Fatalf("frame = %dx%d, %d bytes", f.Width, f.Height, len(f.Pix))
			}
			for i := 0; i < len(f.Pix); i += 4 {
				if got := [3]byte(f.Pix[i : i+3]); got != tt.want {
					t.Fatalf("pixel %d = %v, want %v", i/4, got, tt.want)
				}
				if f.Pix[i+3] != 255 {
					t.Fatalf("alpha %d = %d", i/4, f.Pix[i+3])
				}
			}
		})
	}
}

func TestColorParamChangeReexecutes(t *testing.T) {
	g := buildGraph(t, &imgraph.Description{Nodes: []imgraph.NodeDesc{
		solid("src", 2, 2, imgraph.Vec4{0.5, 0.5, 0.5, 1}),
		{Type: "exposure", ID: "fx", Inputs: []string{"src"}},
		capture("cap", "fx"),
	}})
	mustFrame(t, g)
	if got := captured(t, g, "cap").Pix[0]; got != 128 {
		t.Fatalf("first frame = %d, want 128", got)
	}

	if r := mustFrame(t, g); len(r.Executed) != 0 {
		t.Errorf("unchanged frame executed %v", r.Executed)
	}

	if err := g.SetParam("fx", "stops", -1.0); err != nil {
		t.Fatal(err)
	}
	r := mustFrame(t, g)
	if len(r.Executed) != 2 || r.Executed[0] != "fx" {
		t.Errorf("executed %v, want [fx cap]", r.Executed)
	}
	f := captured(t, g, "cap")
	if f.Index != r.Index || f.Pix[0] != 64 {
		t.Errorf("frame %d pixel = %d, want frame %d value 64", f.Index, f.Pix[0], r.Index)
	}
}

func TestResizeOutput(t *testing.T) {
	tests := []struct {
		w, h         int64
		inW, inH     int
		wantW, wantH int
	}{
		{0, 0, 100, 50, 100, 50},
		{50, 0, 100, 50, 50, 25},
		{0, 10, 100, 50, 20, 10},
		{30, 40, 100, 50, 30, 40},
		{1, 0, 100, 1, 1, 1},
	}
	for _, tt := range tests {
		n := NewResize()
		n.Param("width").Set(tt.w)
		n.Param("height").Set(tt.h)
		if _, errs := n.Params().AcknowledgeAll(); len(errs) > 0 {
			t.Fatal(errs)
		}
		if w, h := n.OutputSize(tt.inW, tt.inH); w != tt.wantW || h != tt.wantH {
			t.Errorf("resize %dx%d to (%d, %d) = %dx%d, want %dx%d", tt.inW, tt.inH, tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestResizeGraph(t *testing.T) {
	g := buildGraph(t, &imgraph.Description{Nodes: []imgraph.NodeDesc{
		solid("src", 8, 4, imgraph.Vec4{0, 1, 0, 1}),
		{Type: "resize", ID: "small", Inputs: []string{"src"}, Params: map[string]any{"width": 4}},
		capture("cap", "small"),
	}})
	mustFrame(t, g)
	f := captured(t, g, "cap")
	if f.Width != 4 || f.Height != 2 {
		t.Fatalf("frame = %dx%d, want 4x2", f.Width, f.Height)
	}
	if [4]byte(f.Pix[12:16]) != [4]byte{0, 255, 0, 255} {
		t.Errorf("pixel 3 = %v", f.Pix[12:16])
	}

	if err := g.SetParam("small", "height", 8); err != nil {
		t.Fatal(err)
	}
	mustFrame(t, g)
	if f := captured(t, g, "cap"); f.Width != 4 || f.Height != 8 || len(f.Pix) != 4*8*4 {
		t.Errorf("after edit frame = %dx%d, %d bytes", f.Width, f.Height, len(f.Pix))
	}
}
