// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/imgraph/backend/software"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	types := []NodeType{
		{Name: "source", Tags: []Tag{TagSource}, Prototype: newTestSource("", 2, 2, testPixels(2, 2))},
		{Name: "Saturation", Tags: []Tag{TagColor, TagImage}, Prototype: newTestSaturation("")},
		{Name: "sink", Tags: []Tag{TagOutput, TagImage}, Prototype: newTestSink("", FormatRGBA8)},
	}
	for _, nt := range types {
		if err := r.Register(nt); err != nil {
			t.Fatalf("Register(%q) error = %v", nt.Name, err)
		}
	}
	return r
}

func TestRegistryRegister(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		nt   NodeType
	}{
		{"empty name", NodeType{Prototype: newTestSaturation("")}},
		{"nil prototype", NodeType{Name: "x"}},
		{"duplicate", NodeType{Name: "source", Prototype: newTestSaturation("")}},
		{"duplicate folded", NodeType{Name: "SATURATION", Prototype: newTestSaturation("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.nt); err == nil {
				t.Error("Register() error = nil")
			}
		})
	}

	if got, want := r.Names(), []string{"Saturation", "sink", "source"}; !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		key     string
		want    string
		wantErr string
	}{
		{key: "saturation", want: "Saturation"},
		{key: "SATURATION", want: "Saturation"},
		{key: "color", want: "Saturation"},
		{key: "Source", want: "source"},
		{key: "image", wantErr: "ambiguous"},
		{key: "blur", wantErr: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			nt, err := r.Lookup(tt.key)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Lookup(%q) error = %v, want %q", tt.key, err, tt.wantErr)
				}
				return
			}
			if err != nil || nt.Name != tt.want {
				t.Errorf("Lookup(%q) = %q, %v, want %q", tt.key, nt.Name, err, tt.want)
			}
		})
	}

	if got := r.WithTag("IMAGE"); !slices.Equal(got, []string{"saturation", "sink"}) {
		t.Errorf("WithTag(image) = %v", got)
	}
	if nt, _ := r.Lookup("sink"); len(nt.Slots()) != 1 || nt.Slots()[0].Name != "in" {
		t.Errorf("sink Slots() = %v", nt.Slots())
	}
}

func TestRegistryCreateIndependent(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Create("saturation", "a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := r.Create("color", "b")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID() != "a" || b.ID() != "b" {
		t.Errorf("IDs = %q, %q", a.ID(), b.ID())
	}

	pa, _ := a.Params().Get("amount")
	pa.Set(0.0)
	_, _ = pa.Acknowledge()
	pb, _ := b.Params().Get("amount")
	if pb.Float() != 1 {
		t.Errorf("edit on a leaked into b: amount = %v", pb.Float())
	}
	nt, _ := r.Lookup("saturation")
	if pp, _ := nt.Prototype.Params().Get("amount"); pp.Float() != 1 {
		t.Errorf("edit on a leaked into prototype: amount = %v", pp.Float())
	}

	_, err = r.Create("blur", "c")
	var we *WiringError
	if !errors.As(err, &we) || we.Node != "c" {
		t.Errorf("Create(unknown) error = %v, want WiringError for node c", err)
	}
}

func TestRegistryBuild(t *testing.T) {
	dev := newTestDevice(t)
	r := newTestRegistry(t)
	desc := &Description{Nodes: []NodeDesc{
		{Type: "sink", ID: "out", Inputs: []string{"sat"}},
		{Type: "saturation", ID: "sat", Inputs: []string{"src"}, Params: map[string]any{"amount": 0.0}},
		{Type: "source", ID: "src"},
	}}

	g, err := r.Build(context.Background(), dev, desc)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() {
		if err := g.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	if got := g.Order(); !slices.Equal(got, []string{"src", "sat", "out"}) {
		t.Errorf("Order() = %v", got)
	}

	sat, ok := g.Node("sat")
	if !ok {
		t.Fatal("Node(sat) not found")
	}
	if p, _ := sat.Params().Get("amount"); p.Float() != 1 || !p.Changed() {
		t.Errorf("amount before first frame = %v changed=%v, want pending edit", p.Float(), p.Changed())
	}
	mustFrame(t, g)
	if p, _ := sat.Params().Get("amount"); p.Float() != 0 {
		t.Errorf("amount after first frame = %v, want 0", p.Float())
	}

	n, _ := g.Node("out")
	sink := n.(*testSink)
	if len(sink.got) != 1 {
		t.Fatalf("sink received %d frames, want 1", len(sink.got))
	}
	px := sink.got[0][4:8] // second pixel: (1/6, 1/4, 1/2) desaturated
	if px[0] != px[1] || px[1] != px[2] || px[3] != 255 {
		t.Errorf("pixel = %v, want gray", px)
	}
}

func TestRegistryBuildAggregatesErrors(t *testing.T) {
	dev := newTestDevice(t)
	r := newTestRegistry(t)
	desc := &Description{Nodes: []NodeDesc{
		{Type: "source", ID: "src"},
		{Type: "blur", ID: "b", Inputs: []string{"src"}},
		{Type: "saturation", ID: "sat", Inputs: []string{"src"}, Params: map[string]any{"strength": 1}},
		{Type: "sink", ID: "src"},
	}}

	_, err := r.Build(context.Background(), dev, desc)
	if !errors.Is(err, ErrWiring) {
		t.Fatalf("Build() error = %v, want ErrWiring", err)
	}
	for _, want := range []string{`"blur"`, `"strength"`, `"src"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if images, buffers := dev.Live(); images != 0 || buffers != 0 {
		t.Errorf("live resources = %d/%d, want 0/0", images, buffers)
	}
}

func TestRegistryBuildWiringFailureCloses(t *testing.T) {
	dev := newTestDevice(t)
	r := newTestRegistry(t)
	desc := &Description{Nodes: []NodeDesc{
		{Type: "source", ID: "src"},
		{Type: "sink", ID: "out", Inputs: []string{"missing"}},
	}}
	if _, err := r.Build(context.Background(), dev, desc); !errors.Is(err, ErrWiring) {
		t.Fatalf("Build() error = %v, want ErrWiring", err)
	}
	if images, _ := dev.Live(); images != 0 {
		t.Errorf("live images = %d, want 0", images)
	}
}

// busyDevice is a software device that never reports idle.
type busyDevice struct {
	*software.Device
	err error
}

func (d busyDevice) WaitIdle() error { return d.err }

func TestRegistryBuildFailureReportsClose(t *testing.T) {
	stuck := errors.New("queue stuck")
	dev := busyDevice{Device: newTestDevice(t), err: stuck}
	r := newTestRegistry(t)

	tests := []struct {
		name  string
		nodes []NodeDesc
	}{
		{"unknown type", []NodeDesc{{Type: "blur", ID: "b"}}},
		{"missing input", []NodeDesc{
			{Type: "source", ID: "src"},
			{Type: "sink", ID: "out", Inputs: []string{"missing"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Build(context.Background(), dev, &Description{Nodes: tt.nodes})
			if !errors.Is(err, ErrWiring) {
				t.Errorf("Build() error = %v, want ErrWiring", err)
			}
			if !errors.Is(err, stuck) {
				t.Errorf("Build() error = %v, want the close error joined", err)
			}
		})
	}
}
