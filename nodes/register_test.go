// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nodes

import (
	"slices"
	"testing"

	"github.com/gogpu/imgraph"
)

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)
	if got, want := len(r.Names()), len(Types()); got != want {
		t.Errorf("registered %d types, want %d", got, want)
	}
	if err := Register(r); err == nil {
		t.Error("second Register() error = nil")
	}

	tests := []struct {
		key  string
		want string
	}{
		{"Saturation", "saturation"},
		{"tone", "tonemap"},
		{"geometry", "resize"},
		{"decode", "file"},
		{"encode", "writer"},
		{"transfer", "convert"},
	}
	for _, tt := range tests {
		got, err := r.Lookup(tt.key)
		if err != nil || got.Name != tt.want {
			t.Errorf("Lookup(%q) = %q, %v, want %q", tt.key, got.Name, err, tt.want)
		}
	}
	if _, err := r.Lookup("color"); err == nil {
		t.Error("Lookup(color) error = nil, want ambiguous")
	}
	if got := r.WithTag(imgraph.TagSource); !slices.Equal(got, []string{"file", "pattern"}) {
		t.Errorf("WithTag(source) = %v", got)
	}
	if got := r.WithTag(imgraph.TagOutput); !slices.Equal(got, []string{"capture", "writer"}) {
		t.Errorf("WithTag(output) = %v", got)
	}
}

func TestTypesClone(t *testing.T) {
	for _, typ := range Types() {
		c := typ.Prototype.Clone()
		if c == typ.Prototype {
			t.Errorf("%s: Clone() returned the prototype", typ.Name)
		}
		if c.Params() == typ.Prototype.Params() {
			t.Errorf("%s: clone shares its parameters", typ.Name)
		}
		if c.State() != imgraph.StateUnbuilt {
			t.Errorf("%s: clone state = %s", typ.Name, c.State())
		}
	}
}
