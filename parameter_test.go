// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"errors"
	"math"
	"testing"
)

func TestParameterAcknowledge(t *testing.T) {
	p := FloatParam("amount", 1, 0, 1)
	if changed, err := p.Acknowledge(); changed || err != nil {
		t.Fatalf("Acknowledge() without edit = %v, %v", changed, err)
	}

	p.Set(0.5)
	if !p.Changed() {
		t.Fatal("Changed() after Set = false")
	}
	if p.Float() != 1 {
		t.Errorf("Float() before Acknowledge = %v, want 1", p.Float())
	}
	changed, err := p.Acknowledge()
	if !changed || err != nil {
		t.Fatalf("Acknowledge() = %v, %v, want true, nil", changed, err)
	}
	if p.Float() != 0.5 {
		t.Errorf("Float() = %v, want 0.5", p.Float())
	}
	if changed, _ := p.Acknowledge(); changed {
		t.Error("second Acknowledge() = true")
	}
}

func TestParameterSetCurrentCancelsEdit(t *testing.T) {
	p := IntParam("radius", 3, 0, 10)
	p.Set(5)
	p.Set(3)
	if p.Changed() {
		t.Error("Changed() after setting the current value = true")
	}
}

func TestParameterRejectsInvalidEdits(t *testing.T) {
	tests := []struct {
		name    string
		p       *Parameter
		edit    any
		wantErr error
	}{
		{"float above range", FloatParam("f", 0.5, 0, 1), 1.5, errParamRange},
		{"float below range", FloatParam("f", 0.5, 0, 1), -0.1, errParamRange},
		{"float NaN", FloatParam("f", 0.5, 0, 1), math.NaN(), errParamNaN},
		{"float inf", FloatParam("f", 0.5, math.Inf(-1), math.Inf(1)), math.Inf(1), errParamNaN},
		{"float wrong type", FloatParam("f", 0.5, 0, 1), true, errParamType},
		{"float bad text", FloatParam("f", 0.5, 0, 1), "lots", errParamType},
		{"int fraction", IntParam("i", 2, 0, 10), 2.5, errParamType},
		{"int range", IntParam("i", 2, 0, 10), 11, errParamRange},
		{"bool text", BoolParam("b", false), "maybe", errParamType},
		{"enum option", EnumParam("e", "a", "a", "b"), "c", errParamEnum},
		{"enum type", EnumParam("e", "a", "a", "b"), 1, errParamType},
		{"vec4 NaN", Vec4Param("v", Vec4{}), Vec4{0, float32(math.NaN()), 0, 0}, errParamNaN},
		{"vec4 short slice", Vec4Param("v", Vec4{}), []float64{1, 2}, errParamType},
		{"vec4 short string", Vec4Param("v", Vec4{}), "1,2,3", errParamType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.p.Value()
			tt.p.Set(tt.edit)
			changed, err := tt.p.Acknowledge()
			if changed {
				t.Error("Acknowledge() committed an invalid edit")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Acknowledge() error = %v, want %v", err, tt.wantErr)
			}
			if tt.p.Changed() {
				t.Error("Changed() after rejected edit = true")
			}
			if got := tt.p.Value(); got != before {
				t.Errorf("Value() = %v, want last good %v", got, before)
			}
		})
	}
}

func TestParameterNormalization(t *testing.T) {
	tests := []struct {
		name string
		p    *Parameter
		edit any
		want any
	}{
		{"float from int", FloatParam("f", 0, -10, 10), 2, 2.0},
		{"float from float32", FloatParam("f", 0, -10, 10), float32(0.5), 0.5},
		{"float from text", FloatParam("f", 0, -10, 10), " 1.25 ", 1.25},
		{"int from whole float", IntParam("i", 0, -10, 10), 4.0, int64(4)},
		{"int from text", IntParam("i", 0, -10, 10), "7", int64(7)},
		{"bool from text", BoolParam("b", false), "true", true},
		{"vec4 from slice", Vec4Param("v", Vec4{}), []float64{1, 2, 3, 4}, Vec4{1, 2, 3, 4}},
		{"vec4 from array", Vec4Param("v", Vec4{}), [4]float32{4, 3, 2, 1}, Vec4{4, 3, 2, 1}},
		{"vec4 from string", Vec4Param("v", Vec4{}), " 0.5, 1,0,1", Vec4{0.5, 1, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.p.Set(tt.edit)
			if _, err := tt.p.Acknowledge(); err != nil {
				t.Fatalf("Acknowledge() error = %v", err)
			}
			if got := tt.p.Value(); got != tt.want {
				t.Errorf("Value() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParameterEnum(t *testing.T) {
	p := EnumParam("op", "reinhard", "clamp", "reinhard", "aces")
	if got := p.EnumIndex(); got != 1 {
		t.Errorf("EnumIndex() = %d, want 1", got)
	}
	p.Set("aces")
	if _, err := p.Acknowledge(); err != nil {
		t.Fatal(err)
	}
	if p.Text() != "aces" || p.EnumIndex() != 2 {
		t.Errorf("Text() = %q, EnumIndex() = %d", p.Text(), p.EnumIndex())
	}
	opts := p.Options()
	opts[0] = "changed"
	if p.Options()[0] != "clamp" {
		t.Error("Options() exposed internal slice")
	}
}

func TestParameterValidator(t *testing.T) {
	even := errors.New("odd")
	p := IntParam("n", 2, 0, 100).WithValidator(func(v any) error {
		if v.(int64)%2 != 0 {
			return even
		}
		return nil
	})
	p.Set(3)
	if _, err := p.Acknowledge(); !errors.Is(err, even) {
		t.Errorf("Acknowledge() error = %v, want validator error", err)
	}
	p.Set(4)
	if changed, err := p.Acknowledge(); !changed || err != nil {
		t.Errorf("Acknowledge() = %v, %v", changed, err)
	}
}

func TestParameterCloneIndependent(t *testing.T) {
	p := FloatParam("amount", 1, 0, 1)
	p.Set(0.25)
	_, _ = p.Acknowledge()
	p.Set(0.75)

	c := p.Clone()
	if c.Float() != 1 || c.Changed() {
		t.Errorf("clone = %v changed=%v, want default without edit", c.Float(), c.Changed())
	}
	c.Set(0)
	_, _ = c.Acknowledge()
	if p.Float() != 0.25 {
		t.Errorf("original = %v after editing clone, want 0.25", p.Float())
	}
	if lo, hi, ok := c.Range(); !ok || lo != 0 || hi != 1 {
		t.Errorf("clone Range() = %v, %v, %v", lo, hi, ok)
	}
}

func TestParamsHash(t *testing.T) {
	a := NewParams(FloatParam("x", 1, 0, 2), StringParam("s", "ab"))
	b := NewParams(FloatParam("x", 1, 0, 2), StringParam("s", "ab"))
	if a.Hash() != b.Hash() {
		t.Fatal("equal parameter sets hash differently")
	}

	p, _ := b.Get("x")
	p.Set(2)
	if a.Hash() != b.Hash() {
		t.Error("pending edit changed the hash")
	}
	_, _ = b.AcknowledgeAll()
	if a.Hash() == b.Hash() {
		t.Error("committed edit did not change the hash")
	}

	// Length prefixes keep adjacent fields apart.
	c := NewParams(StringParam("a", "bc"))
	d := NewParams(StringParam("ab", "c"))
	if c.Hash() == d.Hash() {
		t.Error("field boundaries collide")
	}
}

func TestParamsAcknowledgeAll(t *testing.T) {
	ps := NewParams(FloatParam("a", 0, 0, 1), FloatParam("b", 0, 0, 1), FloatParam("c", 0, 0, 1))
	for name, v := range map[string]any{"a": 0.5, "b": 5.0, "c": 0.0} {
		p, _ := ps.Get(name)
		p.Set(v)
	}
	changed, rejected := ps.AcknowledgeAll()
	if !changed {
		t.Error("AcknowledgeAll() changed = false")
	}
	if len(rejected) != 1 {
		t.Fatalf("rejected = %v, want one error", rejected)
	}
	for _, p := range ps.List() {
		if p.Changed() {
			t.Errorf("%s still changed", p.Name())
		}
	}
	if names := ps.Names(); len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("Names() = %v", names)
	}
}

func TestParamsDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewParams() with duplicate names did not panic")
		}
	}()
	NewParams(BoolParam("x", false), BoolParam("x", true))
}

func TestParamsNil(t *testing.T) {
	var ps *Params
	if ps.Len() != 0 || ps.List() != nil || ps.Names() != nil {
		t.Error("nil Params not empty")
	}
	if _, ok := ps.Get("x"); ok {
		t.Error("nil Params Get() ok = true")
	}
}
