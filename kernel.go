// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/shaders"
)

// PushKind is the type of a push-constant field.
type PushKind int

// Push-constant field kinds.
const (
	PushUint32 PushKind = iota + 1
	PushInt32
	PushFloat32
	PushVec4
)

func (k PushKind) size() uint32 {
	if k == PushVec4 {
		return 16
	}
	return 4
}

// PushKindOf returns the push-constant representation of a parameter kind.
// Bool and Enum parameters are pushed as u32 (enum option index).
func PushKindOf(k ParamKind) (PushKind, error) {
	switch k {
	case ParamFloat:
		return PushFloat32, nil
	case ParamInt:
		return PushInt32, nil
	case ParamBool, ParamEnum:
		return PushUint32, nil
	case ParamVec4:
		return PushVec4, nil
	default:
		return 0, fmt.Errorf("imgraph: %s parameters cannot be push constants", k)
	}
}

// Push-constant header field names shared by image kernels.
const (
	PushWidth     = "width"
	PushHeight    = "height"
	PushOutWidth  = "out_width"
	PushOutHeight = "out_height"
)

type pushField struct {
	kind   PushKind
	offset uint32
}

// Kernel is one compute dispatch unit: a shader, its binding slots, and a
// push-constant block addressed by field name.
//
// Push layout: fields are packed in declaration order, scalars take 4 bytes,
// vec4 fields are 16-byte aligned, and the block is padded to 16 bytes.
//
// Bindings refer to *Image and *Buffer, not to device handles; handles are
// resolved at dispatch, so resources may be re-allocated between frames
// without rebinding.
type Kernel struct {
	label  string
	shader shaders.Shader

	fields map[string]pushField
	names  []string
	end    uint32
	push   []byte

	images  map[uint32]*Image
	buffers map[uint32]*Buffer

	dev gpucore.Device
	id  gpucore.KernelID
}

// NewKernel creates a kernel for the shader at path.
func NewKernel(path, label string) (*Kernel, error) {
	s, err := shaders.Lookup(path)
	if err != nil {
		return nil, fmt.Errorf("%w: kernel %q: %w", ErrResource, label, err)
	}
	return &Kernel{
		label:   label,
		shader:  s,
		fields:  make(map[string]pushField),
		images:  make(map[uint32]*Image),
		buffers: make(map[uint32]*Buffer),
	}, nil
}

// Label returns the debug label.
func (k *Kernel) Label() string { return k.label }

// Path returns the shader path.
func (k *Kernel) Path() string { return k.shader.Path }

// WorkgroupSize returns the shader workgroup size.
func (k *Kernel) WorkgroupSize() [3]uint32 { return k.shader.WorkgroupSize }

// DeclarePush appends a push-constant field. Fields must be declared before
// Create.
func (k *Kernel) DeclarePush(name string, kind PushKind) error {
	if k.id != gpucore.InvalidID {
		return fmt.Errorf("imgraph: kernel %q: declare %q after create", k.label, name)
	}
	if _, dup := k.fields[name]; dup {
		return fmt.Errorf("imgraph: kernel %q: duplicate push field %q", k.label, name)
	}
	offset := k.end
	if kind == PushVec4 {
		offset = alignUp(offset, 16)
	}
	k.fields[name] = pushField{kind: kind, offset: offset}
	k.names = append(k.names, name)
	k.end = offset + kind.size()
	k.push = make([]byte, alignUp(k.end, 16))
	return nil
}

// DeclareHeader declares the image kernel header: width, height,
// out_width and out_height as u32.
func (k *Kernel) DeclareHeader() error {
	for _, name := range []string{PushWidth, PushHeight, PushOutWidth, PushOutHeight} {
		if err := k.DeclarePush(name, PushUint32); err != nil {
			return err
		}
	}
	return nil
}

// DeclareParam declares a push field named after p with p's representation.
func (k *Kernel) DeclareParam(p *Parameter) error {
	kind, err := PushKindOf(p.Kind())
	if err != nil {
		return err
	}
	return k.DeclarePush(p.Name(), kind)
}

// PushFields returns the declared field names in layout order.
func (k *Kernel) PushFields() []string { return append([]string(nil), k.names...) }

// PushOffset returns the byte offset of a field.
func (k *Kernel) PushOffset(name string) (uint32, bool) {
	f, ok := k.fields[name]
	return f.offset, ok
}

// PushSize returns the padded size of the push-constant block.
func (k *Kernel) PushSize() uint32 { return uint32(len(k.push)) }

// SetPush writes a push-constant field. Accepted values: uint32, int,
// int32, int64, float32, float64, bool and Vec4, matching the field kind.
func (k *Kernel) SetPush(name string, v any) error {
	f, ok := k.fields[name]
	if !ok {
		return fmt.Errorf("imgraph: kernel %q: unknown push field %q", k.label, name)
	}
	b := k.push[f.offset:]
	switch f.kind {
	case PushUint32, PushInt32:
		var u uint32
		switch x := v.(type) {
		case uint32:
			u = x
		case int:
			u = uint32(int32(x))
		case int32:
			u = uint32(x)
		case int64:
			u = uint32(int32(x))
		case bool:
			if x {
				u = 1
			}
		default:
			return fmt.Errorf("imgraph: kernel %q: field %q: %T is not an integer", k.label, name, v)
		}
		binary.LittleEndian.PutUint32(b, u)
	case PushFloat32:
		var f32 float32
		switch x := v.(type) {
		case float32:
			f32 = x
		case float64:
			f32 = float32(x)
		default:
			return fmt.Errorf("imgraph: kernel %q: field %q: %T is not a float", k.label, name, v)
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(f32))
	case PushVec4:
		vec, ok := v.(Vec4)
		if !ok {
			return fmt.Errorf("imgraph: kernel %q: field %q: %T is not a Vec4", k.label, name, v)
		}
		for i, c := range vec {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(c))
		}
	}
	return nil
}

// SetParam writes the current value of p into the field of the same name.
func (k *Kernel) SetParam(p *Parameter) error {
	switch p.Kind() {
	case ParamEnum:
		return k.SetPush(p.Name(), uint32(max(p.EnumIndex(), 0)))
	default:
		return k.SetPush(p.Name(), p.Value())
	}
}

// PushBytes returns a copy of the push-constant block.
func (k *Kernel) PushBytes() []byte { return append([]byte(nil), k.push...) }

// BindImage binds an image to a slot.
func (k *Kernel) BindImage(slot uint32, img *Image) {
	delete(k.buffers, slot)
	k.images[slot] = img
}

// BindBuffer binds a buffer to a slot.
func (k *Kernel) BindBuffer(slot uint32, buf *Buffer) {
	delete(k.images, slot)
	k.buffers[slot] = buf
}

// resolveBindings maps every declared slot to the current device handle of
// the bound resource.
func (k *Kernel) resolveBindings() ([]gpucore.Binding, error) {
	out := make([]gpucore.Binding, 0, len(k.shader.Bindings))
	for _, l := range k.shader.Bindings {
		if l.Kind.IsImage() {
			img := k.images[l.Slot]
			if img == nil {
				return nil, fmt.Errorf("imgraph: kernel %q: slot %d (%s) unbound", k.label, l.Slot, l.Kind)
			}
			if !img.Allocated() {
				return nil, fmt.Errorf("kernel %q: slot %d image %q: %w", k.label, l.Slot, img.label, ErrNotAllocated)
			}
			out = append(out, gpucore.Binding{Slot: l.Slot, Image: img.id})
			continue
		}
		buf := k.buffers[l.Slot]
		if buf == nil {
			return nil, fmt.Errorf("imgraph: kernel %q: slot %d (%s) unbound", k.label, l.Slot, l.Kind)
		}
		if !buf.Allocated() {
			return nil, fmt.Errorf("kernel %q: slot %d buffer %q: %w", k.label, l.Slot, buf.label, ErrNotAllocated)
		}
		out = append(out, gpucore.Binding{Slot: l.Slot, Buffer: buf.id})
	}
	return out, nil
}

// Create compiles the kernel on dev.
func (k *Kernel) Create(dev gpucore.Device) error {
	if k.id != gpucore.InvalidID {
		return fmt.Errorf("kernel %q: %w", k.label, ErrAlreadyAllocated)
	}
	desc, err := k.shader.Desc(k.label, k.PushSize())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	id, err := dev.CreateKernel(desc)
	if err != nil {
		return resourceError("kernel "+k.label, err)
	}
	k.dev, k.id = dev, id
	return nil
}

// Created reports whether the kernel has been compiled.
func (k *Kernel) Created() bool { return k.id != gpucore.InvalidID }

// Destroy releases the compiled kernel. It is a no-op when not created.
func (k *Kernel) Destroy() {
	if k.dev == nil {
		return
	}
	k.dev.DestroyKernel(k.id)
	k.dev, k.id = nil, gpucore.InvalidID
}

// Groups returns the workgroup counts covering a width x height domain.
func (k *Kernel) Groups(width, height int) [3]uint32 {
	wg := k.shader.WorkgroupSize
	return [3]uint32{ceilDiv(width, wg[0]), ceilDiv(height, wg[1]), 1}
}

func ceilDiv(n int, d uint32) uint32 {
	if n <= 0 {
		return 1
	}
	return (uint32(n) + d - 1) / d
}

func alignUp(n, a uint32) uint32 {
	return (n + a - 1) / a * a
}
