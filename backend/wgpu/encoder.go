// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/imgraph/gpucore"
)

type opcode uint8

const (
	opDispatch opcode = iota + 1
	opCopy
)

// command is one recorded command.
type command struct {
	op opcode

	// dispatch
	kernel   gpucore.KernelID
	bindings []gpucore.Binding
	push     []byte
	groups   [3]uint32

	// copy
	src, dst gpucore.BufferID
	size     uint64
}

// encoder records commands and validates them at record time. Native
// encoding happens in Finish, one compute pass per dispatch; pass
// boundaries order storage writes, so Barrier records nothing.
type encoder struct {
	dev      *Device
	label    string
	cmds     []command
	finished bool
}

// commandList owns a native command buffer and the transient uniform
// buffers and bind groups it references.
type commandList struct {
	dev      *Device
	label    string
	cmd      hal.CommandBuffer
	uniforms []hal.Buffer
	groups   []hal.BindGroup
	serial   uint64
	released bool
}

// NewEncoder begins recording a command list.
func (d *Device) NewEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return &encoder{dev: d, label: label}, nil
}

// Dispatch records a kernel dispatch.
func (e *encoder) Dispatch(kernel gpucore.KernelID, bindings []gpucore.Binding, push []byte, groups [3]uint32) error {
	if e.finished {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument, "encoder %q already finished", e.label)
	}
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	k, ok := d.kernels[kernel]
	if !ok {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "kernel %d", kernel)
	}
	if uint32(len(push)) != k.pushSize {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
			"%s: push block is %d bytes, kernel declares %d", k.path, len(push), k.pushSize)
	}
	maxGroups := d.opts.limits.MaxWorkgroupsPerDimension
	for i, g := range groups {
		if g == 0 || g > maxGroups {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
				"%s: workgroup count[%d] = %d outside 1..%d", k.path, i, g, maxGroups)
		}
	}
	if len(bindings) != len(k.bindings) {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
			"%s: %d bindings, kernel declares %d", k.path, len(bindings), len(k.bindings))
	}
	for _, layout := range k.bindings {
		b, ok := findBinding(bindings, layout.Slot)
		if !ok {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument, "%s: slot %d unbound", k.path, layout.Slot)
		}
		if layout.Kind.IsImage() {
			if _, ok := d.images[b.Image]; !ok {
				return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle,
					"%s: slot %d expects %s, image %d", k.path, layout.Slot, layout.Kind, b.Image)
			}
			continue
		}
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle,
				"%s: slot %d expects %s, buffer %d", k.path, layout.Slot, layout.Kind, b.Buffer)
		}
		if !buf.desc.Usage.Has(gpucore.BufferUsageStorage) {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
				"%s: buffer %q lacks storage usage", k.path, buf.desc.Label)
		}
	}

	e.cmds = append(e.cmds, command{
		op:       opDispatch,
		kernel:   kernel,
		bindings: append([]gpucore.Binding(nil), bindings...),
		push:     append([]byte(nil), push...),
		groups:   groups,
	})
	return nil
}

func findBinding(bindings []gpucore.Binding, slot uint32) (gpucore.Binding, bool) {
	for _, b := range bindings {
		if b.Slot == slot {
			return b, true
		}
	}
	return gpucore.Binding{}, false
}

// CopyBuffer records a buffer-to-buffer copy.
func (e *encoder) CopyBuffer(src, dst gpucore.BufferID, size uint64) error {
	if e.finished {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidArgument, "encoder %q already finished", e.label)
	}
	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.buffers[src]
	if !ok {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "source buffer %d", src)
	}
	t, ok := d.buffers[dst]
	if !ok {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "destination buffer %d", dst)
	}
	if !s.desc.Usage.Has(gpucore.BufferUsageCopySrc) || !t.desc.Usage.Has(gpucore.BufferUsageCopyDst) {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidArgument,
			"%q -> %q: missing copy usage", s.desc.Label, t.desc.Label)
	}
	if size > s.desc.Size || size > t.desc.Size {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidArgument,
			"%q -> %q: %d bytes out of range", s.desc.Label, t.desc.Label, size)
	}

	e.cmds = append(e.cmds, command{op: opCopy, src: src, dst: dst, size: size})
	return nil
}

// Barrier is implied by the pass boundaries.
func (e *encoder) Barrier() {}

// Finish encodes the recorded commands into a native command buffer.
func (e *encoder) Finish() (gpucore.CommandList, error) {
	if e.finished {
		return nil, gpucore.Errorf("finish", gpucore.ResultInvalidArgument, "encoder %q already finished", e.label)
	}
	e.finished = true
	cmds := e.cmds
	e.cmds = nil

	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: e.label})
	if err != nil {
		return nil, &gpucore.Error{Op: "finish", Code: gpucore.ResultOutOfMemory, Err: err}
	}
	if err := enc.BeginEncoding(e.label); err != nil {
		return nil, &gpucore.Error{Op: "finish", Code: gpucore.ResultUnknown, Err: fmt.Errorf("begin encoding: %w", err)}
	}

	cl := &commandList{dev: d, label: e.label}
	for i := range cmds {
		c := &cmds[i]
		switch c.op {
		case opDispatch:
			err = d.encodeDispatch(enc, cl, c)
		case opCopy:
			err = d.encodeCopy(enc, c)
		}
		if err != nil {
			enc.DiscardEncoding()
			cl.free()
			return nil, err
		}
	}

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		cl.free()
		return nil, &gpucore.Error{Op: "finish", Code: gpucore.ResultUnknown, Err: fmt.Errorf("end encoding: %w", err)}
	}
	cl.cmd = cmdBuf
	return cl, nil
}

// encodeDispatch writes the push block to a fresh uniform buffer, binds it
// with the resources and records one compute pass. Caller must hold d.mu.
func (d *Device) encodeDispatch(enc hal.CommandEncoder, cl *commandList, c *command) error {
	k, ok := d.kernels[c.kernel]
	if !ok {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "kernel %d destroyed before finish", c.kernel)
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(c.bindings)+1)
	if k.pushSize > 0 {
		size := uniformSize(len(c.push))
		ub, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: k.path + "_push",
			Size:  size,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return &gpucore.Error{Op: "dispatch", Code: gpucore.ResultOutOfMemory, Err: fmt.Errorf("%s: push buffer: %w", k.path, err)}
		}
		cl.uniforms = append(cl.uniforms, ub)
		data := make([]byte, size)
		copy(data, c.push)
		d.queue.WriteBuffer(ub, 0, data)
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: size},
		})
	}
	for _, b := range c.bindings {
		var (
			buf  hal.Buffer
			size uint64
		)
		if b.Image != gpucore.InvalidID {
			img, ok := d.images[b.Image]
			if !ok {
				return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "%s: image %d at slot %d", k.path, b.Image, b.Slot)
			}
			buf, size = img.buf, img.size
		} else {
			sb, ok := d.buffers[b.Buffer]
			if !ok {
				return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "%s: buffer %d at slot %d", k.path, b.Buffer, b.Slot)
			}
			buf, size = sb.buf, sb.desc.Size
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: b.Slot + 1, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: size},
		})
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: k.path + "_bind", Layout: k.bindLayout, Entries: entries,
	})
	if err != nil {
		return &gpucore.Error{Op: "dispatch", Code: gpucore.ResultUnknown, Err: fmt.Errorf("%s: create bind group: %w", k.path, err)}
	}
	cl.groups = append(cl.groups, bg)

	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.path})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(c.groups[0], c.groups[1], c.groups[2])
	pass.End()
	return nil
}

// encodeCopy records a buffer copy. Caller must hold d.mu.
func (d *Device) encodeCopy(enc hal.CommandEncoder, c *command) error {
	src, ok := d.buffers[c.src]
	if !ok {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "source buffer %d", c.src)
	}
	dst, ok := d.buffers[c.dst]
	if !ok {
		return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "destination buffer %d", c.dst)
	}
	enc.CopyBufferToBuffer(src.buf, dst.buf, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: c.size}})
	return nil
}

// uniformSize rounds n up to the 16-byte uniform alignment.
func uniformSize(n int) uint64 {
	return uint64(max(16, (n+15)&^15))
}

// Discard drops the recorded commands.
func (e *encoder) Discard() {
	e.finished = true
	e.cmds = nil
}

// Label returns the debug label.
func (cl *commandList) Label() string { return cl.label }

// Release frees the list, or defers the free until its submission has
// completed.
func (cl *commandList) Release() {
	d := cl.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if cl.released {
		return
	}
	cl.released = true
	if d.destroyed {
		return
	}
	if cl.serial != 0 {
		if ok, err := d.reached(cl.serial); err != nil || !ok {
			d.deferred = append(d.deferred, cl)
			return
		}
	}
	cl.free()
}

// free destroys the native objects. Caller must hold d.mu.
func (cl *commandList) free() {
	d := cl.dev
	if cl.cmd != nil {
		d.device.FreeCommandBuffer(cl.cmd)
		cl.cmd = nil
	}
	for _, bg := range cl.groups {
		d.device.DestroyBindGroup(bg)
	}
	for _, ub := range cl.uniforms {
		d.device.DestroyBuffer(ub)
	}
	cl.groups, cl.uniforms = nil, nil
}
