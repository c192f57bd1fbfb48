// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"github.com/gogpu/imgraph/gpucore"
)

type opcode uint8

const (
	opDispatch opcode = iota + 1
	opCopy
	opBarrier
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

// encoder records commands, validating them against the device state at
// record time so that errors surface before anything is submitted.
type encoder struct {
	dev      *Device
	label    string
	cmds     []command
	finished bool
}

// commandList is a finished recording.
type commandList struct {
	dev      *Device
	label    string
	cmds     []command
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
	if uint32(len(push)) != k.PushSize {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
			"%s: push block is %d bytes, kernel declares %d", k.Path, len(push), k.PushSize)
	}
	maxGroups := d.opts.limits.MaxWorkgroupsPerDimension
	for i, g := range groups {
		if g == 0 || g > maxGroups {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
				"%s: workgroup count[%d] = %d outside 1..%d", k.Path, i, g, maxGroups)
		}
	}
	if len(bindings) != len(k.Bindings) {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
			"%s: %d bindings, kernel declares %d", k.Path, len(bindings), len(k.Bindings))
	}

	for _, layout := range k.Bindings {
		b, ok := findBinding(bindings, layout.Slot)
		if !ok {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument, "%s: slot %d unbound", k.Path, layout.Slot)
		}
		if layout.Kind.IsImage() {
			if _, ok := d.images[b.Image]; !ok {
				return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle,
					"%s: slot %d expects %s, image %d", k.Path, layout.Slot, layout.Kind, b.Image)
			}
			continue
		}
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle,
				"%s: slot %d expects %s, buffer %d", k.Path, layout.Slot, layout.Kind, b.Buffer)
		}
		if !buf.desc.Usage.Has(gpucore.BufferUsageStorage) {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidArgument,
				"%s: buffer %q lacks storage usage", k.Path, buf.desc.Label)
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

// Barrier records an execution barrier.
func (e *encoder) Barrier() {
	if !e.finished {
		e.cmds = append(e.cmds, command{op: opBarrier})
	}
}

// Finish ends recording.
func (e *encoder) Finish() (gpucore.CommandList, error) {
	if e.finished {
		return nil, gpucore.Errorf("finish", gpucore.ResultInvalidArgument, "encoder %q already finished", e.label)
	}
	e.finished = true
	cl := &commandList{dev: e.dev, label: e.label, cmds: e.cmds}
	e.cmds = nil
	return cl, nil
}

// Discard drops the recorded commands.
func (e *encoder) Discard() {
	e.finished = true
	e.cmds = nil
}

// Label returns the debug label.
func (cl *commandList) Label() string { return cl.label }

// Release frees the list. Held submissions keep their own reference to the
// commands, so releasing after Submit is safe.
func (cl *commandList) Release() {
	cl.released = true
}
