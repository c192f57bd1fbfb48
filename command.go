// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"fmt"

	"github.com/gogpu/imgraph/gpucore"
)

// CommandBuffer scopes the recording of one node's work for one frame.
//
// Usage:
//  1. The graph creates it and passes it to Node.Allocate and Node.Commands
//  2. Nodes record kernel dispatches, copies and barriers
//  3. The graph finishes it; Node.Execute submits the finished list
//  4. The graph releases it once the frame fence has signaled, or discards
//     it when the frame fails before submission
//
// A CommandBuffer never submits and never blocks.
type CommandBuffer struct {
	dev   gpucore.Device
	label string
	enc   gpucore.CommandEncoder
	list  gpucore.CommandList

	dispatches int
}

// NewCommandBuffer begins recording.
func NewCommandBuffer(dev gpucore.Device, label string) (*CommandBuffer, error) {
	enc, err := dev.NewEncoder(label)
	if err != nil {
		return nil, runtimeError("begin_encoding", label, err)
	}
	return &CommandBuffer{dev: dev, label: label, enc: enc}, nil
}

// Device returns the recording device.
func (c *CommandBuffer) Device() gpucore.Device { return c.dev }

// Label returns the debug label.
func (c *CommandBuffer) Label() string { return c.label }

// Dispatches returns the number of recorded dispatches.
func (c *CommandBuffer) Dispatches() int { return c.dispatches }

// Dispatch records a dispatch of k with its current bindings and push
// constants.
func (c *CommandBuffer) Dispatch(k *Kernel, groups [3]uint32) error {
	if c.enc == nil {
		return fmt.Errorf("imgraph: %s: dispatch after finish", c.label)
	}
	if k.id == gpucore.InvalidID {
		return fmt.Errorf("kernel %q: %w", k.label, ErrNotAllocated)
	}
	bindings, err := k.resolveBindings()
	if err != nil {
		return err
	}
	if err := c.enc.Dispatch(k.id, bindings, k.push, groups); err != nil {
		return runtimeError("dispatch", c.label, err)
	}
	c.dispatches++
	return nil
}

// Copy records a copy of size bytes from src to dst.
func (c *CommandBuffer) Copy(src, dst *Buffer, size uint64) error {
	if c.enc == nil {
		return fmt.Errorf("imgraph: %s: copy after finish", c.label)
	}
	if !src.Allocated() || !dst.Allocated() {
		return fmt.Errorf("copy %q -> %q: %w", src.label, dst.label, ErrNotAllocated)
	}
	if err := c.enc.CopyBuffer(src.id, dst.id, size); err != nil {
		return runtimeError("copy_buffer", c.label, err)
	}
	return nil
}

// Barrier orders previously recorded commands before the following ones.
func (c *CommandBuffer) Barrier() {
	if c.enc != nil {
		c.enc.Barrier()
	}
}

// Finish ends recording.
func (c *CommandBuffer) Finish() error {
	if c.enc == nil {
		return fmt.Errorf("imgraph: %s: already finished", c.label)
	}
	list, err := c.enc.Finish()
	if err != nil {
		c.enc.Discard()
		c.enc = nil
		return runtimeError("end_encoding", c.label, err)
	}
	c.enc, c.list = nil, list
	return nil
}

// List returns the finished command list, or nil before Finish.
func (c *CommandBuffer) List() gpucore.CommandList { return c.list }

// Release discards an unfinished recording or releases a finished list.
// It is safe to call more than once.
func (c *CommandBuffer) Release() {
	if c.enc != nil {
		c.enc.Discard()
		c.enc = nil
	}
	if c.list != nil {
		c.list.Release()
		c.list = nil
	}
}
