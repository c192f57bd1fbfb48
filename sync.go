// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"time"

	"github.com/gogpu/imgraph/gpucore"
)

// Semaphore is a GPU-GPU ordering signal. It is owned by the node that
// signals it and consumed by the next submission in the frame.
type Semaphore struct {
	dev   gpucore.Device
	id    gpucore.SemaphoreID
	label string
}

// NewSemaphore creates a semaphore.
func NewSemaphore(dev gpucore.Device, label string) (*Semaphore, error) {
	id, err := dev.CreateSemaphore(label)
	if err != nil {
		return nil, resourceError("semaphore "+label, err)
	}
	return &Semaphore{dev: dev, id: id, label: label}, nil
}

// ID returns the device handle.
func (s *Semaphore) ID() gpucore.SemaphoreID { return s.id }

// Label returns the debug label.
func (s *Semaphore) Label() string { return s.label }

// Destroy releases the semaphore.
func (s *Semaphore) Destroy() {
	if s == nil || s.dev == nil {
		return
	}
	s.dev.DestroySemaphore(s.id)
	s.dev = nil
}

// Fence is a GPU-host completion signal.
type Fence struct {
	dev   gpucore.Device
	id    gpucore.FenceID
	label string
}

// NewFence creates an unsignaled fence.
func NewFence(dev gpucore.Device, label string) (*Fence, error) {
	id, err := dev.CreateFence(label)
	if err != nil {
		return nil, resourceError("fence "+label, err)
	}
	return &Fence{dev: dev, id: id, label: label}, nil
}

// ID returns the device handle.
func (f *Fence) ID() gpucore.FenceID { return f.id }

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

// Signaled reports whether the fence has signaled, without blocking.
func (f *Fence) Signaled() (bool, error) {
	ok, err := f.dev.FenceSignaled(f.id)
	if err != nil {
		return false, runtimeError("fence_status", "", err)
	}
	return ok, nil
}

// Wait blocks until the fence signals. It returns ErrFenceTimeout when the
// timeout expires first.
func (f *Fence) Wait(timeout time.Duration) error {
	ok, err := f.dev.WaitFence(f.id, timeout)
	if err != nil {
		return runtimeError("wait_fence", "", err)
	}
	if !ok {
		return ErrFenceTimeout
	}
	return nil
}

// Reset returns the fence to the unsignaled state.
func (f *Fence) Reset() error {
	if err := f.dev.ResetFence(f.id); err != nil {
		return runtimeError("reset_fence", "", err)
	}
	return nil
}

// Destroy releases the fence.
func (f *Fence) Destroy() {
	if f == nil || f.dev == nil {
		return
	}
	f.dev.DestroyFence(f.id)
	f.dev = nil
}
