// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import "time"

// Device abstracts over the compute backends.
//
// This interface is the core abstraction that lets the graph engine run the
// same nodes on the software reference device and on gogpu/wgpu.
// Implementations must be safe for concurrent use, although the engine only
// records and submits from a single goroutine.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource referenced by in-flight work is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// Name returns a human-readable backend/adapter name.
	Name() string

	// Limits returns the device limits. They are immutable for the
	// lifetime of the device.
	Limits() Limits

	// === Images ===

	// CreateImage allocates a device image.
	CreateImage(desc *ImageDesc) (ImageID, error)

	// DestroyImage releases a device image.
	DestroyImage(id ImageID)

	// WriteImage uploads RGBA float pixels (width*height*4 values) to an
	// image. The write is ordered before any work submitted afterwards.
	WriteImage(id ImageID, pix []float32) error

	// === Buffers ===

	// CreateBuffer allocates a device buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a device buffer.
	DestroyBuffer(id BufferID)

	// ReadBuffer copies len(dst) bytes from a host-visible buffer.
	// The caller must have observed the completion of the writing work
	// through a fence.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// === Kernels ===

	// CreateKernel compiles a compute kernel.
	CreateKernel(desc *KernelDesc) (KernelID, error)

	// DestroyKernel releases a compute kernel.
	DestroyKernel(id KernelID)

	// === Synchronization ===

	// CreateSemaphore creates a binary GPU-GPU ordering signal.
	CreateSemaphore(label string) (SemaphoreID, error)

	// DestroySemaphore releases a semaphore.
	DestroySemaphore(id SemaphoreID)

	// CreateFence creates an unsignaled GPU-host completion signal.
	CreateFence(label string) (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(id FenceID)

	// FenceSignaled reports whether the fence has signaled without blocking.
	FenceSignaled(id FenceID) (bool, error)

	// WaitFence blocks until the fence signals or the timeout expires.
	// It returns false (and no error) on timeout.
	WaitFence(id FenceID, timeout time.Duration) (bool, error)

	// ResetFence returns a signaled fence to the unsignaled state.
	ResetFence(id FenceID) error

	// === Command Recording and Execution ===

	// NewEncoder begins recording a command list.
	NewEncoder(label string) (CommandEncoder, error)

	// Submit hands finished command lists to the compute queue.
	Submit(sub *Submission) error

	// WaitIdle waits for all submitted work to complete.
	WaitIdle() error

	// Destroy releases the device. All resources must be destroyed first.
	Destroy()
}

// CommandEncoder records compute commands.
//
// Usage:
//  1. Obtain an encoder from Device.NewEncoder()
//  2. Record Dispatch, CopyBuffer and Barrier commands
//  3. Call Finish() to obtain a CommandList, or Discard() to drop it
//  4. Pass the CommandList to Device.Submit()
//
// The encoder is single-use and not safe for concurrent use.
type CommandEncoder interface {
	// Dispatch records a kernel dispatch of groups workgroups.
	Dispatch(kernel KernelID, bindings []Binding, push []byte, groups [3]uint32) error

	// CopyBuffer records a copy of size bytes from src to dst.
	CopyBuffer(src, dst BufferID, size uint64) error

	// Barrier orders all previously recorded commands before the following ones.
	Barrier()

	// Finish ends recording.
	Finish() (CommandList, error)

	// Discard drops all recorded commands. It is safe to call after Finish
	// has failed and is a no-op after a successful Finish.
	Discard()
}

// CommandList is a finished, submittable recording.
type CommandList interface {
	// Label returns the debug label given to NewEncoder.
	Label() string

	// Release frees the list. Releasing a submitted list is deferred by the
	// backend until its work has completed.
	Release()
}

// Submission is one queue submission.
type Submission struct {
	// Label is an optional debug label.
	Label string

	// Commands are executed in order.
	Commands []CommandList

	// Wait lists semaphores the submission waits on. Each must have been
	// signaled by an earlier submission.
	Wait []SemaphoreID

	// Signal lists semaphores signaled when the submission completes.
	Signal []SemaphoreID

	// Fence is signaled when the submission completes (InvalidID for none).
	Fence FenceID
}
