// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucore provides the backend-neutral device abstraction used by the
// imgraph execution engine.
//
// This package defines the [Device] interface, which abstracts over the
// compute backends the engine can run on:
//   - backend/software (CPU reference device, used by tests and headless runs)
//   - backend/wgpu (gogpu/wgpu HAL, Vulkan or a host-provided device)
//
// # Architecture
//
//	               +-----------------+
//	               |     imgraph     |
//	               | (Graph, Nodes)  |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |    gpucore      |
//	               |    (Device)     |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|    software     |          |      wgpu       |
//	|  (host kernels) |          |  (hal.Device)   |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([ImageID], [BufferID], [KernelID],
// [SemaphoreID], [FenceID]). Backends track the mapping between IDs and the
// actual resources. IDs become invalid after destruction and are never reused.
//
// # Queue Model
//
// Every device exposes exactly one compute queue. Work is recorded with a
// [CommandEncoder], finished into a [CommandList] and handed to
// [Device.Submit] together with the semaphores it waits on and signals and an
// optional fence. Semaphores are binary: every signal is consumed by exactly
// one wait. Fences are the only way for the host to observe completion.
//
// # Kernels
//
// A kernel is described by [KernelDesc]: a shader path, entry point, WGSL
// source for GPU backends, a [HostKernel] reference implementation for the
// software backend, a workgroup size and the binding layout.
package gpucore
