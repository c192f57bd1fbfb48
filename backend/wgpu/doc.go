// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package wgpu implements gpucore.Device on the gogpu/wgpu hardware
// abstraction layer.
//
// Every image is a storage buffer of RGBA float32 texels, bound to kernels
// as array<vec4<f32>>. Kernel WGSL is compiled to SPIR-V with gogpu/naga
// and the push-constant block is bound as a uniform buffer at binding 0,
// so gpucore slot N lands at binding N+1.
//
// All work goes to a single queue. Completion is tracked with one timeline
// fence whose value is the submission serial; gpucore fences record the
// serial of the submission that signals them. Because the queue executes
// in order, semaphores only need bookkeeping, not a native object.
//
// The device is created on the first Vulkan adapter found, preferring
// discrete and integrated GPUs:
//
//	dev, err := wgpu.New()
//
// A host application that already owns a device can share it through
// NewFromProvider. The provider's device is not destroyed by Destroy.
//
// Importing the package registers the "wgpu" backend. Build with the
// nogpu tag to leave it out.
package wgpu
