// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software implements gpucore.Device on the CPU.
//
// The software device executes the host reference kernel attached to every
// gpucore.KernelDesc, so the same graph runs here and on the GPU backend.
// It is the default device for tests and the fallback of backend.OpenDefault.
//
// The queue is simulated in submission order. Binary semaphores are checked
// on every submission: waiting on a semaphore nobody signaled, or signaling
// one that is still pending, is a submission error. This makes ordering bugs
// in the scheduler visible as test failures rather than data races.
//
// For testing, the device records a completion log and an allocation log and
// supports fault injection:
//
//   - Hold/Flush defer execution of submitted work, so host code can observe
//     the state before the GPU "finishes"
//   - StallFences makes fences never signal, modelling a hung device
//   - FailAllocations makes chosen image or buffer allocations fail
//
// Importing the package registers the "software" backend:
//
//	import _ "github.com/gogpu/imgraph/backend/software"
package software
