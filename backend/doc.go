// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend provides a pluggable registry of compute devices.
//
// Backends are registered via init() functions and selected at runtime.
// Import the backend packages you want to make available:
//
//	import (
//		_ "github.com/gogpu/imgraph/backend/software"
//		_ "github.com/gogpu/imgraph/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use OpenDefault() to get the best available device, or Open() to request
// a specific backend by name:
//
//	dev, err := backend.Open("software")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
// # Available Backends
//
//   - "software": CPU reference device running host kernels (always available)
//   - "wgpu": GPU compute via gogpu/wgpu hal (requires a Vulkan adapter;
//     excluded by the nogpu build tag)
package backend
