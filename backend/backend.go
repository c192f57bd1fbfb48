// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"

	"github.com/gogpu/imgraph/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU reference device.
	BackendSoftware = "software"
	// BackendWGPU is the name of the Pure Go GPU device (gogpu/wgpu hal).
	BackendWGPU = "wgpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new compute device.
// Factories are called lazily; a registered backend may still fail to open,
// for example when no adapter is present.
type Factory func() (gpucore.Device, error)
