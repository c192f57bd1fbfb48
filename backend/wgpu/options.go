// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/imgraph/gpucore"
)

// Option configures a Device during creation.
type Option func(*options)

type options struct {
	api         gputypes.Backend
	limits      gpucore.Limits
	logger      *slog.Logger
	idleTimeout time.Duration
	wgsl        bool
}

func defaultOptions() options {
	return options{
		api:         gputypes.BackendVulkan,
		limits:      gpucore.DefaultLimits(),
		logger:      slog.New(nopHandler{}),
		idleTimeout: 10 * time.Second,
	}
}

// WithAPI selects the hal backend used by New. The default is Vulkan.
func WithAPI(api gputypes.Backend) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithLimits overrides the reported device limits.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithLogger sets the logger for device diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIdleTimeout bounds WaitIdle and the wait performed by Destroy.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTimeout = d
		}
	}
}

// WithWGSLModules hands WGSL source to the driver instead of SPIR-V
// compiled by naga. Only backends with a native WGSL front end accept it.
func WithWGSLModules() Option {
	return func(o *options) {
		o.wgsl = true
	}
}
