// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"log/slog"

	"github.com/gogpu/imgraph/gpucore"
)

// Option configures a Device during creation.
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	workers   int
	limits    gpucore.Limits
	logger    *slog.Logger
	stall     bool
	failAlloc AllocFilter
}

// AllocFilter decides whether an allocation fails.
// kind is "image" or "buffer"; label is the resource label.
type AllocFilter func(kind, label string) bool

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		workers: 0, // GOMAXPROCS
		limits:  gpucore.DefaultLimits(),
		logger:  slog.New(nopHandler{}),
	}
}

// WithWorkers sets the number of goroutines used to run host kernels.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
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

// WithStalledFences creates the device with fences that never signal.
func WithStalledFences() Option {
	return func(o *options) {
		o.stall = true
	}
}

// WithAllocFailure makes allocations matching f fail with ResultOutOfMemory.
func WithAllocFailure(f AllocFilter) Option {
	return func(o *options) {
		o.failAlloc = f
	}
}
