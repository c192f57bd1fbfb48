// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"fmt"
)

// Result is a backend result code attached to failed native calls.
type Result int

// Result codes.
const (
	ResultUnknown Result = iota
	ResultOutOfMemory
	ResultInvalidHandle
	ResultInvalidArgument
	ResultUnsupported
	ResultNotSignaled
	ResultDeviceLost
	ResultTimeout
	ResultBusy
)

// String returns the string representation of the result code.
func (r Result) String() string {
	switch r {
	case ResultOutOfMemory:
		return "out_of_memory"
	case ResultInvalidHandle:
		return "invalid_handle"
	case ResultInvalidArgument:
		return "invalid_argument"
	case ResultUnsupported:
		return "unsupported"
	case ResultNotSignaled:
		return "not_signaled"
	case ResultDeviceLost:
		return "device_lost"
	case ResultTimeout:
		return "timeout"
	case ResultBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is returned by backends when a native call fails.
type Error struct {
	// Op is the failed operation, for example "submit" or "create_image".
	Op string

	// Code is the backend result code.
	Code Result

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gpucore: %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gpucore: %s failed (%s)", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted cause.
func Errorf(op string, code Result, format string, args ...any) error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the result code from err, or ResultUnknown.
func CodeOf(err error) Result {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ResultUnknown
}
