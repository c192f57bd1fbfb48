// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/imgraph/gpucore"
)

// Error categories. Use errors.Is to classify errors returned by the engine.
var (
	// ErrWiring reports a malformed graph: missing or incompatible inputs,
	// unknown nodes or parameters, duplicate IDs. Fatal to a build.
	ErrWiring = errors.New("imgraph: wiring error")

	// ErrCycle reports a dependency cycle. Cycle errors also match ErrWiring.
	ErrCycle = errors.New("imgraph: dependency cycle")

	// ErrResource reports a device allocation failure or unsupported format.
	// Fatal to the current frame.
	ErrResource = errors.New("imgraph: resource error")

	// ErrRuntime reports a failed native call (submission, synchronization).
	// The graph refuses further frames after a runtime error.
	ErrRuntime = errors.New("imgraph: runtime error")
)

// Specific errors.
var (
	// ErrNotReady is returned when host code asks for downloaded data before
	// the fence guarding it has signaled.
	ErrNotReady = errors.New("imgraph: result not ready, fence has not signaled")

	// ErrFenceTimeout is returned when a fence does not signal in time.
	ErrFenceTimeout = fmt.Errorf("%w: fence wait timed out", ErrRuntime)

	// ErrAlreadyAllocated is returned when allocating a live resource.
	ErrAlreadyAllocated = errors.New("imgraph: resource already allocated")

	// ErrNotAllocated is returned when using a resource before allocation.
	ErrNotAllocated = errors.New("imgraph: resource not allocated")

	// ErrNotBuilt is returned by Frame before the first Build.
	ErrNotBuilt = errors.New("imgraph: graph not built")

	// ErrPoisoned is returned by Frame after a runtime error.
	ErrPoisoned = errors.New("imgraph: graph unusable after runtime error")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("imgraph: graph closed")
)

// WiringError describes one wiring problem. Build aggregates all of them
// with errors.Join rather than stopping at the first.
type WiringError struct {
	// Kind is ErrWiring or ErrCycle.
	Kind error
	// Node is the ID of the node at fault, if any.
	Node string
	// Slot is the input slot name, if any.
	Slot string
	// Msg is a human-readable description.
	Msg string
}

func (e *WiringError) Error() string {
	var b strings.Builder
	b.WriteString(e.kind().Error())
	if e.Node != "" {
		fmt.Fprintf(&b, ": node %q", e.Node)
	}
	if e.Slot != "" {
		fmt.Fprintf(&b, " input %q", e.Slot)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *WiringError) kind() error {
	if e.Kind == nil {
		return ErrWiring
	}
	return e.Kind
}

// Unwrap reports both the specific kind and ErrWiring.
func (e *WiringError) Unwrap() []error {
	if k := e.kind(); k != ErrWiring {
		return []error{k, ErrWiring}
	}
	return []error{ErrWiring}
}

func wiringf(node, slot, format string, args ...any) error {
	return &WiringError{Kind: ErrWiring, Node: node, Slot: slot, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &WiringError{Kind: ErrCycle, Msg: msg}
}

// RuntimeError carries the context of a failed native call.
type RuntimeError struct {
	// Op is the failed operation, for example "submit" or "wait_fence".
	Op string
	// Node is the node being executed, if any.
	Node string
	// Code is the backend result code.
	Code gpucore.Result
	// Err is the underlying error.
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("imgraph: node %q: %s failed (%s): %v", e.Node, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("imgraph: %s failed (%s): %v", e.Op, e.Code, e.Err)
}

// Unwrap reports ErrRuntime and the underlying error.
func (e *RuntimeError) Unwrap() []error {
	return []error{ErrRuntime, e.Err}
}

func runtimeError(op, node string, err error) error {
	return &RuntimeError{Op: op, Node: node, Code: gpucore.CodeOf(err), Err: err}
}

// resourceError wraps a device allocation failure as ErrResource.
func resourceError(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrResource, what, err)
}
