// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/imgraph/backend"
	"github.com/gogpu/imgraph/gpucore"
)

// scaleKernel multiplies every channel of image slot 0 by the f32 push
// constant at offset 0 and stores the result in image slot 1.
func scaleKernel(inv *gpucore.HostInvocation) error {
	src, err := inv.Image(0)
	if err != nil {
		return err
	}
	dst, err := inv.Image(1)
	if err != nil {
		return err
	}
	k := inv.Float32(0)
	inv.Rows(dst.Height, func(y int) {
		for x := 0; x < dst.Width; x++ {
			c := src.At(x, y)
			dst.Set(x, y, [4]float32{c[0] * k, c[1] * k, c[2] * k, c[3] * k})
		}
	})
	return nil
}

// packKernel writes the red channel of image slot 0 as u8 into buffer slot 1.
func packKernel(inv *gpucore.HostInvocation) error {
	src, err := inv.Image(0)
	if err != nil {
		return err
	}
	out, err := inv.Buffer(1)
	if err != nil {
		return err
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			out[y*src.Width+x] = uint8(src.At(x, y)[0] * 255)
		}
	}
	return nil
}

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(d.Destroy)
	return d
}

func pushF32(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func mustImage(t *testing.T, d *Device, label string, w, h uint32) gpucore.ImageID {
	t.Helper()
	id, err := d.CreateImage(&gpucore.ImageDesc{Label: label, Width: w, Height: h, Format: gpucore.FormatRGBA32Float})
	if err != nil {
		t.Fatalf("CreateImage(%s) error = %v", label, err)
	}
	return id
}

func mustKernel(t *testing.T, d *Device, path string, host gpucore.HostKernel, bindings []gpucore.BindingLayout, push uint32) gpucore.KernelID {
	t.Helper()
	id, err := d.CreateKernel(&gpucore.KernelDesc{
		Path:          path,
		EntryPoint:    "main",
		Host:          host,
		WorkgroupSize: [3]uint32{8, 8, 1},
		Bindings:      bindings,
		PushSize:      push,
	})
	if err != nil {
		t.Fatalf("CreateKernel(%s) error = %v", path, err)
	}
	return id
}

var imageToImage = []gpucore.BindingLayout{
	{Slot: 0, Kind: gpucore.BindingImageRead},
	{Slot: 1, Kind: gpucore.BindingImageWrite},
}

// record builds a one-dispatch command list.
func record(t *testing.T, d *Device, label string, k gpucore.KernelID, bindings []gpucore.Binding, push []byte) gpucore.CommandList {
	t.Helper()
	enc, err := d.NewEncoder(label)
	if err != nil {
		t.Fatalf("NewEncoder() error = %v", err)
	}
	if err := enc.Dispatch(k, bindings, push, [3]uint32{1, 1, 1}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	cl, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return cl
}

// =============================================================================
// Registration
// =============================================================================

func TestRegistered(t *testing.T) {
	dev, err := backend.Open(backend.BackendSoftware)
	if err != nil {
		t.Fatalf("backend.Open(software) error = %v", err)
	}
	defer dev.Destroy()
	if _, ok := dev.(*Device); !ok {
		t.Errorf("backend.Open(software) = %T, want *Device", dev)
	}
}

// =============================================================================
// Resources
// =============================================================================

func TestCreateImageValidation(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc gpucore.ImageDesc
		code gpucore.Result
	}{
		{"zero width", gpucore.ImageDesc{Width: 0, Height: 4, Format: gpucore.FormatRGBA8Unorm}, gpucore.ResultInvalidArgument},
		{"too large", gpucore.ImageDesc{Width: 1 << 20, Height: 4, Format: gpucore.FormatRGBA8Unorm}, gpucore.ResultInvalidArgument},
		{"bad format", gpucore.ImageDesc{Width: 4, Height: 4}, gpucore.ResultUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateImage(&tt.desc)
			if got := gpucore.CodeOf(err); got != tt.code {
				t.Errorf("CreateImage() code = %v, want %v (err %v)", got, tt.code, err)
			}
		})
	}
}

func TestAllocationLog(t *testing.T) {
	d := newTestDevice(t)
	img := mustImage(t, d, "a", 2, 2)
	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "b", Size: 16, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if images, buffers := d.Live(); images != 1 || buffers != 1 {
		t.Errorf("Live() = %d, %d, want 1, 1", images, buffers)
	}
	d.DestroyImage(img)
	d.DestroyBuffer(buf)
	d.DestroyBuffer(buf) // double free is ignored

	events := d.Events()
	if len(events) != 4 {
		t.Fatalf("Events() = %d entries, want 4: %+v", len(events), events)
	}
	if events[0].Op != EventAlloc || events[2].Op != EventFree || events[2].Label != "a" {
		t.Errorf("Events() = %+v", events)
	}
	if images, buffers := d.Live(); images != 0 || buffers != 0 {
		t.Errorf("Live() after free = %d, %d, want 0, 0", images, buffers)
	}
}

func TestFailAllocations(t *testing.T) {
	d := newTestDevice(t, WithAllocFailure(func(kind, label string) bool {
		return kind == "buffer" && label == "staging"
	}))
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "other", Size: 4}); err != nil {
		t.Errorf("CreateBuffer(other) error = %v", err)
	}
	_, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "staging", Size: 4})
	if gpucore.CodeOf(err) != gpucore.ResultOutOfMemory {
		t.Errorf("CreateBuffer(staging) error = %v, want out_of_memory", err)
	}

	d.FailAllocations(nil)
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "staging", Size: 4}); err != nil {
		t.Errorf("CreateBuffer(staging) after clear error = %v", err)
	}
}

func TestKernelRequiresHost(t *testing.T) {
	d := newTestDevice(t)
	_, err := d.CreateKernel(&gpucore.KernelDesc{Path: "x", WorkgroupSize: [3]uint32{1, 1, 1}})
	if gpucore.CodeOf(err) != gpucore.ResultUnsupported {
		t.Errorf("CreateKernel() error = %v, want unsupported", err)
	}
}

// =============================================================================
// Execution
// =============================================================================

func TestDispatchAndReadback(t *testing.T) {
	d := newTestDevice(t)
	src := mustImage(t, d, "src", 4, 2)
	dst := mustImage(t, d, "dst", 4, 2)
	pix := make([]float32, 4*2*4)
	for i := range pix {
		pix[i] = 0.25
	}
	if err := d.WriteImage(src, pix); err != nil {
		t.Fatalf("WriteImage() error = %v", err)
	}

	scale := mustKernel(t, d, "test/scale", scaleKernel, imageToImage, 4)
	pack := mustKernel(t, d, "test/pack", packKernel, []gpucore.BindingLayout{
		{Slot: 0, Kind: gpucore.BindingImageRead},
		{Slot: 1, Kind: gpucore.BindingBufferWrite},
	}, 0)
	out, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "out", Size: 8, Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc})
	if err != nil {
		t.Fatal(err)
	}
	staging, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "staging", Size: 8, Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead})
	if err != nil {
		t.Fatal(err)
	}

	enc, _ := d.NewEncoder("frame")
	if err := enc.Dispatch(scale, []gpucore.Binding{{Slot: 0, Image: src}, {Slot: 1, Image: dst}}, pushF32(2), [3]uint32{1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	enc.Barrier()
	if err := enc.Dispatch(pack, []gpucore.Binding{{Slot: 0, Image: dst}, {Slot: 1, Buffer: out}}, nil, [3]uint32{1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	if err := enc.CopyBuffer(out, staging, 8); err != nil {
		t.Fatal(err)
	}
	cl, err := enc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Release()

	fence, _ := d.CreateFence("f")
	if err := d.Submit(&gpucore.Submission{Label: "frame", Commands: []gpucore.CommandList{cl}, Fence: fence}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, err := d.WaitFence(fence, time.Second); !ok || err != nil {
		t.Fatalf("WaitFence() = %v, %v", ok, err)
	}

	got := make([]byte, 8)
	if err := d.ReadBuffer(staging, 0, got); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	for i, v := range got {
		if v != 127 {
			t.Errorf("byte %d = %d, want 127", i, v)
		}
	}

	// Reading a device-local buffer is rejected.
	if err := d.ReadBuffer(out, 0, got); gpucore.CodeOf(err) != gpucore.ResultInvalidArgument {
		t.Errorf("ReadBuffer(device-local) error = %v, want invalid_argument", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	d := newTestDevice(t)
	src := mustImage(t, d, "src", 4, 4)
	k := mustKernel(t, d, "test/scale", scaleKernel, imageToImage, 4)
	enc, _ := d.NewEncoder("bad")
	defer enc.Discard()

	tests := []struct {
		name     string
		bindings []gpucore.Binding
		push     []byte
		groups   [3]uint32
	}{
		{"missing binding", []gpucore.Binding{{Slot: 0, Image: src}}, pushF32(1), [3]uint32{1, 1, 1}},
		{"unknown image", []gpucore.Binding{{Slot: 0, Image: src}, {Slot: 1, Image: 9999}}, pushF32(1), [3]uint32{1, 1, 1}},
		{"short push", []gpucore.Binding{{Slot: 0, Image: src}, {Slot: 1, Image: src}}, nil, [3]uint32{1, 1, 1}},
		{"zero groups", []gpucore.Binding{{Slot: 0, Image: src}, {Slot: 1, Image: src}}, pushF32(1), [3]uint32{0, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := enc.Dispatch(k, tt.bindings, tt.push, tt.groups); err == nil {
				t.Error("Dispatch() error = nil, want error")
			}
		})
	}
}

// =============================================================================
// Synchronization
// =============================================================================

func TestSemaphoreChainOrder(t *testing.T) {
	d := newTestDevice(t)
	img := mustImage(t, d, "img", 1, 1)
	k := mustKernel(t, d, "test/scale", scaleKernel, imageToImage, 4)
	bind := []gpucore.Binding{{Slot: 0, Image: img}, {Slot: 1, Image: img}}

	semA, _ := d.CreateSemaphore("A")
	semB, _ := d.CreateSemaphore("B")
	fence, _ := d.CreateFence("frame")

	subs := []*gpucore.Submission{
		{Label: "A", Commands: []gpucore.CommandList{record(t, d, "A", k, bind, pushF32(1))}, Signal: []gpucore.SemaphoreID{semA}},
		{Label: "B", Commands: []gpucore.CommandList{record(t, d, "B", k, bind, pushF32(1))}, Wait: []gpucore.SemaphoreID{semA}, Signal: []gpucore.SemaphoreID{semB}},
		{Label: "C", Commands: []gpucore.CommandList{record(t, d, "C", k, bind, pushF32(1))}, Wait: []gpucore.SemaphoreID{semB}, Fence: fence},
	}
	for _, s := range subs {
		if err := d.Submit(s); err != nil {
			t.Fatalf("Submit(%s) error = %v", s.Label, err)
		}
	}
	got := d.Completed()
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("Completed() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Completed()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ok, _ := d.FenceSignaled(fence); !ok {
		t.Error("fence not signaled after C")
	}
}

func TestWaitOnUnsignaledSemaphore(t *testing.T) {
	d := newTestDevice(t)
	sem, _ := d.CreateSemaphore("never")
	err := d.Submit(&gpucore.Submission{Label: "orphan", Wait: []gpucore.SemaphoreID{sem}})
	if gpucore.CodeOf(err) != gpucore.ResultInvalidArgument {
		t.Errorf("Submit() error = %v, want invalid_argument", err)
	}
	if len(d.Completed()) != 0 {
		t.Errorf("Completed() = %v, want empty", d.Completed())
	}
}

func TestSignalUnconsumedSemaphore(t *testing.T) {
	d := newTestDevice(t)
	sem, _ := d.CreateSemaphore("s")
	if err := d.Submit(&gpucore.Submission{Label: "first", Signal: []gpucore.SemaphoreID{sem}}); err != nil {
		t.Fatal(err)
	}
	err := d.Submit(&gpucore.Submission{Label: "second", Signal: []gpucore.SemaphoreID{sem}})
	if err == nil {
		t.Error("Submit() signaling a pending binary semaphore succeeded")
	}
}

func TestHoldDefersExecution(t *testing.T) {
	d := newTestDevice(t)
	staging, _ := d.CreateBuffer(&gpucore.BufferDesc{Label: "s", Size: 4, Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead})
	src, _ := d.CreateBuffer(&gpucore.BufferDesc{Label: "d", Size: 4, Usage: gpucore.BufferUsageCopySrc})
	enc, _ := d.NewEncoder("copy")
	if err := enc.CopyBuffer(src, staging, 4); err != nil {
		t.Fatal(err)
	}
	cl, _ := enc.Finish()
	fence, _ := d.CreateFence("f")

	d.Hold()
	if err := d.Submit(&gpucore.Submission{Label: "copy", Commands: []gpucore.CommandList{cl}, Fence: fence}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.WaitFence(fence, 10*time.Millisecond); ok {
		t.Error("fence signaled while held")
	}
	if err := d.ReadBuffer(staging, 0, make([]byte, 4)); gpucore.CodeOf(err) != gpucore.ResultBusy {
		t.Errorf("ReadBuffer() while held error = %v, want busy", err)
	}

	if err := d.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if ok, _ := d.WaitFence(fence, time.Second); !ok {
		t.Error("fence not signaled after Flush")
	}
	if err := d.ReadBuffer(staging, 0, make([]byte, 4)); err != nil {
		t.Errorf("ReadBuffer() after Flush error = %v", err)
	}
}

func TestStalledFence(t *testing.T) {
	d := newTestDevice(t, WithStalledFences())
	fence, _ := d.CreateFence("stuck")
	if err := d.Submit(&gpucore.Submission{Label: "x", Fence: fence}); err != nil {
		t.Fatal(err)
	}
	ok, err := d.WaitFence(fence, 5*time.Millisecond)
	if ok || err != nil {
		t.Errorf("WaitFence() = %v, %v, want false, nil", ok, err)
	}
	if got := d.Completed(); len(got) != 1 {
		t.Errorf("Completed() = %v, work should still run", got)
	}
}

func TestResetFence(t *testing.T) {
	d := newTestDevice(t)
	fence, _ := d.CreateFence("f")
	if err := d.Submit(&gpucore.Submission{Label: "x", Fence: fence}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.FenceSignaled(fence); !ok {
		t.Fatal("fence not signaled")
	}
	if err := d.ResetFence(fence); err != nil {
		t.Fatal(err)
	}
	if ok, _ := d.FenceSignaled(fence); ok {
		t.Error("fence still signaled after reset")
	}
}

func TestDestroyedDevice(t *testing.T) {
	d := New(WithWorkers(1))
	d.Destroy()
	d.Destroy()
	if _, err := d.CreateFence("f"); !errors.Is(err, ErrDestroyed) {
		t.Errorf("CreateFence() after Destroy error = %v, want ErrDestroyed", err)
	}
}
