// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"errors"
	"testing"

	"github.com/gogpu/imgraph/backend/software"
	"github.com/gogpu/imgraph/gpucore"
)

func TestDownloadSize(t *testing.T) {
	tests := []struct {
		format DownloadFormat
		w, h   int
		want   int
	}{
		{FormatRGBA8, 4, 4, 64},
		{FormatRGBX8, 4, 4, 64},
		{FormatRGBA16, 4, 4, 128},
		{FormatI420, 4, 4, 24},
		{FormatI420, 3, 3, 17}, // chroma rounds up: 9 + 2*2*2
		{FormatI420, 1, 1, 3},
		{FormatI420, 5, 2, 16},
		{DownloadFormat(0), 4, 4, 0},
	}
	for _, tt := range tests {
		if got := DownloadSize(tt.format, tt.w, tt.h); got != tt.want {
			t.Errorf("DownloadSize(%s, %d, %d) = %d, want %d", tt.format, tt.w, tt.h, got, tt.want)
		}
	}
}

func TestParseDownloadFormat(t *testing.T) {
	for _, f := range []DownloadFormat{FormatI420, FormatRGBA16, FormatRGBA8, FormatRGBX8} {
		got, err := ParseDownloadFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseDownloadFormat(%q) = %v, %v", f.String(), got, err)
		}
	}
	if got, err := ParseDownloadFormat("RGBA8"); err != nil || got != FormatRGBA8 {
		t.Errorf("ParseDownloadFormat(RGBA8) = %v, %v", got, err)
	}
	if _, err := ParseDownloadFormat("nv12"); err == nil {
		t.Error("ParseDownloadFormat(nv12) error = nil")
	}
}

// downloadFixture records a 4x4 download into one submission signaling a
// fresh fence. The device may be held so that the work has not run yet.
type downloadFixture struct {
	dev   *software.Device
	img   *Image
	dl    *Downloader
	cmd   *CommandBuffer
	fence *Fence
}

func newDownloadFixture(t *testing.T, dev *software.Device, format DownloadFormat) *downloadFixture {
	t.Helper()
	f := &downloadFixture{dev: dev}

	f.img = NewImage("src", 4, 4, gpucore.FormatRGBA32Float)
	if err := f.img.Allocate(dev); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.img.Deallocate)
	pix := make([]float32, 4*4*4)
	for i := range pix {
		pix[i] = 1
	}
	if err := f.img.Upload(pix); err != nil {
		t.Fatal(err)
	}

	f.dl = NewDownloader("dl", format)
	if err := f.dl.Init(dev); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(f.dl.Destroy)
	if err := f.dl.Allocate(f.img); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	cmd, err := NewCommandBuffer(dev, "download")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cmd.Release)
	f.cmd = cmd
	if err := f.dl.Commands(cmd); err != nil {
		t.Fatalf("Commands() error = %v", err)
	}
	if err := cmd.Finish(); err != nil {
		t.Fatal(err)
	}

	f.fence, err = NewFence(dev, "download")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(f.fence.Destroy)
	return f
}

func (f *downloadFixture) submit(t *testing.T) {
	t.Helper()
	err := f.dev.Submit(&gpucore.Submission{
		Label:    "download",
		Commands: []gpucore.CommandList{f.cmd.List()},
		Fence:    f.fence.ID(),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

func TestDownloaderReadBeforeFence(t *testing.T) {
	dev := newTestDevice(t)
	dev.Hold()
	f := newDownloadFixture(t, dev, FormatRGBA8)
	f.submit(t)

	if _, err := f.dl.Main(f.fence); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Main() before fence error = %v, want ErrNotReady", err)
	}
	if _, err := f.dl.Main(nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Main(nil) error = %v, want ErrNotReady", err)
	}

	if err := dev.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	b, err := f.dl.Main(f.fence)
	if err != nil {
		t.Fatalf("Main() after fence error = %v", err)
	}
	if len(b) != 64 {
		t.Fatalf("Main() returned %d bytes, want 64", len(b))
	}
	for i, v := range b {
		if v != 255 {
			t.Fatalf("byte %d = %d, want 255", i, v)
		}
	}
}

func TestDownloaderStalledFenceNeverReads(t *testing.T) {
	// The work runs but the fence never signals: the result must stay
	// unavailable.
	dev := newTestDevice(t, software.WithStalledFences())
	f := newDownloadFixture(t, dev, FormatRGBX8)
	f.submit(t)

	if err := f.fence.Wait(0); !errors.Is(err, ErrFenceTimeout) {
		t.Errorf("Wait() error = %v, want ErrFenceTimeout", err)
	}
	if _, err := f.dl.Main(f.fence); !errors.Is(err, ErrNotReady) {
		t.Errorf("Main() error = %v, want ErrNotReady", err)
	}
}

func TestDownloaderLifecycle(t *testing.T) {
	dev := newTestDevice(t)
	img := NewImage("src", 2, 2, gpucore.FormatRGBA32Float)
	if err := img.Allocate(dev); err != nil {
		t.Fatal(err)
	}
	defer img.Deallocate()

	dl := NewDownloader("dl", FormatRGBA16)
	if err := dl.Allocate(img); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Allocate() before Init error = %v, want ErrNotAllocated", err)
	}
	if err := dl.Init(dev); err != nil {
		t.Fatal(err)
	}
	if err := dl.Init(dev); !errors.Is(err, ErrAlreadyAllocated) {
		t.Errorf("second Init() error = %v, want ErrAlreadyAllocated", err)
	}
	if err := dl.Allocate(img); err != nil {
		t.Fatal(err)
	}
	if err := dl.Allocate(img); !errors.Is(err, ErrAlreadyAllocated) {
		t.Errorf("second Allocate() error = %v, want ErrAlreadyAllocated", err)
	}
	if dl.Size() != 32 {
		t.Errorf("Size() = %d, want 32", dl.Size())
	}
	if _, buffers := dev.Live(); buffers != 2 {
		t.Errorf("live buffers = %d, want 2", buffers)
	}

	dl.Deallocate()
	dl.Deallocate()
	if _, buffers := dev.Live(); buffers != 0 {
		t.Errorf("live buffers after Deallocate = %d, want 0", buffers)
	}
	if _, err := dl.Main(nil); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Main() after Deallocate error = %v, want ErrNotAllocated", err)
	}
	dl.Destroy()
}

func TestDownloaderI420Groups(t *testing.T) {
	limits := gpucore.DefaultLimits()
	limits.MaxWorkgroupsPerDimension = 2
	dev := newTestDevice(t, software.WithLimits(limits))

	// 40x20: 800 + 2*200 = 1200 bytes, 300 words. A 2x2 grid of 64-wide
	// groups covers 256 words, so the dispatch must stay within the limit
	// and still fill the tail.
	img := NewImage("src", 40, 20, gpucore.FormatRGBA32Float)
	if err := img.Allocate(dev); err != nil {
		t.Fatal(err)
	}
	defer img.Deallocate()
	pix := make([]float32, 40*20*4)
	for i := range pix {
		pix[i] = 1
	}
	if err := img.Upload(pix); err != nil {
		t.Fatal(err)
	}

	dl := NewDownloader("dl", FormatI420)
	if err := dl.Init(dev); err != nil {
		t.Fatal(err)
	}
	defer dl.Destroy()
	if err := dl.Allocate(img); err != nil {
		t.Fatal(err)
	}
	cmd, err := NewCommandBuffer(dev, "download")
	if err != nil {
		t.Fatal(err)
	}
	defer cmd.Release()
	if err := dl.Commands(cmd); err != nil {
		t.Fatalf("Commands() error = %v", err)
	}
	if err := cmd.Finish(); err != nil {
		t.Fatal(err)
	}
	fence, err := NewFence(dev, "f")
	if err != nil {
		t.Fatal(err)
	}
	defer fence.Destroy()
	if err := dev.Submit(&gpucore.Submission{Commands: []gpucore.CommandList{cmd.List()}, Fence: fence.ID()}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	b, err := dl.Main(fence)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 1200 {
		t.Fatalf("len = %d, want 1200", len(b))
	}
	if b[0] != 235 || b[799] != 235 {
		t.Errorf("luma = %d, %d, want 235", b[0], b[799])
	}
	if b[800] != 128 || b[1199] != 128 {
		t.Errorf("chroma = %d, %d, want 128", b[800], b[1199])
	}
}
