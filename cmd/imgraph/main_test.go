package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/backend/software"
	"github.com/gogpu/imgraph/config"
	"github.com/gogpu/imgraph/nodes"
)

func writeGraph(t *testing.T, dir string) string {
	t.Helper()
	src := fmt.Sprintf(`
frames = 2

node "pattern" "src" {
  params = {
    width  = 8
    height = 4
  }
}

node "writer" "out" {
  inputs = ["src"]
  params = {
    path       = %q
    continuous = true
  }
}
`, filepath.Join(dir, "f-{frame}.png"))
	path := filepath.Join(dir, "graph.hcl")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunWritesFrames(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir)
	var out, logs bytes.Buffer

	err := run(context.Background(), &out, &logs, []string{"-backend", "software", "-workers", "2", "-set", "src.width=6", graph})
	if err != nil {
		t.Fatalf("run() error = %v\nlogs:\n%s", err, logs.String())
	}
	for _, name := range []string{"f-000001.png", "f-000002.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if !strings.Contains(logs.String(), "imgraph: frame") {
		t.Errorf("logs lack frame reports:\n%s", logs.String())
	}
}

func TestRunFramesFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir)
	var out, logs bytes.Buffer
	if err := run(context.Background(), &out, &logs, []string{"-backend", "software", "-frames", "1", graph}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "f-000002.png")); !os.IsNotExist(err) {
		t.Errorf("second frame written with -frames 1 (err = %v)", err)
	}
}

func TestRunList(t *testing.T) {
	var out, logs bytes.Buffer
	if err := run(context.Background(), &out, &logs, []string{"-list"}); err != nil {
		t.Fatalf("run(-list) error = %v", err)
	}
	for _, want := range []string{"saturation", "writer", "tags:", "amount"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("listing lacks %q:\n%s", want, out.String())
		}
	}
}

func TestRunHelp(t *testing.T) {
	var out, logs bytes.Buffer
	if err := run(context.Background(), &out, &logs, []string{"-h"}); err != nil {
		t.Fatalf("run(-h) error = %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("help lacks usage:\n%s", out.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir)
	tests := []struct {
		name string
		args []string
	}{
		{"no graph", nil},
		{"bad set", []string{"-set", "width=3", graph}},
		{"unknown node", []string{"-set", "nope.width=3", graph}},
		{"negative frames", []string{"-frames", "-1", graph}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, logs bytes.Buffer
			err := run(context.Background(), &out, &logs, tt.args)
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Code != 2 {
				t.Errorf("run() error = %v, want exit code 2", err)
			}
		})
	}
}

func TestRunUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	graph := writeGraph(t, dir)
	var out, logs bytes.Buffer
	if err := run(context.Background(), &out, &logs, []string{"-backend", "metal", graph}); err == nil {
		t.Error("run() with unknown backend succeeded")
	}
}

func TestEditFlags(t *testing.T) {
	var f editFlags
	if err := f.Set("fx.color=1,0,0,1"); err != nil {
		t.Fatal(err)
	}
	if len(f) != 1 || f[0] != (paramEdit{node: "fx", param: "color", value: "1,0,0,1"}) {
		t.Errorf("edits = %+v", f)
	}
	if got := f.String(); got != "fx.color=1,0,0,1" {
		t.Errorf("String() = %q", got)
	}
	for _, bad := range []string{"fx", "fx=1", ".a=1", "fx.=1"} {
		if err := f.Set(bad); err == nil {
			t.Errorf("Set(%q) succeeded", bad)
		}
	}
}

func TestRunFramesStopsWhenPoisoned(t *testing.T) {
	dev := software.New(software.WithStalledFences())
	defer dev.Destroy()
	reg := imgraph.NewRegistry()
	if err := nodes.Register(reg); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Parse([]byte(`
node "pattern" "src" {
  params = { width = 4, height = 4 }
}

node "saturation" "sat" {
  inputs = ["src"]
}
`), "stall.hcl")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	g, err := reg.Build(ctx, dev, cfg.Description, imgraph.WithFenceTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	var logs bytes.Buffer
	err = runFrames(ctx, g, 5, slog.New(slog.NewTextHandler(&logs, nil)))
	if !errors.Is(err, imgraph.ErrFenceTimeout) {
		t.Fatalf("runFrames() error = %v, want ErrFenceTimeout", err)
	}
	if n := strings.Count(logs.String(), "imgraph: frame failed"); n != 1 {
		t.Errorf("logged %d frame failures, want 1:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "stopping") {
		t.Errorf("logs lack the stop message:\n%s", logs.String())
	}
}
