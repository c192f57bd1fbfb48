// Command imgraph runs an image-processing graph described in an HCL file.
//
// Usage:
//
//	imgraph [options] GRAPH.hcl
//
// Parameters can be overridden from the command line:
//
//	imgraph -set src.width=1280 -set fx.amount=0.5 -frames 3 graph.hcl
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gogpu/imgraph"
	"github.com/gogpu/imgraph/backend"
	"github.com/gogpu/imgraph/backend/software"
	"github.com/gogpu/imgraph/config"
	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/nodes"
)

// ExitError carries a process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// paramEdit is one -set flag.
type paramEdit struct {
	node, param, value string
}

// editFlags collects repeated -set node.param=value flags.
type editFlags []paramEdit

func (f *editFlags) String() string {
	parts := make([]string, len(*f))
	for i, e := range *f {
		parts[i] = e.node + "." + e.param + "=" + e.value
	}
	return strings.Join(parts, ",")
}

func (f *editFlags) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("want node.param=value, got %q", s)
	}
	node, param, ok := strings.Cut(key, ".")
	if !ok || node == "" || param == "" {
		return fmt.Errorf("want node.param=value, got %q", s)
	}
	*f = append(*f, paramEdit{node: node, param: param, value: value})
	return nil
}

// options are the parsed command line.
type options struct {
	path     string
	backend  string
	frames   int
	workers  int
	timeout  time.Duration
	verbose  bool
	list     bool
	edits    editFlags
	logLevel slog.Level
}

func parseArgs(args []string, out io.Writer) (*options, bool, error) {
	fs := flag.NewFlagSet("imgraph", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, `
imgraph - runs an image-processing node graph on the GPU or CPU.

Usage:
  imgraph [options] GRAPH.hcl

Options:
`)
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVar(&o.backend, "backend", "auto", "Compute backend: 'auto', 'software' or 'wgpu'.")
	fs.IntVar(&o.frames, "frames", 0, "Frames to run. 0 uses the file's frames attribute, or 1.")
	fs.IntVar(&o.workers, "workers", 0, "Worker goroutines for the software device and encoders. 0 is GOMAXPROCS.")
	fs.DurationVar(&o.timeout, "timeout", 0, "Per-frame GPU fence timeout. 0 uses the file's fence_timeout, or the default.")
	fs.BoolVar(&o.verbose, "v", false, "Log at debug level.")
	fs.BoolVar(&o.list, "list", false, "List node types and exit.")
	fs.Var(&o.edits, "set", "Override a parameter as node.param=value. Repeatable.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	o.logLevel = slog.LevelInfo
	if o.verbose {
		o.logLevel = slog.LevelDebug
	}
	if o.list {
		return o, false, nil
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, false, &ExitError{Code: 2}
	}
	o.path = fs.Arg(0)
	if o.frames < 0 {
		return nil, false, &ExitError{Code: 2, Message: "frames must not be negative"}
	}
	return o, false, nil
}

// run is main without process concerns.
func run(ctx context.Context, out, logOut io.Writer, args []string) error {
	o, exit, err := parseArgs(args, out)
	if err != nil || exit {
		return err
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: o.logLevel}))

	reg := imgraph.NewRegistry()
	if err := nodes.Register(reg); err != nil {
		return err
	}
	if o.list {
		return listTypes(out, reg)
	}

	cfg, err := config.Load(o.path)
	if err != nil {
		return err
	}
	if err := applyEdits(cfg.Description, o.edits); err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}

	dev, err := openDevice(o, logger)
	if err != nil {
		return err
	}
	defer dev.Destroy()
	logger.Info("imgraph: device ready", "device", dev.Name())

	gopts := []imgraph.GraphOption{
		imgraph.WithLogger(logger),
		imgraph.WithTaskWorkers(o.workers),
	}
	if timeout := firstNonZero(o.timeout, cfg.FenceTimeout); timeout > 0 {
		gopts = append(gopts, imgraph.WithFenceTimeout(timeout))
	}
	g, err := reg.Build(ctx, dev, cfg.Description, gopts...)
	if err != nil {
		return err
	}

	frames := o.frames
	if frames == 0 {
		frames = max(cfg.Description.Frames, 1)
	}
	runErr := runFrames(ctx, g, frames, logger)
	closeErr := g.Close()
	return errors.Join(runErr, closeErr)
}

// firstNonZero returns the first non-zero duration.
func firstNonZero(a, b time.Duration) time.Duration {
	if a != 0 {
		return a
	}
	return b
}

// runFrames executes frames, logging each report. A failed frame does not
// stop the run unless it poisoned the graph; the failures are returned
// together at the end.
func runFrames(ctx context.Context, g *imgraph.Graph, frames int, logger *slog.Logger) error {
	var errs []error
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := g.Frame(ctx)
		if errors.Is(err, imgraph.ErrPoisoned) {
			logger.Error("imgraph: graph unusable, stopping", "frame", i+1, "remaining", frames-i)
			if len(errs) == 0 {
				errs = append(errs, err)
			}
			break
		}
		if err != nil {
			logger.Error("imgraph: frame failed", "frame", i+1, "err", err)
			errs = append(errs, fmt.Errorf("frame %d: %w", i+1, err))
			continue
		}
		logger.Info("imgraph: frame",
			"index", rep.Index, "kind", rep.Kind, "executed", rep.Executed, "duration", rep.Duration)
	}
	if err := g.WaitTasks(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// applyEdits merges -set overrides into the description.
func applyEdits(desc *imgraph.Description, edits editFlags) error {
	for _, e := range edits {
		found := false
		for i := range desc.Nodes {
			nd := &desc.Nodes[i]
			if nd.ID != e.node {
				continue
			}
			if nd.Params == nil {
				nd.Params = make(map[string]any)
			}
			nd.Params[e.param] = e.value
			found = true
		}
		if !found {
			return fmt.Errorf("-set %s.%s: no node %q", e.node, e.param, e.node)
		}
	}
	return nil
}

// openDevice opens the requested backend.
func openDevice(o *options, logger *slog.Logger) (gpucore.Device, error) {
	switch o.backend {
	case "auto":
		if !backend.IsRegistered(backend.BackendWGPU) {
			return newSoftware(o, logger), nil
		}
		dev, err := backend.Open(backend.BackendWGPU)
		if err != nil {
			logger.Warn("imgraph: GPU unavailable, using software device", "err", err)
			return newSoftware(o, logger), nil
		}
		return dev, nil
	case backend.BackendSoftware:
		return newSoftware(o, logger), nil
	default:
		return backend.Open(o.backend)
	}
}

func newSoftware(o *options, logger *slog.Logger) gpucore.Device {
	return software.New(software.WithWorkers(o.workers), software.WithLogger(logger))
}

// listTypes prints every node type with its tags, inputs and parameters.
func listTypes(out io.Writer, reg *imgraph.Registry) error {
	for _, name := range reg.Names() {
		t, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		tags := make([]string, len(t.Tags))
		for i, tag := range t.Tags {
			tags[i] = string(tag)
		}
		fmt.Fprintf(out, "%-12s %s\n", t.Name, t.Description)
		fmt.Fprintf(out, "    tags:   %s\n", strings.Join(tags, ", "))
		if slots := t.Slots(); len(slots) > 0 {
			names := make([]string, len(slots))
			for i, s := range slots {
				names[i] = s.Name
			}
			fmt.Fprintf(out, "    inputs: %s\n", strings.Join(names, ", "))
		}
		for _, p := range t.Prototype.Params().List() {
			fmt.Fprintf(out, "    %-10s %-6s default %v\n", p.Name(), p.Kind(), p.Default())
		}
	}
	return nil
}
