package imgraph

import (
	"log/slog"
	"time"
)

// DefaultFenceTimeout bounds the host wait for a frame to complete.
const DefaultFenceTimeout = 10 * time.Second

// GraphOption configures a Graph during creation.
//
// Example:
//
//	g := imgraph.NewGraph(dev,
//		imgraph.WithLogger(slog.Default()),
//		imgraph.WithFenceTimeout(2*time.Second),
//	)
type GraphOption func(*graphOptions)

// graphOptions holds optional configuration for Graph creation.
type graphOptions struct {
	logger       *slog.Logger
	fenceTimeout time.Duration
	tasks        TaskRunner
	workers      int
	presenter    Presenter
}

// defaultGraphOptions returns the default graph options.
func defaultGraphOptions() graphOptions {
	return graphOptions{
		fenceTimeout: DefaultFenceTimeout,
	}
}

// WithLogger sets the logger for the graph and its nodes.
// The default discards everything.
func WithLogger(l *slog.Logger) GraphOption {
	return func(o *graphOptions) {
		o.logger = l
	}
}

// WithFenceTimeout sets how long Frame waits for the GPU. A frame whose
// fence does not signal in time fails with ErrFenceTimeout and the graph
// refuses further frames.
func WithFenceTimeout(d time.Duration) GraphOption {
	return func(o *graphOptions) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// WithTaskRunner sets the runner for background work such as encoding
// downloaded frames. The graph waits for it on Close but does not close it.
//
// By default the graph creates its own runner on first use and closes it
// on Close.
func WithTaskRunner(r TaskRunner) GraphOption {
	return func(o *graphOptions) {
		o.tasks = r
	}
}

// WithTaskWorkers sets the worker count of the default task runner.
// Zero or less means GOMAXPROCS.
func WithTaskWorkers(n int) GraphOption {
	return func(o *graphOptions) {
		o.workers = n
	}
}

// WithPresenter sets a presenter called with the terminal image of every
// frame that executed work.
func WithPresenter(p Presenter) GraphOption {
	return func(o *graphOptions) {
		o.presenter = p
	}
}
