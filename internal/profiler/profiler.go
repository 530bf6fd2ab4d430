// Package profiler captures execution traces around training steps.
package profiler

import (
	"context"
	"runtime/trace"
)

// Tracer is stepped once per training step. Implementations decide when to
// record.
type Tracer interface {
	Start() error
	Step()
	Stop() error
	// Region marks a named span inside the current step. Call the returned
	// function to end it.
	Region(ctx context.Context, name string) func()
}

// Config selects and schedules a tracer.
type Config struct {
	Enabled   bool
	OutputDir string
	Wait      int
	Warmup    int
	Active    int
	RunID     string
}

// New returns an Active tracer when cfg.Enabled is set, NoOp otherwise.
func New(ctx context.Context, cfg Config, onReady func(ctx context.Context, dir string) error) Tracer {
	if !cfg.Enabled {
		return NoOp{}
	}
	return NewActive(ctx, cfg, onReady)
}

// NoOp records nothing.
type NoOp struct{}

func (NoOp) Start() error { return nil }
func (NoOp) Step()        {}
func (NoOp) Stop() error  { return nil }

func (NoOp) Region(context.Context, string) func() {
	return func() {}
}

func region(ctx context.Context, name string) func() {
	r := trace.StartRegion(ctx, name)
	return r.End
}
