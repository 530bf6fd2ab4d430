package profiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"runtime/trace"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const (
	traceFile = "trace.out"
	cpuFile   = "cpu.pprof"
)

type phase int

const (
	phaseIdle phase = iota
	phaseWaiting
	phaseRecording
	phaseDone
)

// Active skips Wait steps, lets Warmup steps pass, then records an execution
// trace and CPU profile for Active steps. The cycle runs once per Start.
type Active struct {
	cfg     Config
	ctx     context.Context
	log     klog.Logger
	onReady func(ctx context.Context, dir string) error

	dir   string
	phase phase
	step  int
	files []*os.File
	err   error
}

var _ Tracer = (*Active)(nil)

// NewActive builds an Active tracer. A missing RunID gets a random UUID.
// onReady, when set, receives the trace directory after recording ends.
func NewActive(ctx context.Context, cfg Config, onReady func(ctx context.Context, dir string) error) *Active {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./log/trace_profiler"
	}
	if cfg.Active <= 0 {
		cfg.Active = 1
	}
	return &Active{
		cfg:     cfg,
		ctx:     ctx,
		log:     klog.FromContext(ctx).WithValues("run", cfg.RunID),
		onReady: onReady,
		dir:     filepath.Join(cfg.OutputDir, cfg.RunID),
	}
}

// Dir returns where traces are written.
func (a *Active) Dir() string {
	return a.dir
}

func (a *Active) Start() error {
	if a.phase != phaseIdle {
		return errors.New("profiler: already started")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("profiler: creating trace dir: %w", err)
	}
	a.phase = phaseWaiting
	a.step = 0
	a.log.Info("Profiler armed", "dir", a.dir, "wait", a.cfg.Wait, "warmup", a.cfg.Warmup, "active", a.cfg.Active)
	a.maybeBegin()
	return nil
}

// Step advances the schedule. Recording errors are kept and reported by
// Stop.
func (a *Active) Step() {
	switch a.phase {
	case phaseWaiting:
		a.step++
		a.maybeBegin()
	case phaseRecording:
		a.step++
		if a.step >= a.cfg.Wait+a.cfg.Warmup+a.cfg.Active {
			a.finish()
		}
	}
}

func (a *Active) Stop() error {
	if a.phase == phaseRecording {
		a.finish()
	}
	a.phase = phaseDone
	return a.err
}

func (a *Active) Region(ctx context.Context, name string) func() {
	return region(ctx, name)
}

// Recording reports whether a trace is currently being captured.
func (a *Active) Recording() bool {
	return a.phase == phaseRecording
}

func (a *Active) maybeBegin() {
	if a.step < a.cfg.Wait+a.cfg.Warmup {
		return
	}
	if err := a.begin(); err != nil {
		a.err = err
		a.closeFiles()
		a.phase = phaseDone
		return
	}
	a.phase = phaseRecording
}

func (a *Active) begin() error {
	tf, err := os.Create(filepath.Join(a.dir, traceFile))
	if err != nil {
		return fmt.Errorf("profiler: %w", err)
	}
	a.files = append(a.files, tf)
	if err := trace.Start(tf); err != nil {
		return fmt.Errorf("profiler: starting execution trace: %w", err)
	}

	cf, err := os.Create(filepath.Join(a.dir, cpuFile))
	if err != nil {
		trace.Stop()
		return fmt.Errorf("profiler: %w", err)
	}
	a.files = append(a.files, cf)
	if err := pprof.StartCPUProfile(cf); err != nil {
		trace.Stop()
		return fmt.Errorf("profiler: starting cpu profile: %w", err)
	}
	a.log.Info("Profiler recording", "step", a.step)
	return nil
}

func (a *Active) finish() {
	pprof.StopCPUProfile()
	trace.Stop()
	if err := a.closeFiles(); err != nil && a.err == nil {
		a.err = err
	}
	a.phase = phaseDone
	a.log.Info("Profiler trace ready", "dir", a.dir, "steps", a.cfg.Active)

	if a.onReady != nil {
		if err := a.onReady(a.ctx, a.dir); err != nil && a.err == nil {
			a.err = fmt.Errorf("profiler: trace ready hook: %w", err)
		}
	}
}

func (a *Active) closeFiles() error {
	var errs []error
	for _, f := range a.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.files = nil
	return errors.Join(errs...)
}
