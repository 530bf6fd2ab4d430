package profiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSelectsVariant(t *testing.T) {
	ctx := context.Background()
	if _, ok := New(ctx, Config{}, nil).(NoOp); !ok {
		t.Fatal("disabled config should yield NoOp")
	}
	if _, ok := New(ctx, Config{Enabled: true, OutputDir: t.TempDir()}, nil).(*Active); !ok {
		t.Fatal("enabled config should yield *Active")
	}
}

func TestNoOpWritesNothing(t *testing.T) {
	var tr Tracer = NoOp{}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	end := tr.Region(context.Background(), "step")
	tr.Step()
	end()
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestActiveScheduleEmitsOneTrace(t *testing.T) {
	out := t.TempDir()
	var ready []string
	a := NewActive(context.Background(), Config{OutputDir: out, Wait: 1, Warmup: 1, Active: 1, RunID: "run"},
		func(_ context.Context, dir string) error {
			ready = append(ready, dir)
			return nil
		})
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var recorded []int
	for step := 0; step < 6; step++ {
		if a.Recording() {
			recorded = append(recorded, step)
		}
		end := a.Region(context.Background(), "train_step")
		end()
		a.Step()
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(recorded) != 1 || recorded[0] != 2 {
		t.Fatalf("recorded steps=%v want [2]", recorded)
	}
	if len(ready) != 1 || ready[0] != filepath.Join(out, "run") {
		t.Fatalf("ready=%v", ready)
	}
	for _, name := range []string{traceFile, cpuFile} {
		info, err := os.Stat(filepath.Join(out, "run", name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
}

func TestActiveStopDuringRecording(t *testing.T) {
	a := NewActive(context.Background(), Config{OutputDir: t.TempDir(), Active: 5}, nil)
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Recording() {
		t.Fatal("zero wait and warmup should record immediately")
	}
	a.Step()
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Recording() {
		t.Fatal("still recording after Stop")
	}
	if filepath.Base(a.Dir()) == "" {
		t.Fatal("missing generated run id")
	}
	if err := a.Start(); err == nil {
		t.Fatal("expected error restarting a stopped tracer")
	}
}

func TestActiveReportsHookError(t *testing.T) {
	boom := errors.New("upload failed")
	a := NewActive(context.Background(), Config{OutputDir: t.TempDir(), Active: 1},
		func(context.Context, string) error { return boom })
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.Step()
	if err := a.Stop(); !errors.Is(err, boom) {
		t.Fatalf("Stop error=%v want %v", err, boom)
	}
}
