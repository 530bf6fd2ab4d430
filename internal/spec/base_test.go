package spec

import (
	"errors"
	"testing"
)

func TestHasReachedGoal(t *testing.T) {
	b := &Base{Target: 0.76}
	cases := []struct {
		accuracy float64
		want     bool
	}{
		{0, false},
		{0.5, false},
		{0.76, false},
		{0.7600001, true},
		{1, true},
	}
	for _, c := range cases {
		got := b.HasReachedGoal(EvalResult{"accuracy": c.accuracy, "loss": 1})
		if got != c.want {
			t.Fatalf("accuracy=%v: got %v want %v", c.accuracy, got, c.want)
		}
	}
	if b.HasReachedGoal(EvalResult{"loss": 0}) {
		t.Fatal("missing accuracy must not reach the goal")
	}
}

func TestBaseAbstractMethods(t *testing.T) {
	b := &Base{Name: "fake"}
	if _, err := b.IsOutputParams("output.weights"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("IsOutputParams: expected ErrNotImplemented, got %v", err)
	}
	if _, err := b.ParamShapes(); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("ParamShapes: expected ErrNotImplemented, got %v", err)
	}
	if _, err := b.ModelParamsTypes(); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("ModelParamsTypes: expected ErrNotImplemented, got %v", err)
	}
}

func TestBaseConstantsAreCopies(t *testing.T) {
	b := &Base{Mean: []float64{1, 2, 3}, Stddev: []float64{4, 5, 6}}
	m := b.TrainMean()
	m[0] = 100
	if b.Mean[0] != 1 {
		t.Fatal("TrainMean leaked internal slice")
	}
	s := b.TrainStddev()
	s[0] = 100
	if b.Stddev[0] != 4 {
		t.Fatal("TrainStddev leaked internal slice")
	}
}
