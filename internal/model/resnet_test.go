package model

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"

	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

func TestTinyForwardShape(t *testing.T) {
	c := anyvec32.CurrentCreator()
	m, err := New(c, Tiny, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := randomBatch(2, 224, 0)
	out, err := m.Forward(c, batch, spec.Train, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got := out.Output().Len(); got != 2*1000 {
		t.Fatalf("logits=%d want %d", got, 2*1000)
	}
}

func TestForwardRejectsWrongShape(t *testing.T) {
	c := anyvec32.CurrentCreator()
	arch := Tiny
	arch.InputSize = 32
	m, err := New(c, arch, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Forward(c, randomBatch(1, 64, 0), spec.Eval, false); err == nil {
		t.Fatal("expected shape error")
	}
	if _, err := m.Forward(c, spec.Batch{}, spec.Eval, false); err == nil {
		t.Fatal("expected empty batch error")
	}
}

func TestParametersNamedAndShaped(t *testing.T) {
	c := anyvec32.CurrentCreator()
	arch := ResNet50
	arch.InputSize = 32
	arch.Width = 4
	m, err := New(c, arch, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shapes := m.ParamShapes()
	types := m.ParamTypes()
	seen := map[spec.ParameterKey]bool{}
	for _, p := range m.NamedParameters() {
		if seen[p.Key] {
			t.Fatalf("duplicate key %s", p.Key)
		}
		seen[p.Key] = true
		size := 1
		for _, d := range shapes[p.Key] {
			size *= d
		}
		if size != p.Var.Vector.Len() {
			t.Fatalf("%s: shape %v has %d values, var has %d", p.Key, shapes[p.Key], size, p.Var.Vector.Len())
		}
		if _, ok := types[p.Key]; !ok {
			t.Fatalf("%s: missing type", p.Key)
		}
	}
	if got := shapes["output.weights"]; len(got) != 2 || got[0] != 1000 || got[1] != arch.FeatureDepth() {
		t.Fatalf("output.weights shape=%v", got)
	}
	if types["stem.conv.filters"] != spec.ParamConvFilters {
		t.Fatalf("stem filters type=%v", types["stem.conv.filters"])
	}
	if _, ok := shapes["stage1.block0.proj.conv.filters"]; !ok {
		t.Fatal("bottleneck stage1 should project its shortcut")
	}
	if _, ok := shapes["stage1.block1.proj.conv.filters"]; ok {
		t.Fatal("identity block should not project")
	}
	var outputs int
	for _, k := range m.Keys() {
		if strings.HasPrefix(string(k), "output.") {
			outputs++
		}
	}
	if outputs != 2 {
		t.Fatalf("output params=%d want 2", outputs)
	}
}

func TestNewIsDeterministic(t *testing.T) {
	c := anyvec32.CurrentCreator()
	arch := Tiny
	arch.InputSize = 32
	a, err := New(c, arch, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(c, arch, rand.New(rand.NewSource(9)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	av, bv := a.Vars(), b.Vars()
	for i := range av {
		x := av[i].Vector.Data().([]float32)
		y := bv[i].Vector.Data().([]float32)
		for j := range x {
			if x[j] != y[j] {
				t.Fatalf("param %d differs at %d", i, j)
			}
		}
	}
}

func TestEvalLogitsIndependentOfBatch(t *testing.T) {
	c := anyvec32.CurrentCreator()
	arch := Tiny
	arch.InputSize = 32
	m, err := New(c, arch, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Forward(c, randomBatch(4, 32, int64(i)), spec.Train, true); err != nil {
			t.Fatalf("train forward: %v", err)
		}
	}

	batch := randomBatch(3, 32, 10)
	together, err := m.Forward(c, batch, spec.Eval, false)
	if err != nil {
		t.Fatalf("eval forward: %v", err)
	}
	all := together.Output().Data().([]float32)
	var alone [][]float32
	for i := 0; i < batch.Size; i++ {
		out, err := m.Forward(c, single(batch, i), spec.Eval, false)
		if err != nil {
			t.Fatalf("eval forward %d: %v", i, err)
		}
		logits := out.Output().Data().([]float32)
		alone = append(alone, logits)
		for j, x := range logits {
			if y := all[i*1000+j]; math.Abs(float64(x-y)) > 1e-4 {
				t.Fatalf("example %d logit %d: alone=%v in batch=%v", i, j, x, y)
			}
		}
	}

	var diff float64
	for j := range alone[0] {
		diff += math.Abs(float64(alone[0][j] - alone[1][j]))
	}
	if diff == 0 {
		t.Fatal("different inputs evaluated alone produced identical logits")
	}
}

func TestRunningStatsMoveOnlyOnUpdate(t *testing.T) {
	c := anyvec32.CurrentCreator()
	arch := Tiny
	arch.InputSize = 32
	m, err := New(c, arch, rand.New(rand.NewSource(4)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(m.NamedBuffers()) != 2*len(m.norms) {
		t.Fatalf("buffers=%d for %d norms", len(m.NamedBuffers()), len(m.norms))
	}
	batch := randomBatch(2, 32, 5)

	before := snapshot(m.NamedBuffers())
	if _, err := m.Forward(c, batch, spec.Train, false); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if _, err := m.Forward(c, batch, spec.Eval, true); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !equalSnapshots(before, snapshot(m.NamedBuffers())) {
		t.Fatal("running statistics changed without a training update")
	}
	if _, err := m.Forward(c, batch, spec.Train, true); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if equalSnapshots(before, snapshot(m.NamedBuffers())) {
		t.Fatal("running statistics did not change on a training update")
	}
}

func single(b spec.Batch, i int) spec.Batch {
	n := b.ImageSize()
	return spec.Batch{
		Inputs:   b.Inputs[i*n : (i+1)*n],
		Labels:   b.Labels[i : i+1],
		Size:     1,
		Height:   b.Height,
		Width:    b.Width,
		Channels: b.Channels,
	}
}

func snapshot(params []spec.Parameter) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = append([]float32(nil), p.Var.Vector.Data().([]float32)...)
	}
	return out
}

func equalSnapshots(a, b [][]float32) bool {
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func TestLookupArch(t *testing.T) {
	if a, err := LookupArch("resnet50"); err != nil || !a.Bottleneck {
		t.Fatalf("resnet50 lookup: %+v %v", a, err)
	}
	if _, err := LookupArch("vgg"); err == nil {
		t.Fatal("expected unknown arch error")
	}
	bad := Tiny
	bad.Blocks[2] = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func randomBatch(n, size int, seed int64) spec.Batch {
	rng := rand.New(rand.NewSource(seed))
	inputs := make([]float32, n*size*size*3)
	for i := range inputs {
		inputs[i] = float32(rng.NormFloat64())
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rng.Intn(1000)
	}
	return spec.Batch{Inputs: inputs, Labels: labels, Size: n, Height: size, Width: size, Channels: 3}
}
