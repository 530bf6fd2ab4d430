package checkpoint

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"

	"github.com/danielsnider/algorithmic-efficiency/internal/blobs"
	"github.com/danielsnider/algorithmic-efficiency/internal/model"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

var testArch = model.Arch{Name: "ckpt", Blocks: [4]int{1, 1, 1, 1}, Width: 2, NumClasses: 3, InputSize: 32}

func newModel(t *testing.T, seed int64) *model.Model {
	t.Helper()
	m, err := model.New(anyvec32.CurrentCreator(), testArch, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &blobs.DirStore{Dir: t.TempDir()}
	src := newModel(t, 1)
	dst := newModel(t, 2)
	// Move the running statistics away from their initial values.
	batch := spec.Batch{Inputs: make([]float32, 2*32*32*3), Labels: []int{0, 1}, Size: 2, Height: 32, Width: 32, Channels: 3}
	for i := range batch.Inputs {
		batch.Inputs[i] = float32(i%7) - 3
	}
	if _, err := src.Forward(anyvec32.CurrentCreator(), batch, spec.Train, true); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	key, err := Save(ctx, store, 42, testArch.Name, src)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if key != Key(42) {
		t.Fatalf("key=%s", key)
	}
	step, err := Load(ctx, store, key, testArch.Name, dst)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if step != 42 {
		t.Fatalf("step=%d want 42", step)
	}
	sv, dv := src.Vars(), dst.Vars()
	for i := range sv {
		a := sv[i].Vector.Data().([]float32)
		b := dv[i].Vector.Data().([]float32)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("param %d differs at %d", i, j)
			}
		}
	}
	sb, db := src.NamedBuffers(), dst.NamedBuffers()
	for i := range sb {
		a := sb[i].Var.Vector.Data().([]float32)
		b := db[i].Var.Vector.Data().([]float32)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("buffer %s differs at %d", sb[i].Key, j)
			}
		}
	}
}

func TestDecodeRejectsMismatch(t *testing.T) {
	src := newModel(t, 1)
	data, err := Encode(1, testArch.Name, src)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(data, "resnet50", newModel(t, 2)); err == nil {
		t.Fatal("expected arch mismatch error")
	}

	other := testArch
	other.NumClasses = 5
	bigger, err := model.New(anyvec32.CurrentCreator(), other, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	before := bigger.Vars()[0].Vector.Data().([]float32)
	if _, err := Decode(data, testArch.Name, bigger); err == nil {
		t.Fatal("expected size mismatch error")
	}
	after := bigger.Vars()[0].Vector.Data().([]float32)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("failed decode modified parameters")
		}
	}
}

func TestLoadMissing(t *testing.T) {
	store := &blobs.DirStore{Dir: t.TempDir()}
	_, err := Load(context.Background(), store, Key(7), testArch.Name, newModel(t, 1))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}
