// Package model builds image classifiers on top of the anynet layer library.
package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// Model is a network plus the names, kinds and shapes of its parameters.
// It satisfies spec.ParameterContainer.
type Model struct {
	Arch Arch
	Net  anynet.Net

	params []spec.Parameter
	types  map[spec.ParameterKey]spec.ParamType
	shapes map[spec.ParameterKey][]int

	// Batch-norm layers and their running statistics.
	norms   []*batchNorm
	buffers []spec.Parameter

	// mu serializes forward passes, which switch the batch-norm mode.
	mu sync.Mutex
}

func (m *Model) register(key string, v *anydiff.Var, kind spec.ParamType, shape []int) {
	if m.types == nil {
		m.types = map[spec.ParameterKey]spec.ParamType{}
		m.shapes = map[spec.ParameterKey][]int{}
	}
	k := spec.ParameterKey(key)
	m.params = append(m.params, spec.Parameter{Key: k, Var: v})
	m.types[k] = kind
	m.shapes[k] = shape
}

// NamedParameters returns the parameters in construction order.
func (m *Model) NamedParameters() []spec.Parameter {
	return append([]spec.Parameter(nil), m.params...)
}

// NamedBuffers returns the batch-norm running statistics in construction
// order. They are not trained by gradient descent but belong in checkpoints.
func (m *Model) NamedBuffers() []spec.Parameter {
	return append([]spec.Parameter(nil), m.buffers...)
}

// Vars returns the raw variables in construction order.
func (m *Model) Vars() []*anydiff.Var {
	vars := make([]*anydiff.Var, len(m.params))
	for i, p := range m.params {
		vars[i] = p.Var
	}
	return vars
}

// Keys returns the parameter keys sorted lexically.
func (m *Model) Keys() []spec.ParameterKey {
	keys := make([]spec.ParameterKey, 0, len(m.params))
	for _, p := range m.params {
		keys = append(keys, p.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ParamTypes returns a fresh map from key to parameter kind.
func (m *Model) ParamTypes() map[spec.ParameterKey]spec.ParamType {
	out := make(map[spec.ParameterKey]spec.ParamType, len(m.types))
	for k, v := range m.types {
		out[k] = v
	}
	return out
}

// ParamShapes returns a fresh map from key to tensor shape.
func (m *Model) ParamShapes() map[spec.ParameterKey][]int {
	out := make(map[spec.ParameterKey][]int, len(m.shapes))
	for k, v := range m.shapes {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// NumParams returns the total number of scalar parameters.
func (m *Model) NumParams() int {
	var n int
	for _, p := range m.params {
		n += p.Var.Vector.Len()
	}
	return n
}

// Forward runs the network on a packed batch. The input is a constant; the
// result tracks gradients for every parameter. In Train mode batch norm uses
// the batch statistics and, when update is set, folds them into the running
// statistics. In Eval mode batch norm uses the running statistics only, so
// each example's output is independent of the rest of the batch.
func (m *Model) Forward(c anyvec.Creator, batch spec.Batch, mode spec.ForwardPassMode, update bool) (anydiff.Res, error) {
	if batch.Size <= 0 {
		return nil, essentials.AddCtx("forward", fmt.Errorf("empty batch"))
	}
	want := m.Arch.InputSize * m.Arch.InputSize * 3
	if batch.ImageSize() != want || len(batch.Inputs) != batch.Size*want {
		return nil, essentials.AddCtx("forward", fmt.Errorf("input shape %v does not match %dx%dx3",
			batch.Shape(), m.Arch.InputSize, m.Arch.InputSize))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	train := mode == spec.Train
	for _, bn := range m.norms {
		bn.train, bn.update = train, train && update
	}
	in := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(widen(batch.Inputs))))
	return m.Net.Apply(in, batch.Size), nil
}

func widen(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}
