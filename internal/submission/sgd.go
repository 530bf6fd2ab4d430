// Package submission holds the reference training algorithm.
package submission

import (
	"context"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"

	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// Algorithm is a training algorithm driven by the trainer.
type Algorithm interface {
	UpdateParams(ctx context.Context, w spec.Workload, params spec.ParameterContainer, aux spec.ModelAuxiliaryState, batch spec.Batch, rng spec.RandomState) (StepResult, error)
}

// StepResult reports one update.
type StepResult struct {
	// Loss is the mean per-example loss before the update.
	Loss float64
	Aux  spec.ModelAuxiliaryState
}

// SGD is stochastic gradient descent with heavy-ball momentum and L2 weight
// decay. The classifier head is excluded from weight decay.
type SGD struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	momentum *anysgd.Momentum
	decay    map[*anydiff.Var]bool
}

var _ Algorithm = (*SGD)(nil)

// UpdateParams computes the gradient of the mean loss on batch and applies
// one step in place.
func (s *SGD) UpdateParams(ctx context.Context, w spec.Workload, params spec.ParameterContainer, aux spec.ModelAuxiliaryState, batch spec.Batch, rng spec.RandomState) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	named := params.NamedParameters()
	if len(named) == 0 {
		return StepResult{}, fmt.Errorf("sgd: no parameters")
	}
	if s.decay == nil {
		decay, err := decayMask(w, named)
		if err != nil {
			return StepResult{}, err
		}
		s.decay = decay
	}

	logits, newAux, err := w.ModelFn(params, batch, aux, spec.Train, rng, true)
	if err != nil {
		return StepResult{}, err
	}
	loss, err := w.LossFn(batch.Labels, logits)
	if err != nil {
		return StepResult{}, err
	}

	vars := make([]*anydiff.Var, len(named))
	for i, p := range named {
		vars[i] = p.Var
	}
	grad := anydiff.NewGrad(vars...)

	c := loss.Output().Creator()
	n := loss.Output().Len()
	upstream := make([]float64, n)
	for i := range upstream {
		upstream[i] = 1 / float64(n)
	}
	loss.Propagate(c.MakeVectorData(c.MakeNumericList(upstream)), grad)

	s.step(c, grad)
	return StepResult{Loss: meanOf(loss.Output()), Aux: newAux}, nil
}

func (s *SGD) step(c anyvec.Creator, grad anydiff.Grad) {
	if s.WeightDecay != 0 {
		for v, g := range grad {
			if !s.decay[v] {
				continue
			}
			term := v.Vector.Copy()
			term.Scale(c.MakeNumeric(s.WeightDecay))
			g.Add(term)
		}
	}
	if s.Momentum != 0 {
		if s.momentum == nil {
			s.momentum = &anysgd.Momentum{Momentum: s.Momentum}
		}
		grad = s.momentum.Transform(grad)
	}
	grad.Scale(c.MakeNumeric(-s.LearningRate))
	grad.AddToVars()
}

// decayMask marks every parameter that is not part of the output layer.
func decayMask(w spec.Workload, named []spec.Parameter) (map[*anydiff.Var]bool, error) {
	mask := make(map[*anydiff.Var]bool, len(named))
	for _, p := range named {
		out, err := w.IsOutputParams(p.Key)
		if err != nil {
			return nil, fmt.Errorf("sgd: classify %s: %w", p.Key, err)
		}
		mask[p.Var] = !out
	}
	return mask, nil
}

func meanOf(v anyvec.Vector) float64 {
	if v.Len() == 0 {
		return 0
	}
	var sum float64
	switch data := v.Data().(type) {
	case []float32:
		for _, x := range data {
			sum += float64(x)
		}
	case []float64:
		for _, x := range data {
			sum += x
		}
	}
	return sum / float64(v.Len())
}
