package model

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// OneHot encodes labels as a packed [len(labels), numClasses] matrix.
func OneHot(c anyvec.Creator, labels []int, numClasses int) (anyvec.Vector, error) {
	data := make([]float64, len(labels)*numClasses)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("label %d at index %d outside [0, %d)", label, i, numClasses)
		}
		data[i*numClasses+label] = 1
	}
	return c.MakeVectorData(c.MakeNumericList(data)), nil
}

// Loss returns one loss value per example. Regularization is not included.
func Loss(lossType spec.LossType, labels []int, logits anydiff.Res) (anydiff.Res, error) {
	n := len(labels)
	if n == 0 {
		return nil, essentials.AddCtx("loss", fmt.Errorf("no labels"))
	}
	total := logits.Output().Len()
	if total%n != 0 {
		return nil, essentials.AddCtx("loss", fmt.Errorf("%d logits do not split into %d rows", total, n))
	}
	c := logits.Output().Creator()
	targets, err := OneHot(c, labels, total/n)
	if err != nil {
		return nil, essentials.AddCtx("loss", err)
	}
	desired := anydiff.NewConst(targets)

	switch lossType {
	case spec.SoftmaxCrossEntropy:
		return anynet.DotCost{}.Cost(desired, anynet.LogSoftmax.Apply(logits, n), n), nil
	case spec.SigmoidCrossEntropy:
		return anynet.SigmoidCE{}.Cost(desired, logits, n), nil
	case spec.MeanSquaredError:
		return anynet.MSE{}.Cost(desired, logits, n), nil
	default:
		return nil, fmt.Errorf("loss: unsupported loss type %s", lossType)
	}
}

// Activation maps logits to outputs matching the loss type: probabilities
// for the classification losses and the identity for squared error.
func Activation(lossType spec.LossType, logits anydiff.Res, batch int) (anydiff.Res, error) {
	switch lossType {
	case spec.SoftmaxCrossEntropy:
		return anydiff.Exp(anynet.LogSoftmax.Apply(logits, batch)), nil
	case spec.SigmoidCrossEntropy:
		return anydiff.Sigmoid(logits), nil
	case spec.MeanSquaredError:
		return logits, nil
	default:
		return nil, fmt.Errorf("activation: unsupported loss type %s", lossType)
	}
}

// Correct counts rows of logits whose argmax equals the label.
func Correct(logits anyvec.Vector, labels []int) int {
	if len(labels) == 0 {
		return 0
	}
	values := floats(logits)
	cols := len(values) / len(labels)
	var correct int
	for i, label := range labels {
		row := values[i*cols : (i+1)*cols]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		if best == label {
			correct++
		}
	}
	return correct
}

// Sum adds up the components of v.
func Sum(v anyvec.Vector) float64 {
	var s float64
	for _, x := range floats(v) {
		s += x
	}
	return s
}

func floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		out := make([]float64, len(data))
		for i, x := range data {
			out[i] = float64(x)
		}
		return out
	case []float64:
		return data
	default:
		panic(fmt.Sprintf("unsupported numeric list %T", data))
	}
}
