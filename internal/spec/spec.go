// Package spec defines the contract between workloads, training algorithms
// and the runner.
package spec

import (
	"context"
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"

	"github.com/danielsnider/algorithmic-efficiency/internal/prng"
)

// ErrNotImplemented is returned by contract methods a workload did not
// override.
var ErrNotImplemented = errors.New("not implemented")

// RandomState is the seed type threaded through every stochastic operation.
type RandomState = prng.RandomState

// LossType selects the loss and matching output activation.
type LossType int

const (
	SoftmaxCrossEntropy LossType = iota
	SigmoidCrossEntropy
	MeanSquaredError
)

func (l LossType) String() string {
	switch l {
	case SoftmaxCrossEntropy:
		return "SOFTMAX_CROSS_ENTROPY"
	case SigmoidCrossEntropy:
		return "SIGMOID_CROSS_ENTROPY"
	case MeanSquaredError:
		return "MEAN_SQUARED_ERROR"
	default:
		return fmt.Sprintf("LossType(%d)", int(l))
	}
}

// ForwardPassMode distinguishes training from inference passes.
type ForwardPassMode int

const (
	Train ForwardPassMode = iota
	Eval
)

func (m ForwardPassMode) String() string {
	if m == Eval {
		return "EVAL"
	}
	return "TRAIN"
}

// Split names a dataset partition.
type Split string

const (
	SplitTrain Split = "train"
	SplitTest  Split = "test"
)

// IsTrain reports whether s is the training split.
func (s Split) IsTrain() bool {
	return s == SplitTrain
}

// ParameterKey identifies a single parameter tensor, e.g. "output.weights".
type ParameterKey string

// ParamType classifies a parameter tensor.
type ParamType int

const (
	ParamWeights ParamType = iota
	ParamBias
	ParamConvFilters
	ParamBatchNormScale
	ParamBatchNormBias
)

func (p ParamType) String() string {
	switch p {
	case ParamWeights:
		return "weights"
	case ParamBias:
		return "bias"
	case ParamConvFilters:
		return "conv_filters"
	case ParamBatchNormScale:
		return "batch_norm_scale"
	case ParamBatchNormBias:
		return "batch_norm_bias"
	default:
		return fmt.Sprintf("ParamType(%d)", int(p))
	}
}

// Parameter pairs a key with its variable.
type Parameter struct {
	Key ParameterKey
	Var *anydiff.Var
}

// ParameterContainer holds trained weights. It is owned by the training
// algorithm; workloads only read it.
type ParameterContainer interface {
	NamedParameters() []Parameter
}

// ModelAuxiliaryState carries non-gradient state such as batch-norm running
// statistics. It may be nil.
type ModelAuxiliaryState interface{}

// EvalResult maps metric names ("accuracy", "loss") to values.
type EvalResult map[string]float64

// Batch is a packed minibatch. Inputs are row-major, depth-minor (NHWC).
type Batch struct {
	Inputs   []float32
	Labels   []int
	Size     int
	Height   int
	Width    int
	Channels int
}

// Shape returns [Size, Height, Width, Channels].
func (b Batch) Shape() []int {
	return []int{b.Size, b.Height, b.Width, b.Channels}
}

// ImageSize returns the number of values per example.
func (b Batch) ImageSize() int {
	return b.Height * b.Width * b.Channels
}

// InputQueue is a lazy sequence of batches. A finite queue returns io.EOF
// after its last batch.
type InputQueue interface {
	Next(ctx context.Context) (Batch, error)
	Close() error
}

// Workload pairs a dataset, a model and a success criterion.
type Workload interface {
	TargetValue() float64
	LossType() LossType
	TrainMean() []float64
	TrainStddev() []float64
	MaxAllowedRuntimeSec() int
	EvalPeriodTimeSec() int
	NumTrainExamples() int
	NumEvalExamples() int

	HasReachedGoal(result EvalResult) bool
	IsOutputParams(key ParameterKey) (bool, error)
	ParamShapes() (map[ParameterKey][]int, error)
	ModelParamsTypes() (map[ParameterKey]ParamType, error)

	BuildInputQueue(ctx context.Context, dataRNG RandomState, split Split, dataDir string, batchSize int) (InputQueue, error)
	PreprocessForTrain(raw Batch, mean, stddev []float64, rng RandomState) (Batch, error)
	PreprocessForEval(raw Batch, mean, stddev []float64) (Batch, error)

	InitModelFn(ctx context.Context, rng RandomState) (ParameterContainer, ModelAuxiliaryState, error)
	ModelFn(params ParameterContainer, inputs Batch, aux ModelAuxiliaryState, mode ForwardPassMode, rng RandomState, updateBatchNorm bool) (anydiff.Res, ModelAuxiliaryState, error)
	OutputActivationFn(logits anydiff.Res, lossType LossType) (anydiff.Res, error)
	LossFn(labels []int, logits anydiff.Res) (anydiff.Res, error)

	EvalModel(ctx context.Context, params ParameterContainer, aux ModelAuxiliaryState, rng RandomState, dataDir string) (EvalResult, error)
}
