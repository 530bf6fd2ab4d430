// Package imagenet implements the ImageNet classification workload.
package imagenet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"k8s.io/klog/v2"

	"github.com/danielsnider/algorithmic-efficiency/internal/dataset"
	"github.com/danielsnider/algorithmic-efficiency/internal/devices"
	"github.com/danielsnider/algorithmic-efficiency/internal/model"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

const (
	TargetValue          = 0.76
	CenterCropSize       = 224
	ResizeSize           = 256
	NumTrainExamples     = 1281167
	NumEvalExamples      = 50000
	DefaultEvalBatchSize = 128
)

var (
	ScaleRatioRange  = [2]float64{0.08, 1.0}
	AspectRatioRange = [2]float64{0.75, 4.0 / 3.0}

	// Per-channel statistics in the [0, 255] pixel range.
	TrainMean   = []float64{0.485 * 255, 0.456 * 255, 0.406 * 255}
	TrainStddev = []float64{0.229 * 255, 0.224 * 255, 0.225 * 255}
)

// outputPrefix marks parameters of the final classifier layer.
const outputPrefix = "output."

// ErrNotInitialized is returned by parameter metadata queries made before
// InitModelFn.
var ErrNotInitialized = errors.New("imagenet: model not initialized")

// Options tune a workload. Zero values select the defaults.
type Options struct {
	Arch          model.Arch
	EvalBatchSize int
	NumWorkers    int
	// DatasetFormat is "imagefolder" (default) or "webdataset".
	DatasetFormat string
	Creator       anyvec.Creator
}

// Workload is the ImageNet workload. It is safe to share between a training
// loop and an evaluator.
type Workload struct {
	spec.Base

	variant Variant
	arch    model.Arch
	opts    Options
	creator anyvec.Creator

	mu     sync.Mutex
	shapes map[spec.ParameterKey][]int
	types  map[spec.ParameterKey]spec.ParamType

	// The eval index is discovered on the first EvalModel call and reused.
	evalMu    sync.Mutex
	evalDir   string
	evalIndex *dataset.Index
}

var _ spec.Workload = (*Workload)(nil)

// New builds a workload for the given dataset variant.
func New(variant Variant, opts Options) (*Workload, error) {
	consts, err := variant.Constants()
	if err != nil {
		return nil, err
	}
	arch := opts.Arch
	if arch.Name == "" {
		arch = model.ResNet50
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if opts.EvalBatchSize <= 0 {
		opts.EvalBatchSize = DefaultEvalBatchSize
	}
	switch opts.DatasetFormat {
	case "":
		opts.DatasetFormat = "imagefolder"
	case "imagefolder", "webdataset":
	default:
		return nil, fmt.Errorf("imagenet: unknown dataset format %q", opts.DatasetFormat)
	}
	creator := opts.Creator
	if creator == nil {
		creator = anyvec32.CurrentCreator()
	}
	return &Workload{
		Base: spec.Base{
			Name:          consts.Name,
			Target:        TargetValue,
			Loss:          spec.SoftmaxCrossEntropy,
			Mean:          TrainMean,
			Stddev:        TrainStddev,
			MaxRuntimeSec: consts.MaxAllowedRuntimeSec,
			EvalPeriodSec: consts.EvalPeriodTimeSec,
			NumTrain:      NumTrainExamples,
			NumEval:       NumEvalExamples,
		},
		variant: variant,
		arch:    arch,
		opts:    opts,
		creator: creator,
	}, nil
}

// NewFromName resolves name with ParseVariant and calls New.
func NewFromName(name string, opts Options) (*Workload, error) {
	v, err := ParseVariant(name)
	if err != nil {
		return nil, err
	}
	return New(v, opts)
}

// Variant returns the dataset variant.
func (w *Workload) Variant() Variant {
	return w.variant
}

// Arch returns the network architecture.
func (w *Workload) Arch() model.Arch {
	return w.arch
}

// Creator returns the numeric backend.
func (w *Workload) Creator() anyvec.Creator {
	return w.creator
}

// IsOutputParams reports whether key belongs to the classifier head.
func (w *Workload) IsOutputParams(key spec.ParameterKey) (bool, error) {
	return strings.HasPrefix(string(key), outputPrefix), nil
}

func (w *Workload) ParamShapes() (map[spec.ParameterKey][]int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shapes == nil {
		return nil, fmt.Errorf("param shapes: %w", ErrNotInitialized)
	}
	out := make(map[spec.ParameterKey][]int, len(w.shapes))
	for k, v := range w.shapes {
		out[k] = append([]int(nil), v...)
	}
	return out, nil
}

func (w *Workload) ModelParamsTypes() (map[spec.ParameterKey]spec.ParamType, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.types == nil {
		return nil, fmt.Errorf("model params types: %w", ErrNotInitialized)
	}
	out := make(map[spec.ParameterKey]spec.ParamType, len(w.types))
	for k, v := range w.types {
		out[k] = v
	}
	return out, nil
}

// InitModelFn builds a freshly initialized network from rng. The workload
// keeps no auxiliary state, so the second result is always nil.
func (w *Workload) InitModelFn(ctx context.Context, rng spec.RandomState) (spec.ParameterContainer, spec.ModelAuxiliaryState, error) {
	log := klog.FromContext(ctx)

	m, err := model.New(w.creator, w.arch, rng.Rand())
	if err != nil {
		return nil, nil, fmt.Errorf("init model: %w", err)
	}

	info, err := devices.Probe()
	if err != nil {
		log.Error(err, "Accelerator probe failed; continuing on host")
	}
	if len(info.Accelerators) > 1 && info.Replicas() == 1 {
		log.Info("Accelerators present but the numeric backend is host only", "accelerators", len(info.Accelerators))
	}
	log.Info("Initialized model", "arch", w.arch.Name, "params", m.NumParams(), "replicas", info.Replicas(), "cpu", info.Brand, "avx512", info.HasAVX512())

	w.mu.Lock()
	w.shapes = m.ParamShapes()
	w.types = m.ParamTypes()
	w.mu.Unlock()
	return m, nil, nil
}

// ModelFn runs a forward pass. In EVAL mode batch norm uses its running
// statistics and the result is detached from the graph so no gradients reach
// the parameters. Running statistics live in the model and move only in
// TRAIN mode with updateBatchNorm set; the returned auxiliary state is
// always nil.
func (w *Workload) ModelFn(params spec.ParameterContainer, inputs spec.Batch, aux spec.ModelAuxiliaryState, mode spec.ForwardPassMode, rng spec.RandomState, updateBatchNorm bool) (anydiff.Res, spec.ModelAuxiliaryState, error) {
	m, ok := params.(*model.Model)
	if !ok {
		return nil, nil, fmt.Errorf("model fn: unexpected parameter container %T", params)
	}
	logits, err := m.Forward(w.creator, inputs, mode, updateBatchNorm)
	if err != nil {
		return nil, nil, err
	}
	if mode == spec.Eval {
		return anydiff.NewConst(logits.Output()), nil, nil
	}
	return logits, nil, nil
}

// OutputActivationFn maps logits to probabilities (or identity for squared
// error).
func (w *Workload) OutputActivationFn(logits anydiff.Res, lossType spec.LossType) (anydiff.Res, error) {
	n := logits.Output().Len() / w.arch.NumClasses
	return model.Activation(lossType, logits, n)
}

// LossFn returns the per-example cross-entropy. Regularization is left to
// the training algorithm.
func (w *Workload) LossFn(labels []int, logits anydiff.Res) (anydiff.Res, error) {
	return model.Loss(w.LossType(), labels, logits)
}
