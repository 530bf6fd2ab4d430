package imagenet

import (
	"context"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/danielsnider/algorithmic-efficiency/internal/dataset"
	"github.com/danielsnider/algorithmic-efficiency/internal/metrics"
	"github.com/danielsnider/algorithmic-efficiency/internal/model"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// evalDataset returns the cached eval index, discovering it on first use.
func (w *Workload) evalDataset(ctx context.Context, dataDir string) (*dataset.Index, error) {
	w.evalMu.Lock()
	defer w.evalMu.Unlock()
	if w.evalIndex != nil {
		if w.evalDir != dataDir {
			return nil, fmt.Errorf("eval dataset already cached for %s, got %s", w.evalDir, dataDir)
		}
		return w.evalIndex, nil
	}
	idx, err := w.index(ctx, splitDir(dataDir, spec.SplitTest))
	if err != nil {
		return nil, err
	}
	w.evalDir, w.evalIndex = dataDir, idx
	klog.FromContext(ctx).Info("Cached eval dataset", "dir", dataDir, "examples", idx.Len())
	return idx, nil
}

// Evaluating reports whether the eval dataset has been cached.
func (w *Workload) Evaluating() bool {
	w.evalMu.Lock()
	defer w.evalMu.Unlock()
	return w.evalIndex != nil
}

// EvalModel runs one full pass over the eval split. Accuracy and loss are
// averaged per example, so the short final batch is weighted correctly.
func (w *Workload) EvalModel(ctx context.Context, params spec.ParameterContainer, aux spec.ModelAuxiliaryState, rng spec.RandomState, dataDir string) (spec.EvalResult, error) {
	idx, err := w.evalDataset(ctx, dataDir)
	if err != nil {
		return nil, err
	}
	q, err := w.loader(idx, false, w.opts.EvalBatchSize, rng).Queue(ctx)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	mean, stddev := w.TrainMean(), w.TrainStddev()
	var acc metrics.EvalAccumulator
	for {
		raw, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batch, err := w.PreprocessForEval(raw, mean, stddev)
		if err != nil {
			return nil, err
		}
		logits, _, err := w.ModelFn(params, batch, aux, spec.Eval, rng, false)
		if err != nil {
			return nil, err
		}
		loss, err := w.LossFn(batch.Labels, logits)
		if err != nil {
			return nil, err
		}
		acc.Add(batch.Size, model.Correct(logits.Output(), batch.Labels), model.Sum(loss.Output()))
	}

	klog.FromContext(ctx).V(1).Info("Evaluated", "examples", acc.Examples(), "accuracy", acc.Accuracy(), "loss", acc.Loss())
	return spec.EvalResult(acc.Result()), nil
}
