package imagenet

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/danielsnider/algorithmic-efficiency/internal/dataset"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// cropSize is the network input side. resizeSize keeps the 256/224 ratio
// for architectures with a smaller input.
func (w *Workload) cropSize() int {
	return w.arch.InputSize
}

func (w *Workload) resizeSize() int {
	return w.arch.InputSize * ResizeSize / CenterCropSize
}

func splitDir(dataDir string, split spec.Split) string {
	if split.IsTrain() {
		return filepath.Join(dataDir, "train")
	}
	return filepath.Join(dataDir, "val")
}

func (w *Workload) index(ctx context.Context, dir string) (*dataset.Index, error) {
	if w.opts.DatasetFormat == "webdataset" {
		return dataset.LoadShards(ctx, dir, w.opts.NumWorkers)
	}
	return dataset.DiscoverImageFolder(dir)
}

func (w *Workload) trainTransform() dataset.Transform {
	return dataset.Compose{
		dataset.RandomResizedCrop{Size: w.cropSize(), Scale: ScaleRatioRange, Ratio: AspectRatioRange},
		dataset.HorizontalFlip{P: 0.5},
	}
}

func (w *Workload) evalTransform() dataset.Transform {
	return dataset.Compose{
		dataset.Resize{Size: w.resizeSize()},
		dataset.CenterCrop{Size: w.cropSize()},
	}
}

func (w *Workload) loader(idx *dataset.Index, train bool, batchSize int, rng spec.RandomState) *dataset.Loader {
	l := &dataset.Loader{
		Index:      idx,
		ImageSize:  w.cropSize(),
		BatchSize:  batchSize,
		Train:      train,
		NumWorkers: w.opts.NumWorkers,
		RNG:        rng,
	}
	if train {
		l.Transform = w.trainTransform()
	} else {
		l.Transform = w.evalTransform()
	}
	return l
}

// BuildInputQueue returns batches of augmented pixels in [0, 255]. The train
// split cycles forever, reshuffling every epoch; any other split makes one
// ordered pass and then reports io.EOF.
func (w *Workload) BuildInputQueue(ctx context.Context, dataRNG spec.RandomState, split spec.Split, dataDir string, batchSize int) (spec.InputQueue, error) {
	idx, err := w.index(ctx, splitDir(dataDir, split))
	if err != nil {
		return nil, err
	}
	q, err := w.loader(idx, split.IsTrain(), batchSize, dataRNG).Queue(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s queue: %w", split, err)
	}
	return q, nil
}

// PreprocessForEval normalizes each channel to (x - mean) / stddev.
func (w *Workload) PreprocessForEval(raw spec.Batch, mean, stddev []float64) (spec.Batch, error) {
	return Normalize(raw, mean, stddev)
}

// PreprocessForTrain normalizes like PreprocessForEval. Augmentation happens
// only in the input queue, so rng is unused.
func (w *Workload) PreprocessForTrain(raw spec.Batch, mean, stddev []float64, rng spec.RandomState) (spec.Batch, error) {
	return Normalize(raw, mean, stddev)
}

// Normalize returns a copy of b with every channel standardized.
func Normalize(b spec.Batch, mean, stddev []float64) (spec.Batch, error) {
	if err := checkStats(b, mean, stddev); err != nil {
		return spec.Batch{}, err
	}
	out := b
	out.Inputs = make([]float32, len(b.Inputs))
	for i, x := range b.Inputs {
		c := i % b.Channels
		out.Inputs[i] = float32((float64(x) - mean[c]) / stddev[c])
	}
	return out, nil
}

// Denormalize inverts Normalize.
func Denormalize(b spec.Batch, mean, stddev []float64) (spec.Batch, error) {
	if err := checkStats(b, mean, stddev); err != nil {
		return spec.Batch{}, err
	}
	out := b
	out.Inputs = make([]float32, len(b.Inputs))
	for i, x := range b.Inputs {
		c := i % b.Channels
		out.Inputs[i] = float32(float64(x)*stddev[c] + mean[c])
	}
	return out, nil
}

func checkStats(b spec.Batch, mean, stddev []float64) error {
	if b.Channels <= 0 {
		return fmt.Errorf("normalize: batch has %d channels", b.Channels)
	}
	if len(mean) != b.Channels || len(stddev) != b.Channels {
		return fmt.Errorf("normalize: %d channels but %d means and %d stddevs", b.Channels, len(mean), len(stddev))
	}
	for c, s := range stddev {
		if s == 0 {
			return fmt.Errorf("normalize: zero stddev for channel %d", c)
		}
	}
	return nil
}
