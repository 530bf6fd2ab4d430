package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/danielsnider/algorithmic-efficiency/internal/prng"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
)

// Loader turns an Index into batches of decoded, transformed images.
//
// A training loader shuffles every epoch, drops the final incomplete batch
// and cycles forever. An evaluation loader makes one ordered pass and keeps
// the final partial batch.
type Loader struct {
	Index      *Index
	Transform  Transform
	ImageSize  int
	BatchSize  int
	Train      bool
	NumWorkers int
	Prefetch   int
	RNG        prng.RandomState
}

// NumBatches returns the number of batches in one epoch.
func (l *Loader) NumBatches() int {
	n := l.Index.Len()
	if l.Train {
		return n / l.BatchSize
	}
	return (n + l.BatchSize - 1) / l.BatchSize
}

// Queue starts the producer and returns a queue over its batches. The
// producer stops when the queue is closed or ctx is cancelled.
func (l *Loader) Queue(ctx context.Context) (*Queue, error) {
	if l.Index == nil || l.Index.Len() == 0 {
		return nil, errors.New("loader: empty index")
	}
	if l.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", l.BatchSize)
	}
	if l.ImageSize <= 0 {
		return nil, fmt.Errorf("loader: image size must be > 0 (got %d)", l.ImageSize)
	}
	if l.Train && l.Index.Len() < l.BatchSize {
		return nil, fmt.Errorf("loader: %d training samples cannot fill a batch of %d", l.Index.Len(), l.BatchSize)
	}
	prefetch := l.Prefetch
	if prefetch <= 0 {
		prefetch = 2
	}

	qctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		ctx:     qctx,
		cancel:  cancel,
		batches: make(chan loaded, prefetch),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		defer close(q.batches)
		l.produce(qctx, q.batches)
	}()
	return q, nil
}

func (l *Loader) produce(ctx context.Context, out chan<- loaded) {
	streams := l.RNG.Split(2)
	shuffleRNG, augmentRNG := streams[0], streams[1]
	n := l.Index.Len()

	for epoch := 0; ; epoch++ {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if l.Train {
			order = shuffleRNG.Fold(uint64(epoch)).Rand().Perm(n)
		}

		for b := 0; b < l.NumBatches(); b++ {
			start := b * l.BatchSize
			end := min(start+l.BatchSize, n)
			batch, err := l.assemble(ctx, order[start:end], augmentRNG.Fold(uint64(epoch)), start)
			select {
			case <-ctx.Done():
				return
			case out <- loaded{batch: batch, err: err}:
			}
			if err != nil {
				return
			}
		}
		if !l.Train {
			return
		}
	}
}

// assemble decodes the samples at positions idxs into one batch. Each
// worker writes a disjoint region of the input buffer.
func (l *Loader) assemble(ctx context.Context, idxs []int, epochRNG prng.RandomState, offset int) (spec.Batch, error) {
	size := l.ImageSize
	stride := size * size * 3
	batch := spec.Batch{
		Inputs:   make([]float32, len(idxs)*stride),
		Labels:   make([]int, len(idxs)),
		Size:     len(idxs),
		Height:   size,
		Width:    size,
		Channels: 3,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.NumWorkers, 1))
	for i, idx := range idxs {
		i, idx := i, idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sample := l.Index.Samples[idx]
			img, err := decode(sample)
			if err != nil {
				return err
			}
			if l.Transform != nil {
				img = l.Transform.Apply(img, epochRNG.Fold(uint64(offset+i)).Rand())
			}
			if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
				return fmt.Errorf("sample %s: transformed to %dx%d, want %dx%d", sample.Key, b.Dx(), b.Dy(), size, size)
			}
			pixels(img, batch.Inputs[i*stride:(i+1)*stride])
			batch.Labels[i] = sample.Label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return spec.Batch{}, err
	}
	return batch, nil
}

func decode(s Sample) (image.Image, error) {
	data, err := s.Bytes()
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Key, err)
	}
	return img, nil
}

type loaded struct {
	batch spec.Batch
	err   error
}

// Queue is an InputQueue backed by a Loader's producer goroutine.
type Queue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	batches chan loaded
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Next returns the next batch. An evaluation queue returns io.EOF after its
// last batch. Errors are sticky.
func (q *Queue) Next(ctx context.Context) (spec.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return spec.Batch{}, q.err
	}
	if err := q.ctx.Err(); err != nil {
		q.err = err
		return spec.Batch{}, err
	}

	select {
	case <-ctx.Done():
		return spec.Batch{}, ctx.Err()
	case item, ok := <-q.batches:
		switch {
		case !ok && q.ctx.Err() != nil:
			q.err = q.ctx.Err()
		case !ok:
			q.err = io.EOF
		case item.err != nil:
			q.err = item.err
		default:
			return item.batch, nil
		}
		return spec.Batch{}, q.err
	}
}

// Close stops the producer and waits for it to exit.
func (q *Queue) Close() error {
	q.cancel()
	<-q.done
	return nil
}
