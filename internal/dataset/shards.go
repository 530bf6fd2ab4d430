package dataset

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// LoadShards indexes every WebDataset shard beneath root. Shards are read
// concurrently by numWorkers goroutines but the resulting sample order is
// the sorted shard order, so repeated loads are identical. The index holds
// member offsets only; image bytes stay on disk until a batch needs them.
func LoadShards(ctx context.Context, root string, numWorkers int) (*Index, error) {
	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("load shards: no shards discovered under %s", root)
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	perShard := make([][]Sample, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for i, path := range shards {
		i, path := i, path
		g.Go(func() error {
			samples, err := ReadShard(gctx, path, defaultPendingCap)
			if err != nil {
				return err
			}
			perShard[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load shards: %w", err)
	}

	idx := &Index{}
	maxLabel := -1
	for _, samples := range perShard {
		for _, s := range samples {
			if s.Label < 0 {
				return nil, fmt.Errorf("load shards: sample %s has negative label %d", s.Key, s.Label)
			}
			if s.Label > maxLabel {
				maxLabel = s.Label
			}
		}
		idx.Samples = append(idx.Samples, samples...)
	}
	idx.Classes = make([]string, maxLabel+1)
	for i := range idx.Classes {
		idx.Classes[i] = strconv.Itoa(i)
	}
	return idx, nil
}
