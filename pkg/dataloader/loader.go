// Package dataloader assembles training batches, optionally prefetching
// them on a pool of worker goroutines.
package dataloader

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"sync"

	"github.com/haivivi/voiceenc/pkg/dataset"
)

// Source provides the features and labels of dataset items.
// *dataset.Dataset satisfies it.
type Source interface {
	Load(ctx context.Context, i int, rng *rand.Rand) ([][]float32, error)
	Label(i int) int
}

// BatchSampler plans the index batches of an epoch.
// *sampler.PerfectBatchSampler satisfies it.
type BatchSampler interface {
	Epoch(epoch int) [][]int
}

// Loader turns sampler batches into collated dataset batches.
type Loader struct {
	src     Source
	sampler BatchSampler
	workers int
	seed    uint64
}

// New creates a Loader. With workers == 0 batches are assembled on the
// consuming goroutine; otherwise workers goroutines prefetch up to
// 2*workers batches ahead.
func New(src Source, sampler BatchSampler, workers int, seed uint64) *Loader {
	return &Loader{src: src, sampler: sampler, workers: max(workers, 0), seed: seed}
}

// Workers returns the number of prefetching goroutines.
func (l *Loader) Workers() int { return l.workers }

// Batches iterates over the batches of epoch in sampler order. Iteration
// stops after the first error, which is yielded with a nil batch.
// Randomness is seeded per batch, so the yielded data does not depend on
// the worker count.
func (l *Loader) Batches(ctx context.Context, epoch int) iter.Seq2[*dataset.Batch, error] {
	return func(yield func(*dataset.Batch, error) bool) {
		plan := l.sampler.Epoch(epoch)
		if l.workers == 0 {
			for i, idx := range plan {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				b, err := l.assemble(ctx, epoch, i, idx)
				if !yield(b, err) || err != nil {
					return
				}
			}
			return
		}
		l.prefetch(ctx, epoch, plan, yield)
	}
}

type result struct {
	index int
	batch *dataset.Batch
	err   error
}

func (l *Loader) prefetch(ctx context.Context, epoch int, plan [][]int, yield func(*dataset.Batch, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	window := 2 * l.workers
	jobs := make(chan int)
	// Every in-flight batch holds a token until it is yielded, so results
	// never has more than window pending values and workers never block.
	tokens := make(chan struct{}, window)
	results := make(chan result, window)

	var wg sync.WaitGroup
	for range l.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, err := l.assemble(ctx, epoch, i, plan[i])
				results <- result{index: i, batch: b, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range plan {
			select {
			case tokens <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()
	defer func() {
		cancel()
		for range results {
		}
	}()

	pending := make(map[int]result)
	for next := 0; next < len(plan); {
		r, ok := pending[next]
		if !ok {
			select {
			case r, ok := <-results:
				if !ok {
					yield(nil, fmt.Errorf("dataloader: workers stopped early: %w", context.Cause(ctx)))
					return
				}
				pending[r.index] = r
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
			continue
		}
		delete(pending, next)
		next++
		<-tokens
		if r.err != nil {
			yield(nil, r.err)
			return
		}
		if !yield(r.batch, nil) {
			return
		}
	}
}

func (l *Loader) assemble(ctx context.Context, epoch, index int, idx []int) (*dataset.Batch, error) {
	rng := rand.New(rand.NewPCG(l.seed+uint64(epoch), uint64(index)))
	feats := make([][][]float32, len(idx))
	labels := make([]int, len(idx))
	for j, i := range idx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := l.src.Load(ctx, i, rng)
		if err != nil {
			return nil, fmt.Errorf("dataloader: item %d: %w", i, err)
		}
		feats[j] = f
		labels[j] = l.src.Label(i)
	}
	return dataset.Collate(feats, labels), nil
}
