// Package sampler draws class-balanced index batches.
package sampler

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Options configure a PerfectBatchSampler.
type Options struct {
	// Shuffle randomizes utterance order within classes and the choice
	// of classes per batch. Without it batches are fully deterministic
	// and take classes in id order.
	Shuffle bool
	// Seed makes shuffled epochs reproducible.
	Seed uint64
}

// PerfectBatchSampler yields batches holding exactly utterPerClass items
// of each of classesInBatch distinct classes. Within a batch indices are
// interleaved round-robin: the first utterance of every class, then the
// second of every class, and so on. Incomplete trailing batches are
// dropped.
type PerfectBatchSampler struct {
	byClass        [][]int
	classesInBatch int
	utterPerClass  int
	opts           Options
}

// New indexes labels (one class id per dataset item). Classes with fewer
// than utterPerClass items can never be drawn.
func New(labels []int, classesInBatch, utterPerClass int, opts Options) (*PerfectBatchSampler, error) {
	if classesInBatch <= 0 || utterPerClass <= 0 {
		return nil, fmt.Errorf("sampler: need positive batch shape, got %d x %d", classesInBatch, utterPerClass)
	}
	numClasses := 0
	for _, l := range labels {
		if l < 0 {
			return nil, fmt.Errorf("sampler: negative label %d", l)
		}
		numClasses = max(numClasses, l+1)
	}
	byClass := make([][]int, numClasses)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}

	usable := 0
	for _, idx := range byClass {
		if len(idx) >= utterPerClass {
			usable++
		}
	}
	if usable < classesInBatch {
		return nil, fmt.Errorf("sampler: %d classes have at least %d utterances, need %d classes per batch",
			usable, utterPerClass, classesInBatch)
	}
	return &PerfectBatchSampler{
		byClass:        byClass,
		classesInBatch: classesInBatch,
		utterPerClass:  utterPerClass,
		opts:           opts,
	}, nil
}

// BatchSize returns classesInBatch * utterPerClass.
func (s *PerfectBatchSampler) BatchSize() int { return s.classesInBatch * s.utterPerClass }

// Epoch returns the batches of one pass over the data. The result depends
// only on the sampler's options and epoch.
func (s *PerfectBatchSampler) Epoch(epoch int) [][]int {
	rng := rand.New(rand.NewPCG(s.opts.Seed, uint64(epoch)))

	pools := make([][]int, len(s.byClass))
	for c, idx := range s.byClass {
		pools[c] = slices.Clone(idx)
		if s.opts.Shuffle {
			rng.Shuffle(len(pools[c]), func(i, j int) { pools[c][i], pools[c][j] = pools[c][j], pools[c][i] })
		}
	}

	var batches [][]int
	for {
		var open []int
		for c, p := range pools {
			if len(p) >= s.utterPerClass {
				open = append(open, c)
			}
		}
		if len(open) < s.classesInBatch {
			return batches
		}
		if s.opts.Shuffle {
			rng.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })
		}
		chosen := open[:s.classesInBatch]

		batch := make([]int, s.BatchSize())
		for c, class := range chosen {
			for u := range s.utterPerClass {
				batch[u*s.classesInBatch+c] = pools[class][u]
			}
			pools[class] = pools[class][s.utterPerClass:]
		}
		batches = append(batches, batch)
	}
}
