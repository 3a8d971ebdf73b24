package dataset

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/haivivi/voiceenc/pkg/config"
)

// SplitOptions control the held-out evaluation split.
type SplitOptions struct {
	// Enabled draws an eval split from datasets without meta_file_val.
	Enabled bool
	// Size is the fraction of items held out.
	Size float64
	// MaxSize caps the held-out count; 0 means no cap.
	MaxSize int
	Seed    uint64
}

// LoadSamples loads the train and eval items of every dataset.
// Datasets with a meta_file_val take their eval items from it; the others
// contribute a seeded random split when split.Enabled is set.
func LoadSamples(datasets []config.DatasetConfig, split SplitOptions) (train, eval []Item, err error) {
	for i, d := range datasets {
		items, err := loadDataset(d, d.MetaFileTrain)
		if err != nil {
			return nil, nil, err
		}
		var held []Item
		switch {
		case d.MetaFileVal != "":
			held, err = loadDataset(d, d.MetaFileVal)
			if err != nil {
				return nil, nil, err
			}
		case split.Enabled:
			items, held, err = splitItems(items, split.Size, split.MaxSize, split.Seed+uint64(i))
			if err != nil {
				return nil, nil, fmt.Errorf("dataset: %s: %w", datasetName(d), err)
			}
		}
		slog.Info("loaded dataset", "name", datasetName(d), "train", len(items), "eval", len(held))
		train = append(train, items...)
		eval = append(eval, held...)
	}
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("dataset: no training items found")
	}
	return train, eval, nil
}

// splitItems shuffles items and holds out size*len(items) of them, at
// least one and at most maxSize.
func splitItems(items []Item, size float64, maxSize int, seed uint64) (train, eval []Item, err error) {
	if size <= 0 {
		return items, nil, nil
	}
	n := int(float64(len(items)) * size)
	if maxSize > 0 {
		n = min(n, maxSize)
	}
	n = max(n, 1)
	if n >= len(items) {
		return nil, nil, fmt.Errorf("eval split of %d leaves no training items (%d total)", n, len(items))
	}

	shuffled := append([]Item(nil), items...)
	rng := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[n:], shuffled[:n], nil
}
