// Package dataset maps labelled utterances to fixed-length mel feature
// matrices for the encoder.
//
// LoadSamples reads the configured datasets into Items. New groups the
// items by class (speaker or emotion), and Load produces the cropped or
// padded features of one item. Features are optionally cached in a kv.Store
// so that repeated epochs skip decoding and feature extraction.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/haivivi/voiceenc/pkg/audio"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/kv"
)

// Options configure a Dataset.
type Options struct {
	// ClassField selects the label, "speaker_name" or "emotion_name".
	ClassField string
	// UtterPerClass is the minimum number of items a class needs.
	UtterPerClass int
	// SkipClasses drops under-populated classes instead of failing.
	SkipClasses bool
	// VoiceLen is the cropped utterance length in seconds.
	VoiceLen     float64
	Augmentation config.AugmentationConfig
	// Cache stores extracted features when non-nil.
	Cache kv.Store
}

// OptionsFromConfig derives the dataset options of a training run.
func OptionsFromConfig(cfg *config.Config, cache kv.Store) Options {
	return Options{
		ClassField:    cfg.ClassField(),
		UtterPerClass: cfg.UtterancesPerClass(),
		SkipClasses:   cfg.SkipClasses,
		VoiceLen:      cfg.VoiceLen,
		Augmentation:  cfg.AudioAugmentation,
		Cache:         cache,
	}
}

// Batch is a collated training batch. Features is [N][frames][num_mels];
// Labels holds the class id of each row.
type Batch struct {
	Features [][][]float32
	Labels   []int
}

// Len returns the number of utterances in b.
func (b *Batch) Len() int { return len(b.Labels) }

// Dataset is an indexed, class-labelled view over Items. It is safe for
// concurrent use by loader workers.
type Dataset struct {
	proc    *audio.Processor
	opts    Options
	items   []Item
	labels  []int
	classes []string
	frames  int
	cache   *featureCache
}

// New builds a Dataset. Classes are numbered in sorted name order.
func New(proc *audio.Processor, items []Item, opts Options) (*Dataset, error) {
	byClass := make(map[string][]Item)
	for _, it := range items {
		c := it.Class(opts.ClassField)
		if c == "" {
			return nil, fmt.Errorf("dataset: %s has no %s", it.AudioFile, opts.ClassField)
		}
		byClass[c] = append(byClass[c], it)
	}

	var classes []string
	for c, members := range byClass {
		if len(members) < opts.UtterPerClass {
			if !opts.SkipClasses {
				return nil, fmt.Errorf("dataset: class %q has %d utterances, need %d (set skip_classes to drop it)",
					c, len(members), opts.UtterPerClass)
			}
			slog.Warn("skipping class with too few utterances", "class", c, "utterances", len(members))
			continue
		}
		classes = append(classes, c)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("dataset: no usable classes")
	}
	slices.Sort(classes)

	d := &Dataset{
		proc:    proc,
		opts:    opts,
		classes: classes,
		frames:  proc.FramesFor(opts.VoiceLen),
	}
	for id, c := range classes {
		for _, it := range byClass[c] {
			d.items = append(d.items, it)
			d.labels = append(d.labels, id)
		}
	}
	if opts.Cache != nil {
		d.cache = newFeatureCache(opts.Cache, proc)
	}
	slog.Info("dataset ready", "items", len(d.items), "classes", len(classes), "frames", d.frames)
	return d, nil
}

// Len returns the number of items.
func (d *Dataset) Len() int { return len(d.items) }

// Item returns item i.
func (d *Dataset) Item(i int) Item { return d.items[i] }

// Label returns the class id of item i.
func (d *Dataset) Label(i int) int { return d.labels[i] }

// Labels returns the class id of every item, indexed like Item.
func (d *Dataset) Labels() []int { return d.labels }

// Classes returns the class names in id order.
func (d *Dataset) Classes() []string { return d.classes }

// NumClasses returns len(Classes()).
func (d *Dataset) NumClasses() int { return len(d.classes) }

// Frames returns the number of frames of every loaded sample.
func (d *Dataset) Frames() int { return d.frames }

// ClassIDToName maps decimal class ids to class names, the form persisted
// in the run configuration.
func (d *Dataset) ClassIDToName() map[string]string {
	m := make(map[string]string, len(d.classes))
	for id, c := range d.classes {
		m[strconv.Itoa(id)] = c
	}
	return m
}

// Load returns the [Frames()][num_mels] features of item i. rng drives
// cropping and augmentation; callers own it.
func (d *Dataset) Load(ctx context.Context, i int, rng *rand.Rand) ([][]float32, error) {
	feats, err := d.features(ctx, d.items[i], rng)
	if err != nil {
		return nil, err
	}
	return d.crop(feats, rng), nil
}

func (d *Dataset) features(ctx context.Context, it Item, rng *rand.Rand) ([][]float32, error) {
	if augment := d.opts.Augmentation; augment.Enabled() && rng.Float64() < augment.P {
		samples, err := d.waveform(it)
		if err != nil {
			return nil, err
		}
		return d.proc.Melspectrogram(addGaussianNoise(samples, *augment.Gaussian, rng)), nil
	}

	if d.cache != nil {
		feats, ok, err := d.cache.get(ctx, it.AudioFile)
		if err != nil {
			slog.Warn("feature cache read failed", "path", it.AudioFile, "error", err)
		}
		if ok {
			return feats, nil
		}
	}
	samples, err := d.waveform(it)
	if err != nil {
		return nil, err
	}
	feats := d.proc.Melspectrogram(samples)
	if d.cache != nil {
		if err := d.cache.set(ctx, it.AudioFile, feats); err != nil {
			slog.Warn("feature cache write failed", "path", it.AudioFile, "error", err)
		}
	}
	return feats, nil
}

func (d *Dataset) waveform(it Item) ([]float32, error) {
	samples, err := d.proc.LoadWAV(it.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	samples = d.proc.TrimSilence(samples)
	if len(samples) == 0 {
		return nil, fmt.Errorf("dataset: %s is empty", it.AudioFile)
	}
	return samples, nil
}

// crop takes a random window of d.frames frames, zero-padding at the end
// when feats is shorter.
func (d *Dataset) crop(feats [][]float32, rng *rand.Rand) [][]float32 {
	out := make([][]float32, d.frames)
	offset := 0
	if len(feats) > d.frames {
		offset = rng.IntN(len(feats) - d.frames + 1)
	}
	dim := d.proc.NumMels()
	for t := range out {
		if src := offset + t; src < len(feats) {
			out[t] = feats[src]
		} else {
			out[t] = make([]float32, dim)
		}
	}
	return out
}

// Collate stacks loaded samples and their labels into a Batch.
func Collate(features [][][]float32, labels []int) *Batch {
	return &Batch{Features: features, Labels: labels}
}
