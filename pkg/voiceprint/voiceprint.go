// Package voiceprint embeds utterances with a trained encoder.
//
// An Encoder pairs the audio front end of a training configuration with
// the model weights of one of its checkpoints. Embeddings are
// L2-normalized, so the cosine similarity of two utterances is their dot
// product. A Hasher condenses an embedding into a short hex voice label
// for coarse grouping:
//
//	16 bit: A3F8  ← exact match
//	12 bit: A3F   ← fuzzy match
//	 8 bit: A3    ← group level
package voiceprint

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/haivivi/voiceenc/pkg/audio"
	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/nn"
)

// ErrNoAudio is returned for utterances that yield no feature frames.
var ErrNoAudio = errors.New("voiceprint: no audio frames")

// Encoder computes utterance embeddings. It is not safe for concurrent
// use.
type Encoder struct {
	proc  *audio.Processor
	model nn.Model
}

// New builds an encoder for cfg with the weights of ckpt. The checkpoint
// must match the configured architecture exactly.
func New(cfg *config.Config, ckpt *checkpoint.Checkpoint) (*Encoder, error) {
	proc, err := audio.NewProcessor(cfg.Audio)
	if err != nil {
		return nil, err
	}
	model, err := nn.NewModel(cfg.ModelParams, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if _, err := nn.LoadStateDict(model.Parameters(), ckpt.Model, true); err != nil {
		return nil, fmt.Errorf("voiceprint: %w", err)
	}
	return &Encoder{proc: proc, model: model}, nil
}

// Open loads the checkpoint at location (a local path or s3:// URL) and
// builds an encoder from it.
func Open(ctx context.Context, cfg *config.Config, location string) (*Encoder, error) {
	ckpt, err := checkpoint.LoadURL(ctx, location)
	if err != nil {
		return nil, err
	}
	return New(cfg, ckpt)
}

// Dim returns the embedding size.
func (e *Encoder) Dim() int { return e.model.EmbeddingDim() }

// Embed returns the embedding of a waveform at the configured sample
// rate. The whole utterance is used.
func (e *Encoder) Embed(samples []float32) ([]float64, error) {
	samples = e.proc.TrimSilence(samples)
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	feats := e.proc.Melspectrogram(samples)
	if len(feats) == 0 {
		return nil, ErrNoAudio
	}
	return e.model.Forward([][][]float32{feats})[0], nil
}

// EmbedFile reads a WAV file and embeds it.
func (e *Encoder) EmbedFile(path string) ([]float64, error) {
	samples, err := e.proc.LoadWAV(path)
	if err != nil {
		return nil, err
	}
	emb, err := e.Embed(samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return emb, nil
}

// Similarity returns the cosine similarity of two embeddings.
func Similarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
