package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/haivivi/voiceenc/pkg/audio/fbank"
	"github.com/haivivi/voiceenc/pkg/audio/resampler"
	"github.com/haivivi/voiceenc/pkg/audio/wav"
	"github.com/haivivi/voiceenc/pkg/config"
)

// ErrSampleRate is returned by LoadWAV when a file's sample rate differs
// from the configured one and resampling is disabled.
var ErrSampleRate = errors.New("audio: sample rate mismatch")

// Processor loads waveforms and extracts mel features. It is safe for
// concurrent use.
type Processor struct {
	cfg config.AudioConfig
	ext *fbank.Extractor
}

// NewProcessor creates a Processor for cfg.
func NewProcessor(cfg config.AudioConfig) (*Processor, error) {
	ext, err := fbank.New(fbank.Config{
		SampleRate:  cfg.SampleRate,
		WindowSize:  cfg.WinLength,
		HopSize:     cfg.HopLength,
		FFTSize:     cfg.FFTSize,
		NumMels:     cfg.NumMels,
		LowFreq:     cfg.MelFMin,
		HighFreq:    cfg.MelFMax,
		PreEmphasis: cfg.Preemphasis,
	})
	if err != nil {
		return nil, err
	}
	return &Processor{cfg: cfg, ext: ext}, nil
}

// SampleRate returns the working sample rate.
func (p *Processor) SampleRate() int { return p.cfg.SampleRate }

// NumMels returns the feature dimension.
func (p *Processor) NumMels() int { return p.cfg.NumMels }

// HopLength returns the frame hop in samples.
func (p *Processor) HopLength() int { return p.cfg.HopLength }

// Fingerprint identifies the feature extraction settings. Features
// computed under equal fingerprints are interchangeable.
func (p *Processor) Fingerprint() string {
	c := p.cfg
	return fmt.Sprintf("sr=%d resample=%t mels=%d fft=%d win=%d hop=%d fmin=%g fmax=%g pre=%g trim=%t/%g cmvn=%t",
		c.SampleRate, c.Resample, c.NumMels, c.FFTSize, c.WinLength, c.HopLength,
		c.MelFMin, c.MelFMax, c.Preemphasis, c.DoTrimSilence, c.TrimDB, c.DoCMVN)
}

// FramesFor returns the number of feature frames covering seconds of audio.
func (p *Processor) FramesFor(seconds float64) int {
	return max(1, int(seconds*float64(p.cfg.SampleRate)/float64(p.cfg.HopLength)))
}

// LoadWAV decodes the file at path into mono samples at SampleRate().
func (p *Processor) LoadWAV(path string) ([]float32, error) {
	a, err := wav.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if a.SampleRate == p.cfg.SampleRate {
		return a.Samples, nil
	}
	if !p.cfg.Resample {
		return nil, fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrSampleRate, path, a.SampleRate, p.cfg.SampleRate)
	}
	out, err := resampler.Resample(a.Samples, a.SampleRate, p.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// TrimSilence removes leading and trailing frames quieter than trim_db
// below the loudest frame. It returns samples unchanged when trimming is
// disabled or the signal is entirely silent.
func (p *Processor) TrimSilence(samples []float32) []float32 {
	if !p.cfg.DoTrimSilence || len(samples) == 0 {
		return samples
	}
	win, hop := p.cfg.WinLength, p.cfg.HopLength

	var energies []float64
	for start := 0; start < len(samples); start += hop {
		end := min(start+win, len(samples))
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s) * float64(s)
		}
		energies = append(energies, sum/float64(end-start))
		if end == len(samples) {
			break
		}
	}

	peak := 0.0
	for _, e := range energies {
		peak = math.Max(peak, e)
	}
	if peak == 0 {
		return samples
	}
	threshold := peak * math.Pow(10, -p.cfg.TrimDB/10)

	first, last := -1, -1
	for i, e := range energies {
		if e > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return samples[first*hop : min(last*hop+win, len(samples))]
}

// Melspectrogram returns the [frames][num_mels] log mel features of
// samples, CMVN-normalized when do_cmvn is set.
func (p *Processor) Melspectrogram(samples []float32) [][]float32 {
	feats := p.ext.Extract(samples)
	if p.cfg.DoCMVN {
		fbank.CMVN(feats)
	}
	return feats
}
