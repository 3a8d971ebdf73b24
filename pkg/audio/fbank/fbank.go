// Package fbank computes log mel filterbank features from waveforms.
//
// The output of Extract is a [frames][numMels] float32 matrix, the input
// representation of the embedding encoder. The defaults follow the usual
// speaker-verification front end:
//
//	SampleRate:  16000
//	WindowSize:  400 (25 ms)
//	HopSize:     160 (10 ms)
//	FFTSize:     512
//	NumMels:     80
//	LowFreq:     20
//	HighFreq:  7600
//	PreEmphasis: 0.97
package fbank

import (
	"fmt"
	"math"
)

// Config controls mel filterbank extraction parameters.
type Config struct {
	SampleRate  int     // audio sample rate in Hz
	WindowSize  int     // window length in samples
	HopSize     int     // hop length in samples
	FFTSize     int     // FFT size, a power of two >= WindowSize
	NumMels     int     // number of mel bins
	LowFreq     float64 // lowest mel frequency
	HighFreq    float64 // highest mel frequency, 0 means Nyquist
	PreEmphasis float64 // pre-emphasis coefficient, 0 disables
}

// DefaultConfig returns the 16 kHz / 80 mel configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0, c.WindowSize <= 0, c.HopSize <= 0, c.NumMels <= 0:
		return fmt.Errorf("fbank: sample rate, window, hop and mel count must be positive")
	case c.FFTSize < c.WindowSize || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("fbank: fft size %d must be a power of two >= window size %d", c.FFTSize, c.WindowSize)
	}
	return nil
}

// Extractor computes mel filterbank features. It is safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64 // Hamming window
	melBank [][]float64
}

// New creates an Extractor for cfg.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	high := cfg.HighFreq
	if high <= 0 || high > float64(cfg.SampleRate)/2 {
		high = float64(cfg.SampleRate) / 2
	}
	return &Extractor{
		cfg:     cfg,
		window:  hammingWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, high),
	}, nil
}

// Config returns the extraction parameters.
func (e *Extractor) Config() Config { return e.cfg }

// NumFrames returns the number of frames Extract yields for n samples.
func (e *Extractor) NumFrames(n int) int {
	if n <= 0 {
		return 0
	}
	if n < e.cfg.WindowSize {
		return 1
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes log mel filterbank features from samples in [-1, 1].
// Signals shorter than one window are zero-padded to a single frame; an
// empty signal yields nil.
func (e *Extractor) Extract(samples []float32) [][]float32 {
	cfg := e.cfg
	numFrames := e.NumFrames(len(samples))
	if numFrames == 0 {
		return nil
	}

	// Pre-emphasis over the whole signal, so frame boundaries see the
	// previous frame's last sample.
	sig := make([]float64, max(len(samples), cfg.WindowSize))
	for i, s := range samples {
		sig[i] = float64(s)
		if i > 0 && cfg.PreEmphasis != 0 {
			sig[i] -= cfg.PreEmphasis * float64(samples[i-1])
		}
	}

	nfft := cfg.FFTSize
	halfFFT := nfft/2 + 1
	re := make([]float64, nfft)
	im := make([]float64, nfft)
	power := make([]float64, halfFFT)
	features := make([][]float32, numFrames)

	for t := range numFrames {
		start := t * cfg.HopSize
		for i := range nfft {
			re[i], im[i] = 0, 0
			if i < cfg.WindowSize {
				re[i] = sig[start+i] * e.window[i]
			}
		}
		fft(re, im)
		for k := range halfFFT {
			power[k] = re[k]*re[k] + im[k]*im[k]
		}

		mel := make([]float32, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * power[k]
				}
			}
			// Log with floor to avoid -inf on silence.
			mel[m] = float32(math.Log(math.Max(sum, 1e-10)))
		}
		features[t] = mel
	}
	return features
}

// CMVN applies per-utterance cepstral mean and variance normalization in
// place: every mel dimension is shifted to zero mean and scaled to unit
// variance across frames.
func CMVN(features [][]float32) {
	if len(features) == 0 {
		return
	}
	numMels := len(features[0])
	n := float64(len(features))

	for m := range numMels {
		var sum float64
		for _, f := range features {
			sum += float64(f[m])
		}
		mean := sum / n

		var varSum float64
		for _, f := range features {
			d := float64(f[m]) - mean
			varSum += d * d
		}
		std := math.Max(math.Sqrt(varSum/n), 1e-10)

		for _, f := range features {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}
