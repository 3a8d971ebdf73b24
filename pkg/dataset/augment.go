package dataset

import (
	"math/rand/v2"

	"github.com/haivivi/voiceenc/pkg/config"
)

// addGaussianNoise returns a copy of samples with white noise added with
// probability g.P. The noise amplitude is uniform in [MinAmplitude,
// MaxAmplitude].
func addGaussianNoise(samples []float32, g config.GaussianConfig, rng *rand.Rand) []float32 {
	if rng.Float64() >= g.P {
		return samples
	}
	amp := g.MinAmplitude + rng.Float64()*(g.MaxAmplitude-g.MinAmplitude)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s + float32(amp*rng.NormFloat64())
	}
	return out
}
