package nn

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/haivivi/voiceenc/pkg/config"
)

func randomBatch(rng *rand.Rand, n, frames, dim int) [][][]float32 {
	batch := make([][][]float32, n)
	for i := range batch {
		batch[i] = make([][]float32, frames)
		for t := range batch[i] {
			row := make([]float32, dim)
			for j := range row {
				row[j] = float32(rng.NormFloat64())
			}
			batch[i][t] = row
		}
	}
	return batch
}

func TestNewModel(t *testing.T) {
	p := config.Default().ModelParams
	m, err := NewModel(p, 1)
	if err != nil {
		t.Fatal(err)
	}
	// stats pooling doubles the input: 160*256+256 + 256*256+256
	if got, want := CountParameters(m.Parameters()), 160*256+256+256*256+256; got != want {
		t.Errorf("CountParameters = %d, want %d", got, want)
	}
	names := make([]string, 0)
	for _, p := range m.Parameters() {
		names = append(names, p.Name)
	}
	want := []string{"layers.0.weight", "layers.0.bias", "proj.weight", "proj.bias"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}

	p.ModelName = "lstm"
	if _, err := NewModel(p, 1); err == nil {
		t.Error("expected error for unsupported model")
	}
}

func TestNewModelDeterministic(t *testing.T) {
	p := config.Default().ModelParams
	a, _ := NewModel(p, 7)
	b, _ := NewModel(p, 7)
	c, _ := NewModel(p, 8)
	if !slices.Equal(a.Parameters()[0].Data, b.Parameters()[0].Data) {
		t.Error("same seed produced different weights")
	}
	if slices.Equal(a.Parameters()[0].Data, c.Parameters()[0].Data) {
		t.Error("different seeds produced identical weights")
	}
}

func TestForwardUnitNorm(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, pooling := range []string{config.PoolingMean, config.PoolingStats} {
		m, err := NewMLPEncoder(MLPConfig{InputDim: 6, HiddenDim: 8, NumLayers: 2, ProjDim: 4, Pooling: pooling}, rng)
		if err != nil {
			t.Fatal(err)
		}
		emb := m.Forward(randomBatch(rng, 3, 5, 6))
		if len(emb) != 3 {
			t.Fatalf("%s: %d embeddings", pooling, len(emb))
		}
		for i, e := range emb {
			var sq float64
			for _, v := range e {
				sq += v * v
			}
			if math.Abs(sq-1) > 1e-9 {
				t.Errorf("%s: |emb[%d]|^2 = %f", pooling, i, sq)
			}
		}
	}
}

// TestBackwardMatchesFiniteDifferences checks every parameter gradient of
// L = sum(c * emb) against central differences.
func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	for _, tc := range []struct {
		pooling string
		layers  int
	}{
		{config.PoolingStats, 2},
		{config.PoolingMean, 1},
		{config.PoolingMean, 0},
	} {
		rng := rand.New(rand.NewPCG(5, 6))
		m, err := NewMLPEncoder(MLPConfig{InputDim: 4, HiddenDim: 5, NumLayers: tc.layers, ProjDim: 3, Pooling: tc.pooling}, rng)
		if err != nil {
			t.Fatal(err)
		}
		// Shift biases off zero so no ReLU sits on its kink.
		for _, p := range m.Parameters() {
			for i := range p.Data {
				p.Data[i] += 0.05 * rng.NormFloat64()
			}
		}
		batch := randomBatch(rng, 3, 4, 4)
		coef := make([][]float64, 3)
		for i := range coef {
			coef[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		}
		loss := func() float64 {
			var l float64
			for i, e := range m.Forward(batch) {
				for j, v := range e {
					l += coef[i][j] * v
				}
			}
			return l
		}

		ZeroGrad(m.Parameters())
		loss()
		m.Backward(coef)

		for _, p := range m.Parameters() {
			orig := slices.Clone(p.Data)
			numeric := fd.Gradient(nil, func(x []float64) float64 {
				copy(p.Data, x)
				return loss()
			}, orig, &fd.Settings{Formula: fd.Central, Step: 1e-6})
			copy(p.Data, orig)
			for i := range numeric {
				if math.Abs(numeric[i]-p.Grad[i]) > 1e-5*math.Max(1, math.Abs(numeric[i])) {
					t.Errorf("%s/%d %s[%d]: analytic %g, numeric %g", tc.pooling, tc.layers, p.Name, i, p.Grad[i], numeric[i])
				}
			}
		}
	}
}

func TestLoadStateDictStrict(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	src, _ := NewMLPEncoder(MLPConfig{InputDim: 4, HiddenDim: 5, NumLayers: 1, ProjDim: 3, Pooling: "mean"}, rng)
	dst, _ := NewMLPEncoder(MLPConfig{InputDim: 4, HiddenDim: 5, NumLayers: 1, ProjDim: 3, Pooling: "mean"}, rng)

	r, err := LoadStateDict(dst.Parameters(), StateDictOf(src.Parameters()), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Loaded) != 4 || r.Skipped() {
		t.Errorf("report = %+v", r)
	}
	for i, p := range dst.Parameters() {
		if !slices.Equal(p.Data, src.Parameters()[i].Data) {
			t.Errorf("%s not copied", p.Name)
		}
	}
}

func TestLoadStateDictMismatch(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	// Checkpoint from a model with a wider projection and an extra layer.
	src, _ := NewMLPEncoder(MLPConfig{InputDim: 4, HiddenDim: 5, NumLayers: 2, ProjDim: 6, Pooling: "mean"}, rng)
	dst, _ := NewMLPEncoder(MLPConfig{InputDim: 4, HiddenDim: 5, NumLayers: 1, ProjDim: 3, Pooling: "mean"}, rng)
	sd := StateDictOf(src.Parameters())
	before := StateDictOf(dst.Parameters())

	_, err := LoadStateDict(dst.Parameters(), sd, true)
	var sdErr *StateDictError
	if !errors.As(err, &sdErr) {
		t.Fatalf("strict load: got %v, want *StateDictError", err)
	}
	if !slices.Equal(sdErr.Mismatched, []string{"proj.weight", "proj.bias"}) {
		t.Errorf("Mismatched = %v", sdErr.Mismatched)
	}
	if !slices.Equal(sdErr.Unexpected, []string{"layers.1.bias", "layers.1.weight"}) {
		t.Errorf("Unexpected = %v", sdErr.Unexpected)
	}
	if !slices.Equal(dst.Parameters()[0].Data, before["layers.0.weight"].Data) {
		t.Error("failed strict load modified parameters")
	}

	r, err := LoadStateDict(dst.Parameters(), sd, false)
	if err != nil {
		t.Fatalf("partial load: %v", err)
	}
	if !slices.Equal(r.Loaded, []string{"layers.0.weight", "layers.0.bias"}) {
		t.Errorf("Loaded = %v", r.Loaded)
	}
	params := dst.Parameters()
	if !slices.Equal(params[0].Data, sd["layers.0.weight"].Data) {
		t.Error("matching parameter not copied")
	}
	if !slices.Equal(params[2].Data, before["proj.weight"].Data) {
		t.Error("mismatched parameter was overwritten")
	}
}
