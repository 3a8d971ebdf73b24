package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/voiceenc/pkg/config"
)

// MLPConfig shapes an MLPEncoder.
type MLPConfig struct {
	InputDim  int
	HiddenDim int
	NumLayers int
	ProjDim   int
	Pooling   string // config.PoolingMean or config.PoolingStats
}

// MLPEncoder pools features over time, applies NumLayers ReLU layers and a
// linear projection, and L2-normalizes the result.
type MLPEncoder struct {
	cfg    MLPConfig
	layers []dense
	proj   dense
	params []*Param

	// Forward cache.
	inputs []*mat.Dense // input of layers[i], then of proj
	out    *mat.Dense   // projection output before normalization
	norms  []float64
	emb    [][]float64
}

type dense struct {
	w, b *Param
}

// NewMLPEncoder creates an encoder with Xavier-uniform weights and zero
// biases.
func NewMLPEncoder(cfg MLPConfig, rng *rand.Rand) (*MLPEncoder, error) {
	if cfg.InputDim <= 0 || cfg.ProjDim <= 0 || cfg.NumLayers < 0 || (cfg.NumLayers > 0 && cfg.HiddenDim <= 0) {
		return nil, fmt.Errorf("nn: invalid mlp shape %+v", cfg)
	}
	in := cfg.InputDim
	switch cfg.Pooling {
	case config.PoolingMean:
	case config.PoolingStats:
		in *= 2
	default:
		return nil, fmt.Errorf("nn: unsupported pooling %q", cfg.Pooling)
	}

	m := &MLPEncoder{cfg: cfg}
	newDense := func(name string, out, in int) dense {
		d := dense{w: NewParam(name+".weight", out, in), b: NewParam(name+".bias", out)}
		d.w.XavierUniform(rng)
		m.params = append(m.params, d.w, d.b)
		return d
	}
	for i := range cfg.NumLayers {
		m.layers = append(m.layers, newDense(fmt.Sprintf("layers.%d", i), cfg.HiddenDim, in))
		in = cfg.HiddenDim
	}
	m.proj = newDense("proj", cfg.ProjDim, in)
	return m, nil
}

// Parameters returns the weights in construction order.
func (m *MLPEncoder) Parameters() []*Param { return m.params }

// EmbeddingDim returns the projection size.
func (m *MLPEncoder) EmbeddingDim() int { return m.cfg.ProjDim }

// Forward implements Model.
func (m *MLPEncoder) Forward(batch [][][]float32) [][]float64 {
	x := m.pool(batch)
	m.inputs = m.inputs[:0]
	for _, l := range m.layers {
		m.inputs = append(m.inputs, x)
		x = l.forward(x)
		relu(x)
	}
	m.inputs = append(m.inputs, x)
	m.out = m.proj.forward(x)

	n, d := m.out.Dims()
	m.norms = make([]float64, n)
	m.emb = make([][]float64, n)
	for i := range n {
		row := m.out.RawRowView(i)
		norm := math.Max(mat.Norm(mat.NewVecDense(d, row), 2), 1e-12)
		m.norms[i] = norm
		e := make([]float64, d)
		for j, v := range row {
			e[j] = v / norm
		}
		m.emb[i] = e
	}
	return m.emb
}

// Backward implements Model.
func (m *MLPEncoder) Backward(gradEmb [][]float64) {
	n, d := m.out.Dims()
	// d(z/|z|)/dz applied to g: (g - e (e.g)) / |z|
	delta := mat.NewDense(n, d, nil)
	for i := range n {
		e, g := m.emb[i], gradEmb[i]
		var dot float64
		for j := range d {
			dot += e[j] * g[j]
		}
		for j := range d {
			delta.Set(i, j, (g[j]-e[j]*dot)/m.norms[i])
		}
	}

	delta = m.proj.backward(m.inputs[len(m.layers)], delta)
	for i := len(m.layers) - 1; i >= 0; i-- {
		// ReLU mask: the layer output is the next cached input.
		act := m.inputs[i+1]
		r, c := delta.Dims()
		for a := range r {
			for b := range c {
				if act.At(a, b) <= 0 {
					delta.Set(a, b, 0)
				}
			}
		}
		delta = m.layers[i].backward(m.inputs[i], delta)
	}
}

// pool reduces every [frames][features] matrix to one row: the mean, or
// the mean followed by the standard deviation.
func (m *MLPEncoder) pool(batch [][][]float32) *mat.Dense {
	stats := m.cfg.Pooling == config.PoolingStats
	width := m.cfg.InputDim
	if stats {
		width *= 2
	}
	x := mat.NewDense(len(batch), width, nil)
	for i, frames := range batch {
		row := x.RawRowView(i)
		t := float64(len(frames))
		for _, f := range frames {
			for j := range m.cfg.InputDim {
				row[j] += float64(f[j])
			}
		}
		for j := range m.cfg.InputDim {
			row[j] /= t
		}
		if !stats {
			continue
		}
		for _, f := range frames {
			for j := range m.cfg.InputDim {
				dv := float64(f[j]) - row[j]
				row[m.cfg.InputDim+j] += dv * dv
			}
		}
		for j := range m.cfg.InputDim {
			row[m.cfg.InputDim+j] = math.Sqrt(row[m.cfg.InputDim+j]/t + 1e-5)
		}
	}
	return x
}

// forward returns x W^T + b.
func (l dense) forward(x *mat.Dense) *mat.Dense {
	out, in := l.w.Shape[0], l.w.Shape[1]
	w := mat.NewDense(out, in, l.w.Data)
	var y mat.Dense
	y.Mul(x, w.T())
	n, _ := y.Dims()
	for i := range n {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += l.b.Data[j]
		}
	}
	return &y
}

// backward accumulates dW += delta^T x and db += sum(delta) and returns
// delta W, the gradient with respect to x.
func (l dense) backward(x, delta *mat.Dense) *mat.Dense {
	out, in := l.w.Shape[0], l.w.Shape[1]
	var gw mat.Dense
	gw.Mul(delta.T(), x)
	grad := mat.NewDense(out, in, l.w.Grad)
	grad.Add(grad, &gw)

	n, _ := delta.Dims()
	for i := range n {
		for j, v := range delta.RawRowView(i) {
			l.b.Grad[j] += v
		}
	}

	var dx mat.Dense
	dx.Mul(delta, mat.NewDense(out, in, l.w.Data))
	return &dx
}

func relu(x *mat.Dense) {
	r, _ := x.Dims()
	for i := range r {
		row := x.RawRowView(i)
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

var _ Model = (*MLPEncoder)(nil)
