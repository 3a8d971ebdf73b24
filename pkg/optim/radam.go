// Package optim updates model parameters: the RAdam optimizer, global
// gradient-norm clipping and the Noam learning-rate schedule.
package optim

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/haivivi/voiceenc/pkg/nn"
)

// RAdamConfig holds the optimizer hyperparameters.
type RAdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// DefaultRAdamConfig returns betas (0.9, 0.999) and eps 1e-8 with the
// given learning rate and decoupled weight decay.
func DefaultRAdamConfig(lr, weightDecay float64) RAdamConfig {
	return RAdamConfig{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: weightDecay}
}

// ParamState is the per-parameter optimizer state.
type ParamState struct {
	Step     int       `msgpack:"step" json:"step"`
	ExpAvg   []float64 `msgpack:"exp_avg" json:"exp_avg"`
	ExpAvgSq []float64 `msgpack:"exp_avg_sq" json:"exp_avg_sq"`
}

// State is the serializable optimizer state, keyed by parameter name.
type State struct {
	LR     float64               `msgpack:"lr" json:"lr"`
	Params map[string]ParamState `msgpack:"params" json:"params"`
}

// RAdam is the rectified Adam optimizer. While the variance of the
// adaptive learning rate is intractable (early steps) it falls back to
// bias-corrected momentum SGD.
type RAdam struct {
	cfg    RAdamConfig
	params []*nn.Param
	state  map[*nn.Param]*ParamState
}

// NewRAdam creates an optimizer over params.
func NewRAdam(params []*nn.Param, cfg RAdamConfig) (*RAdam, error) {
	if cfg.LR <= 0 {
		return nil, fmt.Errorf("optim: invalid learning rate %g", cfg.LR)
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, fmt.Errorf("optim: invalid betas (%g, %g)", cfg.Beta1, cfg.Beta2)
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return nil, fmt.Errorf("optim: duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &RAdam{cfg: cfg, params: params, state: make(map[*nn.Param]*ParamState, len(params))}, nil
}

// LR returns the current learning rate.
func (o *RAdam) LR() float64 { return o.cfg.LR }

// SetLR changes the learning rate of every parameter.
func (o *RAdam) SetLR(lr float64) { o.cfg.LR = lr }

// ZeroGrad clears every parameter gradient.
func (o *RAdam) ZeroGrad() { nn.ZeroGrad(o.params) }

// Step applies one update from the current gradients.
func (o *RAdam) Step() {
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2
	smaMax := 2/(1-b2) - 1
	for _, p := range o.params {
		st := o.state[p]
		if st == nil {
			st = &ParamState{ExpAvg: make([]float64, p.Size()), ExpAvgSq: make([]float64, p.Size())}
			o.state[p] = st
		}
		for i, g := range p.Grad {
			st.ExpAvgSq[i] = b2*st.ExpAvgSq[i] + (1-b2)*g*g
			st.ExpAvg[i] = b1*st.ExpAvg[i] + (1-b1)*g
		}
		st.Step++

		b2t := math.Pow(b2, float64(st.Step))
		sma := smaMax - 2*float64(st.Step)*b2t/(1-b2t)
		bias1 := 1 - math.Pow(b1, float64(st.Step))
		lr := o.cfg.LR

		if o.cfg.WeightDecay != 0 {
			for i := range p.Data {
				p.Data[i] -= o.cfg.WeightDecay * lr * p.Data[i]
			}
		}
		if sma >= 5 {
			r := math.Sqrt((1 - b2t) * (sma - 4) / (smaMax - 4) * (sma - 2) / sma * smaMax / (smaMax - 2))
			stepSize := r / bias1
			for i := range p.Data {
				p.Data[i] -= lr * stepSize * st.ExpAvg[i] / (math.Sqrt(st.ExpAvgSq[i]) + o.cfg.Eps)
			}
			continue
		}
		stepSize := 1 / bias1
		for i := range p.Data {
			p.Data[i] -= lr * stepSize * st.ExpAvg[i]
		}
	}
}

// State snapshots the optimizer state.
func (o *RAdam) State() State {
	s := State{LR: o.cfg.LR, Params: make(map[string]ParamState, len(o.state))}
	for p, st := range o.state {
		s.Params[p.Name] = ParamState{
			Step:     st.Step,
			ExpAvg:   append([]float64(nil), st.ExpAvg...),
			ExpAvgSq: append([]float64(nil), st.ExpAvgSq...),
		}
	}
	return s
}

// LoadState restores s. Entries for unknown parameters or with a
// different size are skipped and their names returned; the learning rate
// is taken from s.
func (o *RAdam) LoadState(s State) (skipped []string) {
	byName := make(map[string]*nn.Param, len(o.params))
	for _, p := range o.params {
		byName[p.Name] = p
	}
	for name, ps := range s.Params {
		p, ok := byName[name]
		if !ok || len(ps.ExpAvg) != p.Size() || len(ps.ExpAvgSq) != p.Size() {
			skipped = append(skipped, name)
			continue
		}
		o.state[p] = &ParamState{
			Step:     ps.Step,
			ExpAvg:   append([]float64(nil), ps.ExpAvg...),
			ExpAvgSq: append([]float64(nil), ps.ExpAvgSq...),
		}
	}
	if s.LR > 0 {
		o.cfg.LR = s.LR
	}
	if len(skipped) > 0 {
		slog.Warn("optimizer state partially restored", "skipped", skipped)
	}
	return skipped
}
