// Package nn holds the trainable parameters and the embedding encoder.
//
// Parameters are flat float64 buffers with a shape and a gradient buffer of
// the same size. Models compute gradients analytically in Backward; there
// is no general autograd.
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Param is a named trainable tensor.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter.
func NewParam(name string, shape ...int) *Param {
	n := numel(shape)
	return &Param{
		Name:  name,
		Shape: slices.Clone(shape),
		Data:  make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// Size returns the number of elements.
func (p *Param) Size() int { return len(p.Data) }

func (p *Param) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Shape)
}

// Fill sets every element to v.
func (p *Param) Fill(v float64) {
	for i := range p.Data {
		p.Data[i] = v
	}
}

// XavierUniform fills a [fanOut, fanIn] weight from U(-a, a) with
// a = sqrt(6 / (fanIn + fanOut)).
func (p *Param) XavierUniform(rng *rand.Rand) {
	fanOut, fanIn := p.Shape[0], 1
	if len(p.Shape) > 1 {
		fanIn = numel(p.Shape[1:])
	}
	a := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Data {
		p.Data[i] = (2*rng.Float64() - 1) * a
	}
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		clear(p.Grad)
	}
}

// CountParameters returns the total number of elements in params.
func CountParameters(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
