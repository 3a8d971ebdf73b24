package optim

import (
	"math"

	"github.com/haivivi/voiceenc/pkg/nn"
)

// ClipGradNorm scales the gradients of params so that their global L2 norm
// is at most maxNorm, and returns the norm before clipping. A non-finite
// norm is returned as is and the gradients are left untouched.
func ClipGradNorm(params []*nn.Param, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		for _, g := range p.Grad {
			sq += g * g
		}
	}
	norm := math.Sqrt(sq)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm
	}
	if coef := maxNorm / (norm + 1e-6); coef < 1 {
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] *= coef
			}
		}
	}
	return norm
}
