// Package loss implements the metric-learning criteria of the encoder:
// GE2E, angular prototypical and softmax + angular prototypical.
//
// Criteria take embeddings grouped by class, [N classes][M utterances][D],
// and return the scalar loss together with its gradient with respect to
// the embeddings. Gradients of the criterion's own parameters are
// accumulated into their Param.Grad buffers.
package loss

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/nn"
)

// Criterion computes a loss over grouped embeddings.
type Criterion interface {
	// Compute returns the loss and dLoss/dEmb. labels holds the class id
	// of every embedding in grouped order (len N*M); criteria without a
	// classification head ignore it.
	Compute(emb [][][]float64, labels []int) (float64, [][][]float64, error)
	// Parameters returns the learned parameters, possibly none.
	Parameters() []*nn.Param
}

// New resolves kind into a Criterion. numClasses sizes the softmax head
// and is ignored by the other losses.
func New(kind config.LossKind, embDim, numClasses int, seed uint64) (Criterion, error) {
	switch kind {
	case config.LossGE2E:
		return NewGE2E(10, -5), nil
	case config.LossAngleProto:
		return NewAngleProto(10, -5), nil
	case config.LossSoftmaxProto:
		if numClasses < 2 {
			return nil, fmt.Errorf("loss: softmaxproto needs at least 2 classes, got %d", numClasses)
		}
		return NewSoftmaxAngleProto(embDim, numClasses, rand.New(rand.NewPCG(seed, 0x6c6f7373))), nil
	default:
		return nil, fmt.Errorf("loss: unsupported loss %q", kind)
	}
}

// scale holds the learnable affine map w*cos+b shared by GE2E and
// AngleProto. w is clamped below at 1e-6 when used.
type scale struct {
	w, b *nn.Param
}

func newScale(prefix string, initW, initB float64) scale {
	s := scale{w: nn.NewParam(prefix+"w", 1), b: nn.NewParam(prefix+"b", 1)}
	s.w.Data[0] = initW
	s.b.Data[0] = initB
	return s
}

func (s scale) weight() float64 { return math.Max(s.w.Data[0], 1e-6) }

// accumulate adds the gradients of w and b given dLoss/dLogits and the
// cosines the logits were computed from.
func (s scale) accumulate(dLogit, cos float64) {
	if s.w.Data[0] > 1e-6 {
		s.w.Grad[0] += dLogit * cos
	}
	s.b.Grad[0] += dLogit
}

// crossEntropy returns -log softmax(logits)[target] and writes
// softmax(logits) - onehot(target) into grad.
func crossEntropy(logits []float64, target int, grad []float64) float64 {
	lse := floats.LogSumExp(logits)
	for k, z := range logits {
		grad[k] = math.Exp(z - lse)
	}
	grad[target] -= 1
	return lse - logits[target]
}

// cosine returns cos(a, c) and adds g*dcos/da to ga and g*dcos/dc to gc
// when g != 0. Norms are floored at 1e-8.
func cosine(a, c []float64) (float64, func(g float64, ga, gc []float64)) {
	na := math.Max(floats.Norm(a, 2), 1e-8)
	nc := math.Max(floats.Norm(c, 2), 1e-8)
	cos := floats.Dot(a, c) / (na * nc)
	return cos, func(g float64, ga, gc []float64) {
		if g == 0 {
			return
		}
		for i := range a {
			ga[i] += g * (c[i]/(na*nc) - cos*a[i]/(na*na))
			gc[i] += g * (a[i]/(na*nc) - cos*c[i]/(nc*nc))
		}
	}
}

func checkShape(emb [][][]float64) (n, m, d int, err error) {
	n = len(emb)
	if n < 2 {
		return 0, 0, 0, fmt.Errorf("loss: need at least 2 classes, got %d", n)
	}
	m = len(emb[0])
	if m < 2 {
		return 0, 0, 0, fmt.Errorf("loss: need at least 2 utterances per class, got %d", m)
	}
	d = len(emb[0][0])
	for _, cls := range emb {
		if len(cls) != m {
			return 0, 0, 0, fmt.Errorf("loss: ragged batch: %d vs %d utterances", len(cls), m)
		}
		for _, e := range cls {
			if len(e) != d {
				return 0, 0, 0, fmt.Errorf("loss: ragged embeddings: %d vs %d", len(e), d)
			}
		}
	}
	return n, m, d, nil
}

func zerosLike(emb [][][]float64) [][][]float64 {
	g := make([][][]float64, len(emb))
	for i, cls := range emb {
		g[i] = make([][]float64, len(cls))
		for j, e := range cls {
			g[i][j] = make([]float64, len(e))
		}
	}
	return g
}
