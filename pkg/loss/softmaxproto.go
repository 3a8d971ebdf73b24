package loss

import (
	"fmt"
	"math/rand/v2"

	"github.com/haivivi/voiceenc/pkg/nn"
)

// SoftmaxAngleProto adds a linear softmax classifier over all embeddings
// to the angular prototypical loss. The classifier learns one row per
// dataset class, so its size depends on the training data.
type SoftmaxAngleProto struct {
	fcW, fcB   *nn.Param
	angleproto *AngleProto
	numClasses int
}

// NewSoftmaxAngleProto creates the loss for numClasses classes.
func NewSoftmaxAngleProto(embDim, numClasses int, rng *rand.Rand) *SoftmaxAngleProto {
	l := &SoftmaxAngleProto{
		fcW:        nn.NewParam("softmax.fc.weight", numClasses, embDim),
		fcB:        nn.NewParam("softmax.fc.bias", numClasses),
		angleproto: newAngleProtoPrefixed("angleproto.", 10, -5),
		numClasses: numClasses,
	}
	l.fcW.XavierUniform(rng)
	return l
}

// Parameters returns the classifier weights followed by w and b.
func (l *SoftmaxAngleProto) Parameters() []*nn.Param {
	return append([]*nn.Param{l.fcW, l.fcB}, l.angleproto.Parameters()...)
}

// Compute implements Criterion.
func (l *SoftmaxAngleProto) Compute(emb [][][]float64, labels []int) (float64, [][][]float64, error) {
	n, m, d, err := checkShape(emb)
	if err != nil {
		return 0, nil, err
	}
	if len(labels) != n*m {
		return 0, nil, fmt.Errorf("loss: %d labels for %d embeddings", len(labels), n*m)
	}
	if d != l.fcW.Shape[1] {
		return 0, nil, fmt.Errorf("loss: embedding dim %d, classifier expects %d", d, l.fcW.Shape[1])
	}

	lp, grad, err := l.angleproto.Compute(emb, labels)
	if err != nil {
		return 0, nil, err
	}

	count := float64(n * m)
	logits := make([]float64, l.numClasses)
	dLogits := make([]float64, l.numClasses)
	var ls float64
	for j := range n {
		for i := range m {
			y := labels[j*m+i]
			if y < 0 || y >= l.numClasses {
				return 0, nil, fmt.Errorf("loss: label %d outside [0, %d)", y, l.numClasses)
			}
			e := emb[j][i]
			for c := range l.numClasses {
				row := l.fcW.Data[c*d : (c+1)*d]
				z := l.fcB.Data[c]
				for t, v := range e {
					z += row[t] * v
				}
				logits[c] = z
			}
			ls += crossEntropy(logits, y, dLogits)
			for c, g := range dLogits {
				g /= count
				l.fcB.Grad[c] += g
				row := l.fcW.Data[c*d : (c+1)*d]
				gRow := l.fcW.Grad[c*d : (c+1)*d]
				for t, v := range e {
					gRow[t] += g * v
					grad[j][i][t] += g * row[t]
				}
			}
		}
	}
	return ls/count + lp, grad, nil
}

var _ Criterion = (*SoftmaxAngleProto)(nil)
