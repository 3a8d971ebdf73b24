package loss

import "github.com/haivivi/voiceenc/pkg/nn"

// AngleProto is the angular prototypical loss. The first utterance of
// every class is its positive; the mean of the remaining utterances is its
// anchor. Scaled cosines between all positives and all anchors form an
// N x N logit matrix trained with cross-entropy toward the diagonal.
type AngleProto struct {
	scale scale
}

// NewAngleProto creates the loss with the given initial scale and bias.
func NewAngleProto(initW, initB float64) *AngleProto {
	return &AngleProto{scale: newScale("", initW, initB)}
}

func newAngleProtoPrefixed(prefix string, initW, initB float64) *AngleProto {
	return &AngleProto{scale: newScale(prefix, initW, initB)}
}

// Parameters returns w and b.
func (l *AngleProto) Parameters() []*nn.Param { return []*nn.Param{l.scale.w, l.scale.b} }

// Compute implements Criterion.
func (l *AngleProto) Compute(emb [][][]float64, _ []int) (float64, [][][]float64, error) {
	n, m, d, err := checkShape(emb)
	if err != nil {
		return 0, nil, err
	}

	anchors := make([][]float64, n)
	for k := range n {
		a := make([]float64, d)
		for _, e := range emb[k][1:] {
			for t, v := range e {
				a[t] += v
			}
		}
		for t := range a {
			a[t] /= float64(m - 1)
		}
		anchors[k] = a
	}

	grad := zerosLike(emb)
	w := l.scale.weight()
	logits := make([]float64, n)
	dLogits := make([]float64, n)
	cos := make([]float64, n)
	backs := make([]func(float64, []float64, []float64), n)
	anchorGrad := make([][]float64, n)
	for k := range anchorGrad {
		anchorGrad[k] = make([]float64, d)
	}

	var total float64
	for i := range n {
		for k := range n {
			cos[k], backs[k] = cosine(emb[i][0], anchors[k])
			logits[k] = w*cos[k] + l.scale.b.Data[0]
		}
		total += crossEntropy(logits, i, dLogits)
		for k := range n {
			dl := dLogits[k] / float64(n)
			l.scale.accumulate(dl, cos[k])
			backs[k](dl*w, grad[i][0], anchorGrad[k])
		}
	}
	for k := range n {
		for _, g := range grad[k][1:] {
			addScaled(g, anchorGrad[k], 1/float64(m-1))
		}
	}
	return total / float64(n), grad, nil
}

var _ Criterion = (*AngleProto)(nil)
