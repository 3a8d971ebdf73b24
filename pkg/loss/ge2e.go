package loss

import "github.com/haivivi/voiceenc/pkg/nn"

// GE2E is the generalized end-to-end loss, softmax variant. Each
// utterance is scored against every class centroid; its own class
// centroid excludes the utterance itself. Cosines are clamped below at
// 1e-6 before scaling.
type GE2E struct {
	scale scale
}

// NewGE2E creates a GE2E loss with the given initial scale and bias.
func NewGE2E(initW, initB float64) *GE2E {
	return &GE2E{scale: newScale("", initW, initB)}
}

// Parameters returns w and b.
func (l *GE2E) Parameters() []*nn.Param { return []*nn.Param{l.scale.w, l.scale.b} }

// Compute implements Criterion.
func (l *GE2E) Compute(emb [][][]float64, _ []int) (float64, [][][]float64, error) {
	n, m, d, err := checkShape(emb)
	if err != nil {
		return 0, nil, err
	}

	sums := make([][]float64, n)
	for j := range n {
		sums[j] = make([]float64, d)
		for _, e := range emb[j] {
			for k, v := range e {
				sums[j][k] += v
			}
		}
	}
	centroid := func(k int, exclude []float64) []float64 {
		c := make([]float64, d)
		div := float64(m)
		if exclude != nil {
			div = float64(m - 1)
		}
		for t := range d {
			v := sums[k][t]
			if exclude != nil {
				v -= exclude[t]
			}
			c[t] = v / div
		}
		return c
	}

	grad := zerosLike(emb)
	w := l.scale.weight()
	norm := 1 / float64(n*m)
	logits := make([]float64, n)
	dLogits := make([]float64, n)
	cosRaw := make([]float64, n)
	backs := make([]func(float64, []float64, []float64), n)
	centroids := make([][]float64, n)

	var total float64
	for j := range n {
		for i := range m {
			e := emb[j][i]
			for k := range n {
				var excl []float64
				if k == j {
					excl = e
				}
				centroids[k] = centroid(k, excl)
				cosRaw[k], backs[k] = cosine(e, centroids[k])
				logits[k] = w*max(cosRaw[k], 1e-6) + l.scale.b.Data[0]
			}
			total += crossEntropy(logits, j, dLogits)

			for k := range n {
				dl := dLogits[k] * norm
				l.scale.accumulate(dl, max(cosRaw[k], 1e-6))
				if cosRaw[k] <= 1e-6 {
					continue
				}
				gc := make([]float64, d)
				backs[k](dl*w, grad[j][i], gc)
				// Spread the centroid gradient over its members.
				if k == j {
					for u := range m {
						if u == i {
							continue
						}
						addScaled(grad[k][u], gc, 1/float64(m-1))
					}
				} else {
					for u := range m {
						addScaled(grad[k][u], gc, 1/float64(m))
					}
				}
			}
		}
	}
	return total * norm, grad, nil
}

func addScaled(dst, src []float64, s float64) {
	for i, v := range src {
		dst[i] += s * v
	}
}

var _ Criterion = (*GE2E)(nil)
