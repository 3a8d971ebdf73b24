package loss

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/nn"
)

// positiveEmbeddings draws [n][m][d] embeddings in the positive orthant so
// that every cosine stays well above the GE2E clamp.
func positiveEmbeddings(rng *rand.Rand, n, m, d int) [][][]float64 {
	emb := make([][][]float64, n)
	for i := range emb {
		emb[i] = make([][]float64, m)
		for j := range emb[i] {
			e := make([]float64, d)
			for k := range e {
				e[k] = 0.1 + rng.Float64()
			}
			emb[i][j] = e
		}
	}
	return emb
}

func groupedLabels(n, m int) []int {
	labels := make([]int, 0, n*m)
	for j := range n {
		for range m {
			labels = append(labels, j)
		}
	}
	return labels
}

func flatten(emb [][][]float64) []float64 {
	var out []float64
	for _, cls := range emb {
		for _, e := range cls {
			out = append(out, e...)
		}
	}
	return out
}

func unflatten(x []float64, emb [][][]float64) {
	off := 0
	for _, cls := range emb {
		for _, e := range cls {
			off += copy(e, x[off:off+len(e)])
		}
	}
}

func checkGradients(t *testing.T, name string, c Criterion, emb [][][]float64, labels []int) {
	t.Helper()
	nn.ZeroGrad(c.Parameters())
	_, grad, err := c.Compute(emb, labels)
	if err != nil {
		t.Fatal(err)
	}
	// Snapshot before the finite-difference passes accumulate more.
	analytic := make(map[string][]float64)
	for _, p := range c.Parameters() {
		analytic[p.Name] = append([]float64(nil), p.Grad...)
	}
	eval := func() float64 {
		l, _, err := c.Compute(emb, labels)
		if err != nil {
			t.Fatal(err)
		}
		return l
	}
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	near := func(a, b float64) bool { return math.Abs(a-b) <= 1e-5*math.Max(1, math.Abs(b)) }

	x := flatten(emb)
	numeric := fd.Gradient(nil, func(v []float64) float64 {
		unflatten(v, emb)
		return eval()
	}, x, settings)
	unflatten(x, emb)
	for i, g := range flatten(grad) {
		if !near(g, numeric[i]) {
			t.Errorf("%s: dEmb[%d] analytic %g, numeric %g", name, i, g, numeric[i])
		}
	}

	for _, p := range c.Parameters() {
		orig := append([]float64(nil), p.Data...)
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			copy(p.Data, v)
			return eval()
		}, orig, settings)
		copy(p.Data, orig)
		for i := range numeric {
			if !near(analytic[p.Name][i], numeric[i]) {
				t.Errorf("%s: d%s[%d] analytic %g, numeric %g", name, p.Name, i, analytic[p.Name][i], numeric[i])
			}
		}
	}
}

func TestGradients(t *testing.T) {
	const n, m, d = 3, 3, 4
	rng := rand.New(rand.NewPCG(11, 12))
	checkGradients(t, "ge2e", NewGE2E(10, -5), positiveEmbeddings(rng, n, m, d), nil)
	checkGradients(t, "angleproto", NewAngleProto(10, -5), positiveEmbeddings(rng, n, m, d), nil)

	sp := NewSoftmaxAngleProto(d, 5, rng)
	labels := []int{0, 0, 0, 3, 3, 3, 4, 4, 4}
	checkGradients(t, "softmaxproto", sp, positiveEmbeddings(rng, n, m, d), labels)
}

// separated returns n classes of m copies of the n-th unit vector.
func separated(n, m int) [][][]float64 {
	emb := make([][][]float64, n)
	for j := range n {
		emb[j] = make([][]float64, m)
		for i := range m {
			e := make([]float64, n)
			e[j] = 1
			emb[j][i] = e
		}
	}
	return emb
}

func TestSeparatedClassesHaveLowLoss(t *testing.T) {
	// logits are +5 on the diagonal and about -5 elsewhere.
	want := math.Log1p(math.Exp(-10))
	for _, tc := range []struct {
		name string
		c    Criterion
	}{
		{"ge2e", NewGE2E(10, -5)},
		{"angleproto", NewAngleProto(10, -5)},
	} {
		l, _, err := tc.c.Compute(separated(2, 3), nil)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(l-want) > 1e-6 {
			t.Errorf("%s: loss = %g, want %g", tc.name, l, want)
		}
	}
}

func TestConfusedClassesHaveHighLoss(t *testing.T) {
	emb := [][][]float64{
		{{1, 0}, {1, 0}},
		{{1, 0}, {1, 0}},
	}
	l, _, err := NewAngleProto(10, -5).Compute(emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(l-math.Ln2) > 1e-9 {
		t.Errorf("loss = %g, want ln 2", l)
	}
}

func TestComputeErrors(t *testing.T) {
	c := NewAngleProto(10, -5)
	if _, _, err := c.Compute([][][]float64{{{1}, {1}}}, nil); err == nil {
		t.Error("expected error for a single class")
	}
	if _, _, err := c.Compute([][][]float64{{{1}}, {{1}}}, nil); err == nil {
		t.Error("expected error for one utterance per class")
	}
	sp := NewSoftmaxAngleProto(2, 2, rand.New(rand.NewPCG(1, 1)))
	if _, _, err := sp.Compute(separated(2, 2), []int{0, 0, 1}); err == nil {
		t.Error("expected error for short labels")
	}
	if _, _, err := sp.Compute(separated(2, 2), []int{0, 0, 1, 2}); err == nil {
		t.Error("expected error for out of range label")
	}
}

func TestNew(t *testing.T) {
	for _, kind := range config.LossKinds {
		c, err := New(kind, 4, 3, 1)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		wantParams := 2
		if kind.Learned() {
			wantParams = 4
		}
		if got := len(c.Parameters()); got != wantParams {
			t.Errorf("%s: %d parameters, want %d", kind, got, wantParams)
		}
	}
	if _, err := New(config.LossSoftmaxProto, 4, 1, 1); err == nil {
		t.Error("expected error for a one-class softmax head")
	}
	if _, err := New("triplet", 4, 3, 1); err == nil {
		t.Error("expected error for unknown loss")
	}
}

func TestScaleClamp(t *testing.T) {
	l := NewAngleProto(-1, 0)
	nn.ZeroGrad(l.Parameters())
	if _, _, err := l.Compute(separated(2, 2), nil); err != nil {
		t.Fatal(err)
	}
	if l.scale.w.Grad[0] != 0 {
		t.Errorf("clamped w received gradient %g", l.scale.w.Grad[0])
	}
}
