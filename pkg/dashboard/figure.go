package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MaxPlottedClasses bounds the number of classes drawn in an embedding
// figure.
const MaxPlottedClasses = 10

var palette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// EmbeddingFigure projects a class-grouped batch of embeddings onto its
// first two principal components and renders a scatter plot coloured by
// class. Only the first MaxPlottedClasses classes are drawn.
func EmbeddingFigure(emb [][]float64, classesInBatch int) (Figure, error) {
	if classesInBatch <= 0 || len(emb) == 0 || len(emb)%classesInBatch != 0 {
		return Figure{}, fmt.Errorf("dashboard: %d embeddings do not split into %d classes", len(emb), classesInBatch)
	}
	perClass := len(emb) / classesInBatch
	classes := min(classesInBatch, MaxPlottedClasses)
	n := classes * perClass
	d := len(emb[0])
	if n < 2 || d < 2 {
		return Figure{}, errors.New("dashboard: need at least two 2-D embeddings to plot")
	}

	x := mat.NewDense(n, d, nil)
	for i := range n {
		x.SetRow(i, emb[i])
	}
	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return Figure{}, errors.New("dashboard: principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// Center before projecting; PrincipalComponents works on a copy.
	for j := range d {
		col := mat.Col(nil, j, x)
		mean := stat.Mean(col, nil)
		for i := range n {
			x.Set(i, j, x.At(i, j)-mean)
		}
	}
	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, d, 0, 2))

	labels := make([]int, n)
	for i := range labels {
		labels[i] = i / perClass
	}
	return Figure{SVG: scatterSVG(&proj, labels)}, nil
}

func scatterSVG(pts mat.Matrix, labels []int) []byte {
	const size, margin = 480.0, 24.0
	n, _ := pts.Dims()
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := range n {
		x, y := pts.At(i, 0), pts.At(i, 1)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	scale := (size - 2*margin) / span

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%g" height="%g" viewBox="0 0 %g %g">`+"\n", size, size, size, size)
	fmt.Fprintf(&b, `<rect width="100%%" height="100%%" fill="white"/>`+"\n")
	for i := range n {
		cx := margin + (pts.At(i, 0)-minX)*scale
		cy := size - margin - (pts.At(i, 1)-minY)*scale
		fmt.Fprintf(&b, `<circle cx="%.2f" cy="%.2f" r="4" fill="%s" fill-opacity="0.8"><title>class %d</title></circle>`+"\n",
			cx, cy, palette[labels[i]%len(palette)], labels[i])
	}
	b.WriteString("</svg>\n")
	return b.Bytes()
}
