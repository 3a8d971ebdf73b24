package voiceprint

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Hasher maps embeddings to hex labels with random hyperplane LSH.
//
// Each of the bits hyperplanes contributes one bit, set when the
// embedding lies on its positive side. Nearby embeddings share most bits,
// so prefixes of the label give progressively coarser groupings.
type Hasher struct {
	dim    int
	bits   int
	planes [][]float64 // bits × dim, unit rows
}

// NewHasher creates a Hasher for dim-sized embeddings. bits must be a
// positive multiple of 4. A fixed seed gives labels that are stable
// across runs.
func NewHasher(dim, bits int, seed uint64) (*Hasher, error) {
	if bits <= 0 || bits%4 != 0 {
		return nil, fmt.Errorf("voiceprint: bits must be a positive multiple of 4, got %d", bits)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("voiceprint: dim must be positive, got %d", dim)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
	planes := make([][]float64, bits)
	for i := range planes {
		plane := make([]float64, dim)
		for j := range plane {
			plane[j] = rng.NormFloat64()
		}
		if n := floats.Norm(plane, 2); n > 0 {
			floats.Scale(1/n, plane)
		}
		planes[i] = plane
	}
	return &Hasher{dim: dim, bits: bits, planes: planes}, nil
}

// Hash returns the uppercase hex label of embedding, bits/4 characters
// long.
func (h *Hasher) Hash(embedding []float64) (string, error) {
	if len(embedding) != h.dim {
		return "", fmt.Errorf("voiceprint: embedding has %d dimensions, want %d", len(embedding), h.dim)
	}
	var b strings.Builder
	var nibble byte
	for i, plane := range h.planes {
		nibble <<= 1
		if floats.Dot(plane, embedding) > 0 {
			nibble |= 1
		}
		if i%4 == 3 {
			b.WriteByte("0123456789ABCDEF"[nibble])
			nibble = 0
		}
	}
	return b.String(), nil
}

// Bits returns the number of hash bits.
func (h *Hasher) Bits() int { return h.bits }

// Dim returns the expected embedding dimension.
func (h *Hasher) Dim() int { return h.dim }
