package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/haivivi/voiceenc/pkg/config"
)

// Model maps a batch of feature matrices to embeddings.
//
// Forward caches what Backward needs; a Backward call applies to the most
// recent Forward. Models are not safe for concurrent use.
type Model interface {
	// Forward embeds batch ([N][frames][features]) into [N][EmbeddingDim()].
	Forward(batch [][][]float32) [][]float64
	// Backward accumulates parameter gradients from dLoss/dEmbedding.
	Backward(gradEmb [][]float64)
	Parameters() []*Param
	EmbeddingDim() int
}

// NewModel builds the encoder described by p with weights drawn from seed.
func NewModel(p config.ModelParams, seed uint64) (Model, error) {
	switch p.ModelName {
	case "mlp":
		return NewMLPEncoder(MLPConfig{
			InputDim:  p.InputDim,
			HiddenDim: p.HiddenDim,
			NumLayers: p.NumLayers,
			ProjDim:   p.ProjDim,
			Pooling:   p.Pooling,
		}, rand.New(rand.NewPCG(seed, 0x6d6c70)))
	default:
		return nil, fmt.Errorf("nn: unsupported model %q", p.ModelName)
	}
}
