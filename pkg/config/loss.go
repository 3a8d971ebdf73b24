package config

import "fmt"

// LossKind selects the metric-learning objective.
type LossKind string

const (
	// LossGE2E is the generalized end-to-end loss (softmax method).
	LossGE2E LossKind = "ge2e"
	// LossAngleProto is the angular prototypical loss.
	LossAngleProto LossKind = "angleproto"
	// LossSoftmaxProto combines a softmax classification head with
	// the angular prototypical loss.
	LossSoftmaxProto LossKind = "softmaxproto"
)

// LossKinds lists every supported loss in declaration order.
var LossKinds = []LossKind{LossGE2E, LossAngleProto, LossSoftmaxProto}

// ParseLossKind returns the LossKind named s.
func ParseLossKind(s string) (LossKind, error) {
	k := LossKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("config: unsupported loss %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of LossKinds.
func (k LossKind) Valid() bool {
	switch k {
	case LossGE2E, LossAngleProto, LossSoftmaxProto:
		return true
	}
	return false
}

// Learned reports whether the loss carries a softmax head whose size
// depends on the number of classes in the dataset.
func (k LossKind) Learned() bool {
	return k == LossSoftmaxProto
}

func (k LossKind) String() string { return string(k) }
