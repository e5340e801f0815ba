package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Sequential chains layers and implements Model.
type Sequential struct {
	layers   []Layer
	training bool
}

// NewSequential builds a model in training mode.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers, training: true}
}

// NewShipNet constructs the ship/no-ship classifier: a two layer perceptron
// with dropout between the layers.
func NewShipNet(inputSize, hidden, numClasses int, dropout float64, seed int64) (*Sequential, error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("model: input size must be > 0 (got %d)", inputSize)
	}
	if hidden <= 0 {
		hidden = 64
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("model: need at least 2 classes (got %d)", numClasses)
	}
	if dropout < 0 || dropout >= 1 {
		return nil, fmt.Errorf("model: dropout must be in [0, 1) (got %g)", dropout)
	}
	rng := rand.New(rand.NewSource(seed))
	return NewSequential(
		NewLinear("fc1", inputSize, hidden, rng),
		&ReLU{},
		NewDropout(dropout, rng),
		NewLinear("fc2", hidden, numClasses, rng),
	), nil
}

func (m *Sequential) Forward(inputs *mat.Dense) (*mat.Dense, error) {
	out := inputs
	for i, layer := range m.layers {
		var err error
		out, err = layer.Forward(out, m.training)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return out, nil
}

func (m *Sequential) Backward(gradOutput *mat.Dense) error {
	grad := gradOutput
	for i := len(m.layers) - 1; i >= 0; i-- {
		var err error
		grad, err = m.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

func (m *Sequential) Train() { m.training = true }

func (m *Sequential) Eval() { m.training = false }

func (m *Sequential) Training() bool { return m.training }

func (m *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range m.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

func (m *Sequential) StateDict() Snapshot {
	return NewSnapshot(m.Parameters())
}

func (m *Sequential) LoadStateDict(s Snapshot) error {
	return s.LoadInto(m.Parameters())
}
