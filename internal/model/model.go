package model

import "gonum.org/v1/gonum/mat"

// Batch represents a minibatch of features and labels. Each row of Inputs
// is one sample.
type Batch struct {
	Inputs *mat.Dense
	Labels []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	if b.Inputs == nil {
		return 0
	}
	rows, _ := b.Inputs.Dims()
	return rows
}

// Model is a trainable classifier mapping an input batch to class scores.
type Model interface {
	// Forward returns one row of class scores per input row.
	Forward(inputs *mat.Dense) (*mat.Dense, error)
	// Backward accumulates parameter gradients from the gradient of the loss
	// with respect to the last Forward output.
	Backward(gradOutput *mat.Dense) error
	Train()
	Eval()
	Training() bool
	Parameters() []*Parameter
	StateDict() Snapshot
	LoadStateDict(s Snapshot) error
}

// Parameter is a named trainable matrix with its gradient accumulator.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a parameter and a zeroed gradient of the same shape.
// data may be nil.
func NewParameter(name string, rows, cols int, data []float64) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, data),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	if p.Grad != nil {
		p.Grad.Zero()
	}
}
