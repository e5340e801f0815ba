package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var errNoForward = errors.New("model: backward called before forward")

// Layer is one stage of a Sequential model.
type Layer interface {
	Forward(x *mat.Dense, training bool) (*mat.Dense, error)
	Backward(grad *mat.Dense) (*mat.Dense, error)
	Parameters() []*Parameter
}

// Linear computes x·Wᵀ + b.
type Linear struct {
	in, out int
	weight  *Parameter
	bias    *Parameter
	input   *mat.Dense
}

// NewLinear initialises weights uniformly in ±sqrt(6/(in+out)) and biases to zero.
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	bound := math.Sqrt(6.0 / float64(in+out))
	weights := make([]float64, out*in)
	for i := range weights {
		weights[i] = (rng.Float64()*2 - 1) * bound
	}
	return &Linear{
		in:     in,
		out:    out,
		weight: NewParameter(name+".weight", out, in, weights),
		bias:   NewParameter(name+".bias", 1, out, nil),
	}
}

func (l *Linear) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != l.in {
		return nil, fmt.Errorf("model: linear %s expects %d inputs, got %d", l.weight.Name, l.in, cols)
	}
	l.input = x
	out := mat.NewDense(rows, l.out, nil)
	out.Mul(x, l.weight.Value.T())
	bias := l.bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), bias)
	}
	return out, nil
}

func (l *Linear) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, errNoForward
	}
	rows, cols := grad.Dims()
	if cols != l.out {
		return nil, fmt.Errorf("model: linear %s gradient has %d columns, want %d", l.weight.Name, cols, l.out)
	}
	var dw mat.Dense
	dw.Mul(grad.T(), l.input)
	l.weight.Grad.Add(l.weight.Grad, &dw)

	db := l.bias.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(db, grad.RawRowView(i))
	}

	dx := mat.NewDense(rows, l.in, nil)
	dx.Mul(grad, l.weight.Value)
	return dx, nil
}

func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// ReLU is the rectifier activation.
type ReLU struct {
	input *mat.Dense
}

func (r *ReLU) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	r.input = x
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, v)
	}, x)
	return out, nil
}

func (r *ReLU) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if r.input == nil {
		return nil, errNoForward
	}
	rows, cols := grad.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(i, j int, g float64) float64 {
		if r.input.At(i, j) > 0 {
			return g
		}
		return 0
	}, grad)
	return out, nil
}

func (r *ReLU) Parameters() []*Parameter { return nil }

// Dropout zeroes activations with probability rate while training and
// rescales the survivors. It is the identity in inference mode.
type Dropout struct {
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{rate: rate, rng: rng}
}

func (d *Dropout) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	if !training || d.rate <= 0 {
		d.mask = nil
		return x, nil
	}
	rows, cols := x.Dims()
	keep := 1 / (1 - d.rate)
	d.mask = mat.NewDense(rows, cols, nil)
	d.mask.Apply(func(_, _ int, _ float64) float64 {
		if d.rng.Float64() < d.rate {
			return 0
		}
		return keep
	}, d.mask)
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(x, d.mask)
	return out, nil
}

func (d *Dropout) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if d.mask == nil {
		return grad, nil
	}
	rows, cols := grad.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(grad, d.mask)
	return out, nil
}

func (d *Dropout) Parameters() []*Parameter { return nil }
