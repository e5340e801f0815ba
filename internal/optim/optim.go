package optim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"shipnet/internal/model"
)

// Optimizer updates the parameters it was constructed with from their
// accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step() error
}

// SGD is stochastic gradient descent with optional momentum and L2 weight decay.
type SGD struct {
	params      []*model.Parameter
	lr          float64
	momentum    float64
	weightDecay float64
	velocities  map[*model.Parameter]*mat.Dense
}

// NewSGD binds an optimizer to params.
func NewSGD(params []*model.Parameter, lr, momentum, weightDecay float64) *SGD {
	s := &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocities:  make(map[*model.Parameter]*mat.Dense),
	}
	if momentum > 0 {
		for _, p := range params {
			rows, cols := p.Value.Dims()
			s.velocities[p] = mat.NewDense(rows, cols, nil)
		}
	}
	return s
}

// LR returns the learning rate.
func (s *SGD) LR() float64 { return s.lr }

func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

func (s *SGD) Step() error {
	for _, p := range s.params {
		if p.Grad == nil {
			continue
		}
		vr, vc := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if vr != gr || vc != gc {
			return fmt.Errorf("optim: %s gradient %dx%d does not match value %dx%d", p.Name, gr, gc, vr, vc)
		}

		step := mat.DenseCopyOf(p.Grad)
		if s.weightDecay > 0 {
			var decay mat.Dense
			decay.Scale(s.weightDecay, p.Value)
			step.Add(step, &decay)
		}
		if v, ok := s.velocities[p]; ok {
			v.Scale(s.momentum, v)
			v.Add(v, step)
			step = v
		}

		var delta mat.Dense
		delta.Scale(s.lr, step)
		p.Value.Sub(p.Value, &delta)
	}
	return nil
}
