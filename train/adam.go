package train

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-pitch/config"
	"github.com/RyanBlaney/sonido-pitch/model"
)

// Adam keeps the first and second moment estimates for every parameter.
// Weight decay is an L2 term added to the gradient.
type Adam struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	m *model.Params
	v *model.Params
	t int
}

// NewAdam creates an optimizer for parameters shaped by c
func NewAdam(cfg config.TrainConfig, c model.Config) *Adam {
	return &Adam{
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		epsilon:     cfg.AdamEpsilon,
		weightDecay: cfg.WeightDecay,
		m:           model.Zeros(c),
		v:           model.Zeros(c),
	}
}

// Steps is the number of updates applied so far
func (a *Adam) Steps() int { return a.t }

// Update applies one step with learning rate lr. grads must already be
// unscaled; it is consumed.
func (a *Adam) Update(p, grads *model.Params, lr float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	params, gs := p.Tensors(), grads.Tensors()
	ms, vs := a.m.Tensors(), a.v.Tensors()
	for i := range params {
		w := params[i].M.RawMatrix().Data
		g := gs[i].M.RawMatrix().Data
		m := ms[i].M.RawMatrix().Data
		v := vs[i].M.RawMatrix().Data

		if a.weightDecay != 0 {
			floats.AddScaled(g, a.weightDecay, w)
		}
		for j := range w {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			w[j] -= lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.epsilon)
		}
	}
}
