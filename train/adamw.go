package train

import (
	"github.com/chewxy/math32"

	"github.com/swdee/go-wagonocr/checkpoint"
	"github.com/swdee/go-wagonocr/nafnet"
	"github.com/swdee/go-wagonocr/tensor"
)

// AdamW defaults
const (
	DefaultLR          = 1e-3
	DefaultBeta1       = 0.9
	DefaultBeta2       = 0.9
	DefaultAdamEps     = 1e-8
	DefaultWeightDecay = 1e-4
)

// AdamW is the Adam optimizer with decoupled weight decay
type AdamW struct {
	LR          float32
	Beta1       float32
	Beta2       float32
	Eps         float32
	WeightDecay float32

	step int
	m    map[string]*tensor.Tensor
	v    map[string]*tensor.Tensor
}

// NewAdamW returns an optimizer with the default betas and epsilon
func NewAdamW(lr, weightDecay float32) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       DefaultBeta1,
		Beta2:       DefaultBeta2,
		Eps:         DefaultAdamEps,
		WeightDecay: weightDecay,
		m:           make(map[string]*tensor.Tensor),
		v:           make(map[string]*tensor.Tensor),
	}
}

// Steps returns the number of updates applied
func (o *AdamW) Steps() int {
	return o.step
}

// Step updates every parameter holding a gradient.  Parameters without a
// gradient are left untouched.
func (o *AdamW) Step(params []nafnet.Param) {

	o.step++

	bc1 := 1 - math32.Pow(o.Beta1, float32(o.step))
	bc2 := 1 - math32.Pow(o.Beta2, float32(o.step))
	decay := 1 - o.LR*o.WeightDecay

	for _, p := range params {
		grad := p.Var.Grad

		if grad == nil {
			continue
		}

		m, ok := o.m[p.Name]

		if !ok {
			m = grad.ZerosLike()
			o.m[p.Name] = m
		}

		v, ok := o.v[p.Name]

		if !ok {
			v = grad.ZerosLike()
			o.v[p.Name] = v
		}

		w := p.Var.Value.Data

		for i, g := range grad.Data {
			w[i] *= decay

			m.Data[i] = o.Beta1*m.Data[i] + (1-o.Beta1)*g
			v.Data[i] = o.Beta2*v.Data[i] + (1-o.Beta2)*g*g

			mHat := m.Data[i] / bc1
			vHat := v.Data[i] / bc2

			w[i] -= o.LR * mHat / (math32.Sqrt(vHat) + o.Eps)
		}
	}
}

// State exports the moment estimates for checkpointing
func (o *AdamW) State() *checkpoint.OptimizerState {
	return &checkpoint.OptimizerState{
		Step: o.step,
		LR:   o.LR,
		M:    checkpoint.FromTensors(o.m),
		V:    checkpoint.FromTensors(o.v),
	}
}

// LoadState restores moment estimates exported by State
func (o *AdamW) LoadState(s *checkpoint.OptimizerState) {

	if s == nil {
		return
	}

	o.step = s.Step
	o.LR = s.LR
	o.m = checkpoint.ToTensors(s.M)
	o.v = checkpoint.ToTensors(s.V)
}
