package train

import (
	"github.com/swdee/go-wagonocr/checkpoint"
	"github.com/swdee/go-wagonocr/nafnet"
)

// GradScaler defaults
const (
	DefaultInitScale      = 65536
	DefaultGrowthFactor   = 2
	DefaultBackoffFactor  = 0.5
	DefaultGrowthInterval = 2000
)

// GradScaler implements dynamic loss scaling for half precision training.
// The loss gradient is multiplied by Scale before backward so small values
// survive half precision rounding, gradients are divided by it again before
// the optimizer step and steps with overflowed gradients are skipped.
type GradScaler struct {
	Scale          float32
	GrowthFactor   float32
	BackoffFactor  float32
	GrowthInterval int

	goodSteps int
}

// NewGradScaler returns a scaler with the default schedule
func NewGradScaler() *GradScaler {
	return &GradScaler{
		Scale:          DefaultInitScale,
		GrowthFactor:   DefaultGrowthFactor,
		BackoffFactor:  DefaultBackoffFactor,
		GrowthInterval: DefaultGrowthInterval,
	}
}

// Unscale divides every gradient by the current scale and reports whether
// all gradients are finite
func (s *GradScaler) Unscale(params []nafnet.Param) bool {

	inv := 1 / s.Scale
	finite := true

	for _, p := range params {
		if p.Var.Grad == nil {
			continue
		}

		p.Var.Grad.Scale(inv)

		if !p.Var.Grad.IsFinite() {
			finite = false
		}
	}

	return finite
}

// Update adjusts the scale after a step.  An overflow halves the scale and
// resets the growth counter, GrowthInterval clean steps in a row double it.
func (s *GradScaler) Update(overflow bool) {

	if overflow {
		s.Scale *= s.BackoffFactor
		s.goodSteps = 0
		return
	}

	s.goodSteps++

	if s.goodSteps >= s.GrowthInterval {
		s.Scale *= s.GrowthFactor
		s.goodSteps = 0
	}
}

// State exports the scale for checkpointing
func (s *GradScaler) State() *checkpoint.ScalerState {
	return &checkpoint.ScalerState{Scale: s.Scale, GoodSteps: s.goodSteps}
}

// LoadState restores a scale exported by State
func (s *GradScaler) LoadState(st *checkpoint.ScalerState) {

	if st == nil || st.Scale <= 0 {
		return
	}

	s.Scale = st.Scale
	s.goodSteps = st.GoodSteps
}
