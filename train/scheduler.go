package train

import (
	"math"

	"github.com/swdee/go-wagonocr/checkpoint"
)

// DefaultEtaMin is the learning rate floor of the cosine schedule
const DefaultEtaMin = 1e-7

// CosineScheduler anneals the learning rate from BaseLR to EtaMin over TMax
// epochs following half a cosine period
type CosineScheduler struct {
	BaseLR    float32
	EtaMin    float32
	TMax      int
	LastEpoch int
}

// NewCosineScheduler returns a schedule positioned at epoch zero
func NewCosineScheduler(baseLR, etaMin float32, tMax int) *CosineScheduler {
	return &CosineScheduler{
		BaseLR: baseLR,
		EtaMin: etaMin,
		TMax:   max(tMax, 1),
	}
}

// LRAt returns the learning rate for the given epoch, clamped at TMax
func (s *CosineScheduler) LRAt(epoch int) float32 {

	e := min(max(epoch, 0), s.TMax)
	cos := math.Cos(math.Pi * float64(e) / float64(s.TMax))

	return s.EtaMin + float32(float64(s.BaseLR-s.EtaMin)*(1+cos)/2)
}

// LR returns the current learning rate
func (s *CosineScheduler) LR() float32 {
	return s.LRAt(s.LastEpoch)
}

// Step advances one epoch and returns the new learning rate
func (s *CosineScheduler) Step() float32 {
	s.LastEpoch++
	return s.LR()
}

// State exports the schedule position
func (s *CosineScheduler) State() *checkpoint.SchedulerState {
	return &checkpoint.SchedulerState{
		BaseLR:    s.BaseLR,
		EtaMin:    s.EtaMin,
		TMax:      s.TMax,
		LastEpoch: s.LastEpoch,
	}
}

// LoadState restores a position exported by State.  The configured TMax is
// kept so training can be extended past the original epoch count.
func (s *CosineScheduler) LoadState(st *checkpoint.SchedulerState) {

	if st == nil {
		return
	}

	s.LastEpoch = st.LastEpoch
}
