package newton

import (
	"gonum.org/v1/gonum/floats"
)

// Time history slots.
const (
	TM0 = iota
	TM1
	TM2
)

// TimeHistory holds assembled charge and resistive current per equation at
// the current and two previous time points. It rotates only when a step
// is accepted.
type TimeHistory struct {
	size  int
	Q     [3][]float64
	I     [3][]float64
	Times [3]float64
	valid [3]bool
}

func NewTimeHistory(size int) *TimeHistory {
	h := &TimeHistory{}
	h.resize(size)
	return h
}

func (h *TimeHistory) resize(size int) {
	h.size = size
	for k := 0; k < 3; k++ {
		h.Q[k] = make([]float64, size)
		h.I[k] = make([]float64, size)
		h.valid[k] = false
	}
}

func (h *TimeHistory) Size() int        { return h.size }
func (h *TimeHistory) Valid(k int) bool { return h.valid[k] }

// Initialize seeds TM1 from a converged DC solution at time t.
func (h *TimeHistory) Initialize(q, i []float64, t float64) {
	if len(q) != h.size {
		h.resize(len(q))
	}
	copy(h.Q[TM1], q)
	copy(h.I[TM1], i)
	h.Times[TM1] = t
	h.valid[TM1] = true
	h.valid[TM0] = false
	h.valid[TM2] = false
}

// PreviousStep returns TM1 - TM2, or 0 when TM2 is not available.
func (h *TimeHistory) PreviousStep() float64 {
	if !h.valid[TM1] || !h.valid[TM2] {
		return 0
	}
	return h.Times[TM1] - h.Times[TM2]
}

// Project extrapolates the charge linearly from TM2 and TM1 to time t.
func (h *TimeHistory) Project(t float64, dst []float64) bool {
	hp := h.PreviousStep()
	if hp <= 0 {
		return false
	}
	ratio := (t - h.Times[TM1]) / hp
	copy(dst, h.Q[TM1])
	floats.AddScaled(dst, ratio, h.Q[TM1])
	floats.AddScaled(dst, -ratio, h.Q[TM2])
	return true
}

// Accept stores the new point in TM0 and rotates TM1 into TM2 and TM0 into
// TM1.
func (h *TimeHistory) Accept(q, i []float64, t float64) {
	copy(h.Q[TM0], q)
	copy(h.I[TM0], i)
	h.Times[TM0] = t
	h.valid[TM0] = true

	h.Q[TM2], h.Q[TM1], h.Q[TM0] = h.Q[TM1], h.Q[TM0], h.Q[TM2]
	h.I[TM2], h.I[TM1], h.I[TM0] = h.I[TM1], h.I[TM0], h.I[TM2]
	h.Times[TM2], h.Times[TM1] = h.Times[TM1], h.Times[TM0]
	h.valid[TM2], h.valid[TM1], h.valid[TM0] = h.valid[TM1], true, false
}
