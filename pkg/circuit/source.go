package circuit

import (
	"math"

	"github.com/edp1096/toy-devsim/pkg/assembly"
)

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

func (t SourceType) String() string {
	switch t {
	case SIN:
		return "SIN"
	case PULSE:
		return "PULSE"
	case PWL:
		return "PWL"
	default:
		return "DC"
	}
}

// Waveform is the time dependence shared by voltage and current sources.
type Waveform struct {
	Type SourceType
	DC   float64
	// SIN
	Amplitude float64
	Freq      float64
	Phase     float64 // degrees
	// PULSE
	V1     float64
	V2     float64
	Delay  float64
	Rise   float64
	Fall   float64
	PWidth float64
	Period float64
	// PWL
	Times  []float64
	Values []float64
}

func (w *Waveform) At(t float64) float64 {
	switch w.Type {
	case SIN:
		phaseRad := w.Phase * math.Pi / 180.0
		return w.DC + w.Amplitude*math.Sin(2.0*math.Pi*w.Freq*t+phaseRad)
	case PULSE:
		return w.pulse(t)
	case PWL:
		return w.pwl(t)
	default:
		return w.DC
	}
}

func (w *Waveform) pulse(t float64) float64 {
	if t < w.Delay {
		return w.V1
	}

	t = t - w.Delay
	if w.Period > 0 {
		t = math.Mod(t, w.Period)
	}

	if t < w.Rise {
		return w.V1 + (w.V2-w.V1)*t/w.Rise
	}
	if t < w.Rise+w.PWidth {
		return w.V2
	}

	fallStart := w.Rise + w.PWidth
	if t < fallStart+w.Fall {
		return w.V2 - (w.V2-w.V1)*(t-fallStart)/w.Fall
	}
	return w.V1
}

func (w *Waveform) pwl(t float64) float64 {
	if len(w.Times) == 0 {
		return 0
	}
	if t <= w.Times[0] {
		return w.Values[0]
	}

	last := len(w.Times) - 1
	if t >= w.Times[last] {
		return w.Values[last]
	}

	for idx := 1; idx < len(w.Times); idx++ {
		if t <= w.Times[idx] {
			t1, t2 := w.Times[idx-1], w.Times[idx]
			v1, v2 := w.Values[idx-1], w.Values[idx]
			return v1 + (v2-v1)/(t2-t1)*(t-t1)
		}
	}
	return w.Values[last]
}

// Breakpoints returns the corner times of the waveform up to stop, so a
// transient can land on them.
func (w *Waveform) Breakpoints(stop float64) []float64 {
	var out []float64
	switch w.Type {
	case PULSE:
		corners := []float64{0, w.Rise, w.Rise + w.PWidth, w.Rise + w.PWidth + w.Fall}
		for start := w.Delay; start < stop; start += w.Period {
			for _, c := range corners {
				if t := start + c; t > 0 && t < stop {
					out = append(out, t)
				}
			}
			if w.Period <= 0 {
				break
			}
		}
	case PWL:
		for _, t := range w.Times {
			if t > 0 && t < stop {
				out = append(out, t)
			}
		}
	}
	return out
}

func phasor(mag, phaseDeg float64) (float64, float64) {
	rad := phaseDeg * math.Pi / 180.0
	return mag * math.Cos(rad), mag * math.Sin(rad)
}

// VoltageSource forces v1 - v2 = V(t) through a branch current unknown.
type VoltageSource struct {
	BaseElement
	Waveform
	acMag     float64
	acPhase   float64
	branchIdx int
}

func newVoltageSource(name string, nodeNames []string, w Waveform) *VoltageSource {
	return &VoltageSource{
		BaseElement: newBase(name, nodeNames, w.At(0)),
		Waveform:    w,
		branchIdx:   -1,
	}
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return newVoltageSource(name, nodeNames, Waveform{Type: DC, DC: value})
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return newVoltageSource(name, nodeNames, Waveform{Type: SIN, DC: offset, Amplitude: amplitude, Freq: freq, Phase: phase})
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return newVoltageSource(name, nodeNames, Waveform{
		Type: PULSE, V1: v1, V2: v2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period,
	})
}

func NewPWLVoltageSource(name string, nodeNames []string, times []float64, values []float64) *VoltageSource {
	return newVoltageSource(name, nodeNames, Waveform{Type: PWL, Times: times, Values: values})
}

func NewACVoltageSource(name string, nodeNames []string, dcValue, acMag, acPhase float64) *VoltageSource {
	v := NewDCVoltageSource(name, nodeNames, dcValue)
	v.acMag, v.acPhase = acMag, acPhase
	return v
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) BranchIndex() int       { return v.branchIdx }
func (v *VoltageSource) SetBranchIndex(idx int) { v.branchIdx = idx }

// SetAC sets the small-signal magnitude and phase in degrees.
func (v *VoltageSource) SetAC(mag, phase float64) { v.acMag, v.acPhase = mag, phase }

// SetValue changes the DC level; time-dependent waveforms become DC.
func (v *VoltageSource) SetValue(value float64) {
	v.Value = value
	v.Waveform = Waveform{Type: DC, DC: value}
}

func (v *VoltageSource) load(s stamp, st *state) {
	if st.mode != assembly.DC {
		return
	}
	n1, n2 := v.Nodes[0], v.Nodes[1]
	b := v.branchIdx

	s.flow(n1, n2, st.v(b))
	s.mat(n1, b, 1)
	s.mat(n2, b, -1)

	s.rhs(b, st.v(n1)-st.v(n2)-v.At(st.time))
	s.mat(b, n1, 1)
	s.mat(b, n2, -1)
}

func (v *VoltageSource) loadAC(s stamp) {
	re, im := phasor(v.acMag, v.acPhase)
	s.excite(v.branchIdx, -re, -im)
}

// CurrentSource drives current into its first node and out of the second.
type CurrentSource struct {
	BaseElement
	Waveform
	acMag   float64
	acPhase float64
}

func newCurrentSource(name string, nodeNames []string, w Waveform) *CurrentSource {
	return &CurrentSource{BaseElement: newBase(name, nodeNames, w.At(0)), Waveform: w}
}

func NewDCCurrentSource(name string, nodeNames []string, value float64) *CurrentSource {
	return newCurrentSource(name, nodeNames, Waveform{Type: DC, DC: value})
}

func NewSinCurrentSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *CurrentSource {
	return newCurrentSource(name, nodeNames, Waveform{Type: SIN, DC: offset, Amplitude: amplitude, Freq: freq, Phase: phase})
}

func NewPulseCurrentSource(name string, nodeNames []string, i1, i2, delay, rise, fall, pWidth, period float64) *CurrentSource {
	return newCurrentSource(name, nodeNames, Waveform{
		Type: PULSE, V1: i1, V2: i2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period,
	})
}

func NewPWLCurrentSource(name string, nodeNames []string, times []float64, values []float64) *CurrentSource {
	return newCurrentSource(name, nodeNames, Waveform{Type: PWL, Times: times, Values: values})
}

func NewACCurrentSource(name string, nodeNames []string, dcValue, acMag, acPhase float64) *CurrentSource {
	i := NewDCCurrentSource(name, nodeNames, dcValue)
	i.acMag, i.acPhase = acMag, acPhase
	return i
}

func (i *CurrentSource) GetType() string { return "I" }

func (i *CurrentSource) SetAC(mag, phase float64) { i.acMag, i.acPhase = mag, phase }

func (i *CurrentSource) SetValue(value float64) {
	i.Value = value
	i.Waveform = Waveform{Type: DC, DC: value}
}

func (i *CurrentSource) load(s stamp, st *state) {
	if st.mode != assembly.DC {
		return
	}
	s.flow(i.Nodes[0], i.Nodes[1], -i.At(st.time))
}

func (i *CurrentSource) loadAC(s stamp) {
	re, im := phasor(i.acMag, i.acPhase)
	s.excite(i.Nodes[0], -re, -im)
	s.excite(i.Nodes[1], re, im)
}
